package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
)

const (
	labelKind   = "kind"
	labelResult = "result"
	resultOK    = "ok"
	kindUnknown = "unknown"
)

// instrumented wraps a Module and counts the requests that it processes.
type instrumented struct {
	nsm.Module
	requests *prometheus.CounterVec
}

// Instrument returns a Module that forwards every request to m and counts
// requests by kind and result in the given registry.
func Instrument(m nsm.Module, reg prometheus.Registerer) (nsm.Module, error) {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nsm",
			Name:      "requests_total",
			Help:      "Total number of NSM requests by kind and result",
		},
		[]string{labelKind, labelResult},
	)
	if err := reg.Register(requests); err != nil {
		return nil, err
	}
	return &instrumented{Module: m, requests: requests}, nil
}

func (i *instrumented) Process(req nsm.Request) nsm.Response {
	resp := i.Module.Process(req)

	kind := kindUnknown
	if req != nil {
		kind = string(req.Kind())
	}
	result := resultOK
	if e, ok := resp.(nsm.ErrorResponse); ok {
		result = string(e.Code)
	}
	i.requests.WithLabelValues(kind, result).Inc()

	return resp
}
