package service

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/config"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/service/handle"
)

// URL paths of the service.
const (
	PathIndex       = "/enclave"
	PathConfig      = "/enclave/config"
	PathAttestation = "/enclave/attestation"
	PathPCR         = "/enclave/pcr/{" + handle.ParamIndex + "}"
	PathNSM         = "/enclave/nsm"
	PathMetrics     = "/metrics"
)

// publicConfig is the part of the server's configuration that clients get to
// see.  Key material and file paths stay private.
type publicConfig struct {
	DevMode  bool   `json:"dev_mode"`
	ModuleID string `json:"module_id,omitempty"`
	PCRMode  string `json:"pcr_mode,omitempty"`
	PCRCount int    `json:"pcr_count,omitempty"`
	Digest   string `json:"digest,omitempty"`
}

func toPublic(cfg *config.Server) publicConfig {
	if !cfg.DevMode {
		return publicConfig{}
	}
	return publicConfig{
		DevMode:  true,
		ModuleID: cfg.ModuleID,
		PCRMode:  cfg.PCRMode,
		PCRCount: cfg.PCRCount,
		Digest:   cfg.Digest,
	}
}

// New returns the service's HTTP handler.  Requests to the given module are
// counted in a registry that is exposed at PathMetrics.
func New(cfg *config.Server, m nsm.Module) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	m, err := Instrument(m, reg)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	if cfg.Debug {
		r.Use(middleware.Logger)
	}

	r.Get(PathIndex, handle.Index(cfg.DevMode))
	r.Get(PathConfig, handle.Config(m, toPublic(cfg)))
	r.Get(PathAttestation, handle.Attestation(m))
	r.Get(PathPCR, handle.DescribePCR(m))
	r.Post(PathNSM, handle.NSM(m))
	r.Handle(PathMetrics, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r, nil
}
