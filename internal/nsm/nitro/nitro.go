// Package nitro implements a Module that forwards every request to the Nitro
// Secure Module of a genuine enclave, via /dev/nsm.
package nitro

import (
	"sync"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
	"github.com/rs/zerolog"

	nsmproto "github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
)

var _ nsmproto.Module = (*Module)(nil)

type session interface {
	Send(request.Request) (response.Response, error)
	Close() error
}

// Module is the passthrough Module.  The session to the hardware is opened
// lazily, on the first request, so that constructing a Module outside of an
// enclave doesn't fail.
type Module struct {
	mu     sync.Mutex
	open   func() (session, error)
	sess   session
	closed bool
	log    zerolog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the module's logger.  By default, nothing is logged.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Module) {
		m.log = l
	}
}

// New returns a new passthrough Module.
func New(opts ...Option) *Module {
	m := &Module{
		open: func() (session, error) {
			return nsm.OpenDefaultSession()
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process forwards the given request to the hardware and returns its
// response.  Failure to reach the hardware results in InternalError.
func (m *Module) Process(req nsmproto.Request) nsmproto.Response {
	hwReq, ok := toHardware(req)
	if !ok {
		return nsmproto.Err(nsmproto.InvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nsmproto.Err(nsmproto.InternalError)
	}
	if m.sess == nil {
		sess, err := m.open()
		if err != nil {
			m.log.Error().Err(err).Msg("Failed to open NSM session.")
			return nsmproto.Err(nsmproto.InternalError)
		}
		m.sess = sess
	}

	res, err := m.sess.Send(hwReq)
	if err != nil {
		m.log.Error().Err(err).Str("kind", string(req.Kind())).Msg("Failed to send request to NSM.")
		return nsmproto.Err(nsmproto.InternalError)
	}
	return fromHardware(req.Kind(), res)
}

// Close closes the session to the hardware, if any.  Subsequent requests fail
// with InternalError.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.sess == nil {
		return nil
	}
	err := m.sess.Close()
	m.sess = nil
	return err
}

func toHardware(req nsmproto.Request) (request.Request, bool) {
	switch r := req.(type) {
	case nsmproto.DescribeNSM:
		return &request.DescribeNSM{}, true
	case nsmproto.DescribePCR:
		return &request.DescribePCR{Index: r.Index}, true
	case nsmproto.ExtendPCR:
		return &request.ExtendPCR{Index: r.Index, Data: r.Data}, true
	case nsmproto.LockPCR:
		return &request.LockPCR{Index: r.Index}, true
	case nsmproto.LockPCRs:
		return &request.LockPCRs{Range: r.Range}, true
	case nsmproto.GetRandom:
		return &request.GetRandom{}, true
	case nsmproto.Attestation:
		return &request.Attestation{
			UserData:  r.UserData,
			Nonce:     r.Nonce,
			PublicKey: r.PublicKey,
		}, true
	}
	return nil, false
}

func fromHardware(kind nsmproto.Kind, res response.Response) nsmproto.Response {
	switch {
	case res.Error != "":
		code := nsmproto.ErrorCode(res.Error)
		if !code.Valid() {
			return nsmproto.Err(nsmproto.InternalError)
		}
		return nsmproto.Err(code)
	case res.DescribePCR != nil:
		return nsmproto.DescribePCRResponse{
			Lock: res.DescribePCR.Lock,
			Data: res.DescribePCR.Data,
		}
	case res.ExtendPCR != nil:
		return nsmproto.ExtendPCRResponse{Data: res.ExtendPCR.Data}
	case res.DescribeNSM != nil:
		d := res.DescribeNSM
		return nsmproto.DescribeNSMResponse{
			VersionMajor: d.VersionMajor,
			VersionMinor: d.VersionMinor,
			VersionPatch: d.VersionPatch,
			ModuleID:     d.ModuleID,
			MaxPCRs:      d.MaxPCRs,
			LockedPCRs:   d.LockedPCRs,
			Digest:       string(d.Digest),
		}
	case res.GetRandom != nil:
		return nsmproto.GetRandomResponse{Random: res.GetRandom.Random}
	case res.Attestation != nil:
		return nsmproto.AttestationResponse{Document: res.Attestation.Document}
	// Variants without fields carry nothing but their tag, so we rely on the
	// request's kind.
	case kind == nsmproto.KindLockPCR:
		return nsmproto.LockPCRResponse{}
	case kind == nsmproto.KindLockPCRs:
		return nsmproto.LockPCRsResponse{}
	}
	return nsmproto.Err(nsmproto.InvalidResponse)
}
