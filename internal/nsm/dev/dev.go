// Package dev implements a development-mode Nitro Secure Module.  It answers
// DescribePCR and Attestation requests from an emulated PCR bank and signs
// attestation documents with a developer-controlled PKI.  Every other request
// is refused with InvalidOperation.
package dev

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
)

var _ nsm.Module = (*Emulator)(nil)

// Emulator is the development-mode Module.
type Emulator struct {
	bank    *pcr.Bank
	builder *attestation.Builder
	log     zerolog.Logger
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithLogger sets the emulator's logger.  By default, nothing is logged.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Emulator) {
		e.log = l
	}
}

// New returns a new Emulator that serves measurements from bank and signs
// attestation documents with builder.
func New(bank *pcr.Bank, builder *attestation.Builder, opts ...Option) (*Emulator, error) {
	if bank == nil || builder == nil {
		return nil, errs.IsNil
	}
	e := &Emulator{
		bank:    bank,
		builder: builder,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Process answers the given request.
func (e *Emulator) Process(req nsm.Request) nsm.Response {
	if req == nil {
		return nsm.Err(nsm.InvalidArgument)
	}
	e.log.Debug().Str("kind", string(req.Kind())).Msg("Processing request.")

	switch r := req.(type) {
	case nsm.DescribePCR:
		return e.describePCR(r)
	case nsm.Attestation:
		return e.attest(r)
	case nsm.ExtendPCR, nsm.LockPCR, nsm.LockPCRs, nsm.DescribeNSM, nsm.GetRandom:
		e.log.Warn().Str("kind", string(req.Kind())).Msg("Request is not supported in development mode.")
		return nsm.Err(nsm.InvalidOperation)
	}
	return nsm.Err(nsm.InvalidOperation)
}

// Close is a no-op.
func (e *Emulator) Close() error {
	return nil
}

func (e *Emulator) describePCR(r nsm.DescribePCR) nsm.Response {
	reg, err := e.bank.Describe(r.Index)
	if err != nil {
		return nsm.Err(nsm.InvalidIndex)
	}
	return nsm.DescribePCRResponse{
		Lock: reg.Locked,
		Data: reg.Value,
	}
}

func (e *Emulator) attest(r nsm.Attestation) nsm.Response {
	doc, err := e.builder.Attest(e.bank.Snapshot(), e.bank.Digest(), &attestation.AuxInfo{
		PublicKey: r.PublicKey,
		UserData:  r.UserData,
		Nonce:     r.Nonce,
	})
	if errors.Is(err, attestation.ErrInputTooLarge) {
		return nsm.Err(nsm.InputTooLarge)
	}
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to create attestation document.")
		return nsm.Err(nsm.InternalError)
	}
	return nsm.AttestationResponse{Document: doc}
}
