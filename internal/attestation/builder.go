package attestation

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/veraison/go-cose"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
)

// DefaultModuleID is the module ID of emulated attestation documents.  It
// makes development documents easy to tell apart from genuine ones.
const DefaultModuleID = "unsecure-development-attestation-document"

// X5ChainLabel is the COSE header label of the certificate chain, as
// registered in RFC 9360.
const X5ChainLabel int64 = 33

// coseSign1Tag is the encoding of CBOR tag 18, which marks a COSE_Sign1
// message.  Genuine hardware emits untagged messages.
const coseSign1Tag = 0xd2

var ErrInputTooLarge = errors.New("input too large")

// Limits caps the length of the auxiliary fields of attestation requests.
// Each limit is capped at AuxFieldLen, and a limit that isn't positive means
// AuxFieldLen.
type Limits struct {
	UserData  int
	Nonce     int
	PublicKey int
}

// DefaultLimits returns the limits of genuine hardware.
func DefaultLimits() Limits {
	return Limits{
		UserData:  AuxFieldLen,
		Nonce:     AuxFieldLen,
		PublicKey: AuxFieldLen,
	}
}

func (l Limits) check(aux *AuxInfo) error {
	fields := []struct {
		name  string
		value []byte
		max   int
	}{
		{"user_data", aux.UserData, l.UserData},
		{"nonce", aux.Nonce, l.Nonce},
		{"public_key", aux.PublicKey, l.PublicKey},
	}
	for _, f := range fields {
		limit := effectiveLimit(f.max)
		if len(f.value) > limit {
			return fmt.Errorf("%w: %s has %d bytes but must not exceed %d",
				ErrInputTooLarge, f.name, len(f.value), limit)
		}
	}
	return nil
}

func effectiveLimit(n int) int {
	if n <= 0 {
		return AuxFieldLen
	}
	return min(n, AuxFieldLen)
}

// Builder assembles attestation documents and signs them with a signing
// identity.  A Builder is safe for concurrent use.
type Builder struct {
	identity *Identity
	moduleID string
	limits   Limits
	now      func() time.Time
	rand     io.Reader
}

// Option configures a Builder.
type Option func(*Builder)

// WithModuleID sets the module ID of built documents.
func WithModuleID(id string) Option {
	return func(b *Builder) {
		b.moduleID = id
	}
}

// WithLimits sets the size limits of the auxiliary fields.
func WithLimits(l Limits) Option {
	return func(b *Builder) {
		b.limits = l
	}
}

// WithClock sets the function that timestamps documents.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder returns a new Builder that signs with the given identity.
func NewBuilder(id *Identity, opts ...Option) (*Builder, error) {
	if id == nil {
		return nil, errs.IsNil
	}
	b := &Builder{
		identity: id,
		moduleID: DefaultModuleID,
		limits:   DefaultLimits(),
		now:      time.Now,
		rand:     rand.Reader,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build assembles an unsigned attestation document over the given PCR values
// and auxiliary information.
func (b *Builder) Build(pcrs pcr.Values, digest pcr.Digest, aux *AuxInfo) (_ *Document, err error) {
	defer errs.Wrap(&err, "failed to build attestation document")

	if aux == nil {
		aux = &AuxInfo{}
	}
	if err := b.limits.check(aux); err != nil {
		return nil, err
	}
	if !digest.Valid() {
		return nil, fmt.Errorf("%w: %q", pcr.ErrInvalidDigest, digest)
	}

	return &Document{
		ModuleID:    b.moduleID,
		Digest:      digest,
		Timestamp:   uint64(b.now().UnixMilli()),
		PCRs:        pcrs,
		Certificate: b.identity.Certificate(),
		CABundle:    b.identity.CABundle(),
		AuxInfo:     *aux,
	}, nil
}

// Sign encodes the given document and wraps it in an untagged COSE_Sign1
// envelope that is signed with ES384.  The unprotected header carries the
// end-entity certificate followed by the intermediates.
func (b *Builder) Sign(doc *Document) (_ []byte, err error) {
	defer errs.Wrap(&err, "failed to sign attestation document")

	payload, err := doc.Encode()
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, b.identity.key)
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES384)
	msg.Headers.Unprotected[X5ChainLabel] = b.x5chain()
	msg.Payload = payload
	if err := msg.Sign(b.rand, nil, signer); err != nil {
		return nil, err
	}

	raw, err := msg.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0] != coseSign1Tag {
		return nil, errs.InvalidFormat
	}
	return raw[1:], nil
}

// Attest builds and signs an attestation document in one go.
func (b *Builder) Attest(pcrs pcr.Values, digest pcr.Digest, aux *AuxInfo) ([]byte, error) {
	doc, err := b.Build(pcrs, digest, aux)
	if err != nil {
		return nil, err
	}
	return b.Sign(doc)
}

// x5chain returns the value of the x5chain header: a single certificate is a
// byte string and a chain is an array of byte strings.
func (b *Builder) x5chain() any {
	bundle := b.identity.CABundle()
	if len(bundle) == 0 {
		return b.identity.Certificate()
	}
	chain := []any{b.identity.Certificate()}
	for _, c := range bundle {
		chain = append(chain, c)
	}
	return chain
}

// X5Chain returns the value of the x5chain header in the given header map.
// Decoders differ in the integer type they use for labels, so all of them are
// accepted.
func X5Chain(header map[any]any) (any, bool) {
	for label, value := range header {
		switch l := label.(type) {
		case int64:
			if l == X5ChainLabel {
				return value, true
			}
		case uint64:
			if l == uint64(X5ChainLabel) {
				return value, true
			}
		case int:
			if int64(l) == X5ChainLabel {
				return value, true
			}
		}
	}
	return nil, false
}
