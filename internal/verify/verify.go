// Package verify verifies attestation documents against a configurable root
// of trust.  The same code path verifies genuine documents (rooted at AWS) and
// development documents (rooted at a developer's own PKI).
package verify

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/veraison/go-cose"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
)

// coseSign1Tag is the encoding of CBOR tag 18, which marks a COSE_Sign1
// message.
const coseSign1Tag = 0xd2

var (
	ErrDecode           = errors.New("malformed COSE_Sign1 envelope")
	ErrChainValidation  = errors.New("certificate chain validation failed")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed attestation document")
)

// Result is a successful verification result.
type Result struct {
	// Document contains the attestation document.
	Document *attestation.Document `json:"document"`
	// Certificates contains all of the certificates except the root, starting
	// with the end-entity certificate.
	Certificates []*x509.Certificate `json:"-"`
}

// Verifier verifies attestation documents.  A Verifier holds no mutable state
// and can be used concurrently.
type Verifier struct {
	root *TrustRoot
	now  func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTime sets the time at which certificate validity is evaluated.
func WithTime(t time.Time) Option {
	return func(v *Verifier) {
		v.now = func() time.Time { return t }
	}
}

// New returns a new Verifier that anchors certificate chains at root.
func New(root *TrustRoot, opts ...Option) (*Verifier, error) {
	if root == nil {
		return nil, errs.IsNil
	}
	v := &Verifier{
		root: root,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify verifies the given attestation document with a one-off Verifier.
func Verify(data []byte, root *TrustRoot) (*attestation.Document, error) {
	v, err := New(root)
	if err != nil {
		return nil, err
	}
	res, err := v.Verify(data)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Verify parses the given COSE_Sign1 envelope, validates the certificate
// chain that it carries against the trust root, verifies the envelope's
// signature, and returns the decoded attestation document.  Both tagged and
// untagged envelopes are accepted.  Revocation checks are NOT performed.
func (v *Verifier) Verify(data []byte) (_ *Result, err error) {
	defer errs.Wrap(&err, "failed to verify attestation document")

	msg, err := decodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	ders, inPayload, err := chainOf(msg)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(ders[0])
	if err != nil {
		if inPayload {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrChainValidation, err)
	}

	// A chain taken from the payload is covered by the signature, so nothing
	// in it is looked at before the signature checks out.
	if inPayload {
		if err := verifySignature(msg, leaf); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
		}
	}

	certs := []*x509.Certificate{leaf}
	for _, der := range ders[1:] {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrChainValidation, err)
		}
		certs = append(certs, c)
	}
	if err := v.validateChain(certs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChainValidation, err)
	}

	if !inPayload {
		if err := verifySignature(msg, leaf); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
		}
	}

	doc, err := attestation.DecodeDocument(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if err := matchesChain(doc, certs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	return &Result{
		Document:     doc,
		Certificates: certs,
	}, nil
}

func decodeEnvelope(data []byte) (*cose.Sign1Message, error) {
	if len(data) == 0 {
		return nil, errors.New("envelope is empty")
	}
	if data[0] != coseSign1Tag {
		data = append([]byte{coseSign1Tag}, data...)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	if len(msg.Payload) == 0 {
		return nil, errors.New("COSE_Sign1 payload section is nil or empty")
	}
	if len(msg.Signature) == 0 {
		return nil, errors.New("COSE_Sign1 signature section is nil or empty")
	}
	return &msg, nil
}

// chainOf returns the DER-encoded certificates that the envelope carries,
// starting with the end-entity certificate.  Envelopes produced by genuine
// hardware don't have an x5chain header, so we fall back to the certificates
// in the payload, which is reported by the second return value.
func chainOf(msg *cose.Sign1Message) ([][]byte, bool, error) {
	value, ok := attestation.X5Chain(msg.Headers.Unprotected)
	if !ok {
		doc, err := attestation.DecodeDocument(msg.Payload)
		if err != nil {
			return nil, true, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return append([][]byte{doc.Certificate}, doc.CABundle...), true, nil
	}

	var ders [][]byte
	switch v := value.(type) {
	case []byte:
		ders = [][]byte{v}
	case []any:
		for _, item := range v {
			der, ok := item.([]byte)
			if !ok {
				return nil, false, fmt.Errorf("%w: x5chain contains %T", ErrDecode, item)
			}
			ders = append(ders, der)
		}
	default:
		return nil, false, fmt.Errorf("%w: x5chain is %T", ErrDecode, value)
	}
	if len(ders) == 0 {
		return nil, false, fmt.Errorf("%w: no certificates", ErrChainValidation)
	}
	return ders, false, nil
}

func (v *Verifier) validateChain(certs []*x509.Certificate) error {
	leaf := certs[0]

	// Perform sanity checks on public key and signature algorithm.
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return errors.New("certificate public key is not ECDSA P-384")
	}
	if leaf.SignatureAlgorithm != x509.ECDSAWithSHA384 {
		return errors.New("certificate signature algorithm is not ECDSAWithSHA384")
	}
	if leaf.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return errors.New("certificate key usage does not permit signing")
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         v.root.pool(),
		CurrentTime:   v.now(),
		KeyUsages: []x509.ExtKeyUsage{
			x509.ExtKeyUsageAny,
		},
	})
	return err
}

func verifySignature(msg *cose.Sign1Message, leaf *x509.Certificate) error {
	// https://datatracker.ietf.org/doc/html/rfc8152#section-8.1
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return err
	}
	if alg != cose.AlgorithmES384 {
		return fmt.Errorf("COSE_Sign1 algorithm %s is not ES384", alg)
	}

	verifier, err := cose.NewVerifier(alg, leaf.PublicKey)
	if err != nil {
		return err
	}
	return msg.Verify(nil, verifier)
}

// matchesChain makes sure that the payload's certificates are the ones that
// the signature was verified with.
func matchesChain(doc *attestation.Document, certs []*x509.Certificate) error {
	if !bytes.Equal(doc.Certificate, certs[0].Raw) {
		return errors.New("payload 'certificate' does not match signing certificate")
	}
	if len(doc.CABundle) != len(certs)-1 {
		return errors.New("payload 'cabundle' does not match certificate chain")
	}
	for i, der := range doc.CABundle {
		if !bytes.Equal(der, certs[i+1].Raw) {
			return errors.New("payload 'cabundle' does not match certificate chain")
		}
	}
	return nil
}
