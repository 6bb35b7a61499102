package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
)

var (
	ErrKeyMismatch = errors.New("private key does not match certificate")
	ErrUnsupported = errors.New("signing key must be ECDSA on curve P-384")
)

// Identity holds the key that attestation documents are signed with, along
// with the end-entity certificate for that key and the intermediates that
// lead to the root of trust.  An Identity is never mutated after
// construction, so it can sign concurrently.
type Identity struct {
	key           *ecdsa.PrivateKey
	cert          *x509.Certificate
	intermediates []*x509.Certificate
}

// NewIdentity returns a new signing identity.  The intermediates are ordered
// from the one that issued cert towards the root.
func NewIdentity(
	key *ecdsa.PrivateKey,
	cert *x509.Certificate,
	intermediates ...*x509.Certificate,
) (_ *Identity, err error) {
	defer errs.Wrap(&err, "failed to create signing identity")

	if key == nil || cert == nil {
		return nil, errs.IsNil
	}
	if key.Curve != elliptic.P384() {
		return nil, ErrUnsupported
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !key.PublicKey.Equal(pub) {
		return nil, ErrKeyMismatch
	}
	for _, c := range intermediates {
		if c == nil {
			return nil, errs.IsNil
		}
	}

	return &Identity{
		key:           key,
		cert:          cert,
		intermediates: intermediates,
	}, nil
}

// ParseIdentity parses PEM- or DER-encoded key material into a signing
// identity.  If the private key is an encrypted PKCS #8 key, password is used
// to decrypt it.
func ParseIdentity(key, cert []byte, intermediates [][]byte, password []byte) (*Identity, error) {
	k, err := ParsePrivateKey(key, password)
	if err != nil {
		return nil, err
	}
	c, err := ParseCertificate(cert)
	if err != nil {
		return nil, err
	}
	ints := make([]*x509.Certificate, 0, len(intermediates))
	for _, i := range intermediates {
		c, err := ParseCertificate(i)
		if err != nil {
			return nil, err
		}
		ints = append(ints, c)
	}
	return NewIdentity(k, c, ints...)
}

// ParsePrivateKey parses a PEM- or DER-encoded ECDSA private key, either in
// PKCS #8 form (optionally encrypted) or in SEC 1 form.
func ParsePrivateKey(data, password []byte) (_ *ecdsa.PrivateKey, err error) {
	defer errs.Wrap(&err, "failed to parse private key")

	der := fromPEM(data)
	var passwords [][]byte
	if len(password) > 0 {
		passwords = append(passwords, password)
	}
	if k, err := pkcs8.ParsePKCS8PrivateKeyECDSA(der, passwords...); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, errs.InvalidFormat
}

// ParseCertificate parses a PEM- or DER-encoded X.509 certificate.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	c, err := x509.ParseCertificate(fromPEM(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return c, nil
}

// Certificate returns the DER encoding of the end-entity certificate.
func (i *Identity) Certificate() []byte {
	return bytes.Clone(i.cert.Raw)
}

// CABundle returns the DER encodings of the intermediate certificates.  The
// result is never nil.
func (i *Identity) CABundle() [][]byte {
	bundle := make([][]byte, 0, len(i.intermediates))
	for _, c := range i.intermediates {
		bundle = append(bundle, bytes.Clone(c.Raw))
	}
	return bundle
}

// fromPEM returns the content of the first PEM block in data, or data itself
// if it isn't PEM-encoded.
func fromPEM(data []byte) []byte {
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes
	}
	return data
}
