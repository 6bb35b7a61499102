// Package pki generates development certificate chains that stand in for the
// AWS Nitro Enclaves PKI.  A chain consists of a self-signed root, one
// intermediate, and an end-entity certificate whose key signs attestation
// documents.
package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/youmark/pkcs8"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
)

const (
	organization = "nsm-nitro-enclave-utils development"
	// Clock skew between the generating and verifying host is tolerated up
	// to this duration.
	backdate = 5 * time.Minute
)

var (
	// Accessing rand.Reader via variable facilitates mocking.
	cryptoRead = rand.Reader
	serialMax  = new(big.Int).Lsh(big.NewInt(1), 128)
)

// Format determines how certificates and keys are encoded.
type Format string

const (
	PEM Format = "pem"
	DER Format = "der"
)

// ParseFormat turns the given string into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case PEM, DER:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Chain is a development certificate chain.
type Chain struct {
	Root         *x509.Certificate
	Intermediate *x509.Certificate
	End          *x509.Certificate
	EndKey       *ecdsa.PrivateKey
}

// Encoded holds the encoded certificates and the end-entity's signing key.
type Encoded struct {
	RootCertificate         []byte `json:"rootCertificate"`
	IntermediateCertificate []byte `json:"intCertificate"`
	EndCertificate          []byte `json:"endCertificate"`
	EndSigningKey           []byte `json:"endSigningKey"`
}

// Generate returns a new chain whose certificates are valid from now on for
// the given duration.
func Generate(validFor time.Duration) (*Chain, error) {
	return GenerateAt(time.Now(), validFor)
}

// GenerateAt returns a new chain whose certificates are valid for the given
// duration, starting at notBefore.
func GenerateAt(notBefore time.Time, validFor time.Duration) (_ *Chain, err error) {
	defer errs.Wrap(&err, "failed to generate certificate chain")

	if validFor <= 0 {
		return nil, fmt.Errorf("validity period must be positive but is %s", validFor)
	}
	notBefore = notBefore.Add(-backdate)
	notAfter := notBefore.Add(validFor + backdate)

	rootKey, err := newKey()
	if err != nil {
		return nil, err
	}
	root, err := issue(&x509.Certificate{
		Subject:               subject("Development Root"),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}, nil, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}

	intKey, err := newKey()
	if err != nil {
		return nil, err
	}
	intermediate, err := issue(&x509.Certificate{
		Subject:               subject("Development Intermediate"),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}, root, &intKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}

	endKey, err := newKey()
	if err != nil {
		return nil, err
	}
	end, err := issue(&x509.Certificate{
		Subject:               subject("Development Enclave"),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}, intermediate, &endKey.PublicKey, intKey)
	if err != nil {
		return nil, err
	}

	return &Chain{
		Root:         root,
		Intermediate: intermediate,
		End:          end,
		EndKey:       endKey,
	}, nil
}

// Encode encodes the chain in the given format.  If password is set, the
// signing key is encrypted with it.
func (c *Chain) Encode(format Format, password []byte) (_ *Encoded, err error) {
	defer errs.Wrap(&err, "failed to encode certificate chain")

	keyType := "PRIVATE KEY"
	if len(password) > 0 {
		keyType = "ENCRYPTED PRIVATE KEY"
	} else {
		password = nil
	}
	key, err := pkcs8.MarshalPrivateKey(c.EndKey, password, nil)
	if err != nil {
		return nil, err
	}

	switch format {
	case DER:
		return &Encoded{
			RootCertificate:         c.Root.Raw,
			IntermediateCertificate: c.Intermediate.Raw,
			EndCertificate:          c.End.Raw,
			EndSigningKey:           key,
		}, nil
	case PEM:
		return &Encoded{
			RootCertificate:         toPEM("CERTIFICATE", c.Root.Raw),
			IntermediateCertificate: toPEM("CERTIFICATE", c.Intermediate.Raw),
			EndCertificate:          toPEM("CERTIFICATE", c.End.Raw),
			EndSigningKey:           toPEM(keyType, key),
		}, nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func newKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), cryptoRead)
}

func issue(
	tmpl, parent *x509.Certificate,
	pub *ecdsa.PublicKey,
	signer *ecdsa.PrivateKey,
) (*x509.Certificate, error) {
	serial, err := rand.Int(cryptoRead, serialMax)
	if err != nil {
		return nil, err
	}
	tmpl.SerialNumber = serial
	tmpl.SignatureAlgorithm = x509.ECDSAWithSHA384
	if parent == nil {
		parent = tmpl
	}

	der, err := x509.CreateCertificate(cryptoRead, tmpl, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

func subject(cn string) pkix.Name {
	return pkix.Name{
		CommonName:   cn,
		Organization: []string{organization},
	}
}

func toPEM(typ string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
}
