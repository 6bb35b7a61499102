package verify

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/util/must"
)

// awsRootPEM contains the PEM-encoded root for verifying genuine Nitro Enclave
// attestation documents.  You can download it from
// https://aws-nitro-enclaves.amazonaws.com/AWS_NitroEnclaves_Root-G1.zip
// It's recommended you calculate the SHA256 sum of this string and match it
// to the one supplied in the AWS documentation:
// https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html
const awsRootPEM = `
-----BEGIN CERTIFICATE-----
MIICETCCAZagAwIBAgIRAPkxdWgbkK/hHUbMtOTn+FYwCgYIKoZIzj0EAwMwSTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoMBkFtYXpvbjEMMAoGA1UECwwDQVdTMRswGQYD
VQQDDBJhd3Mubml0cm8tZW5jbGF2ZXMwHhcNMTkxMDI4MTMyODA1WhcNNDkxMDI4
MTQyODA1WjBJMQswCQYDVQQGEwJVUzEPMA0GA1UECgwGQW1hem9uMQwwCgYDVQQL
DANBV1MxGzAZBgNVBAMMEmF3cy5uaXRyby1lbmNsYXZlczB2MBAGByqGSM49AgEG
BSuBBAAiA2IABPwCVOumCMHzaHDimtqQvkY4MpJzbolL//Zy2YlES1BR5TSksfbb
48C8WBoyt7F2Bw7eEtaaP+ohG2bnUs990d0JX28TcPQXCEPZ3BABIeTPYwEoCWZE
h8l5YoQwTcU/9KNCMEAwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUkCW1DdkF
R+eWw5b6cp3PmanfS5YwDgYDVR0PAQH/BAQDAgGGMAoGCCqGSM49BAMDA2kAMGYC
MQCjfy+Rocm9Xue4YnwWmNJVA44fA0P5W2OpYow9OYCVRaEevL8uO1XYru5xtMPW
rfMCMQCi85sWBbJwKKXdS6BptQFuZbT73o/gBh1qUxl/nNr12UO8Yfwr6wPLb+6N
IwLz3/Y=
-----END CERTIFICATE-----`

var awsRoot = must.Get(TrustRootFromPEM([]byte(awsRootPEM)))

// TrustRoot is the certificate that verification anchors certificate chains
// at.  It is the only thing that distinguishes the verification of
// development documents from the verification of genuine ones.
type TrustRoot struct {
	cert *x509.Certificate
}

// NewTrustRoot returns a trust root for the given DER-encoded certificate.
func NewTrustRoot(der []byte) (_ *TrustRoot, err error) {
	defer errs.Wrap(&err, "failed to create trust root")

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("certificate %q is not a CA", cert.Subject)
	}
	return &TrustRoot{cert: cert}, nil
}

// TrustRootFromPEM returns a trust root for the given PEM-encoded
// certificate.
func TrustRootFromPEM(data []byte) (*TrustRoot, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to create trust root: %w", errs.InvalidFormat)
	}
	return NewTrustRoot(block.Bytes)
}

// AWSRoot returns the root of the AWS Nitro Enclaves PKI.
func AWSRoot() *TrustRoot {
	return awsRoot
}

// Certificate returns the root certificate.
func (r *TrustRoot) Certificate() *x509.Certificate {
	return r.cert
}

func (r *TrustRoot) pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(r.cert)
	return pool
}
