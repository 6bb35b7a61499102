package verify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pki"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/testutil"
)

type fixture struct {
	chain   *pki.Chain
	root    *TrustRoot
	builder *attestation.Builder
}

func newFixture(t *testing.T, chain *pki.Chain) *fixture {
	t.Helper()

	id, err := attestation.NewIdentity(chain.EndKey, chain.End, chain.Intermediate)
	require.NoError(t, err)
	b, err := attestation.NewBuilder(id)
	require.NoError(t, err)
	root, err := NewTrustRoot(chain.Root.Raw)
	require.NoError(t, err)

	return &fixture{chain: chain, root: root, builder: b}
}

func (f *fixture) doc(t *testing.T, aux *attestation.AuxInfo) *attestation.Document {
	t.Helper()

	bank, err := pcr.New(pcr.Seeded("alpha", "beta"), pcr.SHA384, pcr.DefaultCount)
	require.NoError(t, err)
	doc, err := f.builder.Build(bank.Snapshot(), bank.Digest(), aux)
	require.NoError(t, err)
	return doc
}

func (f *fixture) sign(t *testing.T, doc *attestation.Document) []byte {
	t.Helper()

	raw, err := f.builder.Sign(doc)
	require.NoError(t, err)
	return raw
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	doc := f.doc(t, &attestation.AuxInfo{
		Nonce:     []byte("123"),
		UserData:  []byte("foo"),
		PublicKey: []byte("bar"),
	})

	v, err := New(f.root)
	require.NoError(t, err)
	res, err := v.Verify(f.sign(t, doc))
	require.NoError(t, err)
	require.Equal(t, doc, res.Document)
	require.Len(t, res.Certificates, 2)
	require.Equal(t, f.chain.End.Raw, res.Certificates[0].Raw)
}

func TestTaggedEnvelope(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	raw := f.sign(t, f.doc(t, nil))

	_, err := Verify(append([]byte{coseSign1Tag}, raw...), f.root)
	require.NoError(t, err)
}

func TestNonceScenario(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	raw := f.sign(t, f.doc(t, &attestation.AuxInfo{Nonce: []byte("123")}))

	doc, err := Verify(raw, f.root)
	require.NoError(t, err)
	require.Equal(t, []byte("123"), doc.Nonce)

	_, err = Verify(raw, AWSRoot())
	require.ErrorIs(t, err, ErrChainValidation)
}

func TestRootMismatch(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	other := newFixture(t, testutil.NewChain(t))
	raw := f.sign(t, f.doc(t, nil))

	_, err := Verify(raw, other.root)
	require.ErrorIs(t, err, ErrChainValidation)

	// Any CA certificate on the chain can act as trust root.
	intRoot, err := NewTrustRoot(f.chain.Intermediate.Raw)
	require.NoError(t, err)
	_, err = Verify(raw, intRoot)
	require.NoError(t, err)
}

func TestIndependentRoots(t *testing.T) {
	fixtures := []*fixture{
		newFixture(t, testutil.NewChain(t)),
		newFixture(t, testutil.NewChain(t)),
	}

	var wg sync.WaitGroup
	for i, f := range fixtures {
		raw := f.sign(t, f.doc(t, nil))
		other := fixtures[(i+1)%len(fixtures)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Verify(raw, f.root); err != nil {
				t.Error(err)
			}
			if _, err := Verify(raw, other.root); !errors.Is(err, ErrChainValidation) {
				t.Errorf("expected chain validation error but got %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestTamperDetection(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	doc := f.doc(t, &attestation.AuxInfo{Nonce: []byte("123")})
	payload, err := doc.Encode()
	require.NoError(t, err)

	v, err := New(f.root)
	require.NoError(t, err)

	cases := []struct {
		name string
		raw  []byte
	}{
		{
			name: "chain in header",
			raw:  f.sign(t, doc),
		},
		{
			name: "chain in payload",
			raw:  signWithoutChain(t, f.chain, payload),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := v.Verify(c.raw)
			require.NoError(t, err)

			msg := decode(t, c.raw)
			payloadStart := indexOf(t, c.raw, msg.Payload)
			sigStart := indexOf(t, c.raw, msg.Signature)

			check := func(i int) {
				tampered := append([]byte(nil), c.raw...)
				tampered[i] ^= 0x01
				_, err := v.Verify(tampered)
				if !errors.Is(err, ErrSignatureInvalid) && !errors.Is(err, ErrDecode) {
					t.Fatalf("flipping byte %d yielded unexpected error %v", i, err)
				}
			}
			for i := payloadStart; i < payloadStart+len(msg.Payload); i++ {
				check(i)
			}
			for i := sigStart; i < sigStart+len(msg.Signature); i++ {
				check(i)
			}
		})
	}
}

// Genuine CA bundles contain intermediates that are larger than the
// auxiliary fields of a document.
func TestLargeIntermediate(t *testing.T) {
	chain := newChainWithLargeIntermediate(t)
	require.Greater(t, len(chain.Intermediate.Raw), attestation.AuxFieldLen)

	f := newFixture(t, chain)
	doc := f.doc(t, &attestation.AuxInfo{Nonce: []byte("123")})
	require.NoError(t, doc.Validate())

	got, err := Verify(f.sign(t, doc), f.root)
	require.NoError(t, err)
	require.Equal(t, [][]byte{chain.Intermediate.Raw}, got.CABundle)

	payload, err := doc.Encode()
	require.NoError(t, err)
	got, err = Verify(signWithoutChain(t, chain, payload), f.root)
	require.NoError(t, err)
	require.Equal(t, doc, got)
}

func TestExpiredChain(t *testing.T) {
	chain, err := pki.GenerateAt(time.Now().Add(-72*time.Hour), time.Hour)
	require.NoError(t, err)
	f := newFixture(t, chain)
	raw := f.sign(t, f.doc(t, nil))

	_, err = Verify(raw, f.root)
	require.ErrorIs(t, err, ErrChainValidation)

	// The chain was valid back then.
	v, err := New(f.root, WithTime(chain.End.NotBefore.Add(time.Minute)))
	require.NoError(t, err)
	_, err = v.Verify(raw)
	require.NoError(t, err)
}

func TestGarbage(t *testing.T) {
	root := AWSRoot()
	for _, in := range [][]byte{nil, []byte("foo"), {0x84, 0x40}, {coseSign1Tag}} {
		_, err := Verify(in, root)
		require.ErrorIs(t, err, ErrDecode)
	}
}

func TestPayloadCertificateMismatch(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	other := testutil.NewChain(t)

	doc := f.doc(t, nil)
	doc.Certificate = other.End.Raw
	_, err := Verify(f.sign(t, doc), f.root)
	require.ErrorIs(t, err, ErrMalformedPayload)

	doc = f.doc(t, nil)
	doc.CABundle = [][]byte{}
	_, err = Verify(f.sign(t, doc), f.root)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestMalformedPayload(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	doc := f.doc(t, nil)
	doc.ModuleID = ""
	_, err := Verify(f.sign(t, doc), f.root)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

// Genuine hardware doesn't set the x5chain header.  The chain is then taken
// from the payload.
func TestChainFromPayload(t *testing.T) {
	f := newFixture(t, testutil.NewChain(t))
	doc := f.doc(t, &attestation.AuxInfo{Nonce: []byte("123")})
	payload, err := doc.Encode()
	require.NoError(t, err)

	raw := signWithoutChain(t, f.chain, payload)
	got, err := Verify(raw, f.root)
	require.NoError(t, err)
	require.Equal(t, doc, got)

	_, err = Verify(raw, AWSRoot())
	require.ErrorIs(t, err, ErrChainValidation)

	// Without a decodable payload there is no certificate to verify the
	// signature with.
	_, err = Verify(signWithoutChain(t, f.chain, []byte("foo")), f.root)
	require.ErrorIs(t, err, ErrDecode)

	// A chain that doesn't lead to the root is rejected even though the
	// signature is valid.
	other := testutil.NewChain(t)
	doc.CABundle = [][]byte{other.Intermediate.Raw}
	payload, err = doc.Encode()
	require.NoError(t, err)
	_, err = Verify(signWithoutChain(t, f.chain, payload), f.root)
	require.ErrorIs(t, err, ErrChainValidation)
}

func TestNewNil(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestTrustRoot(t *testing.T) {
	chain := testutil.NewChain(t)
	enc, err := chain.Encode(pki.PEM, nil)
	require.NoError(t, err)

	r, err := TrustRootFromPEM(enc.RootCertificate)
	require.NoError(t, err)
	require.Equal(t, chain.Root.Raw, r.Certificate().Raw)

	_, err = TrustRootFromPEM(chain.Root.Raw)
	require.Error(t, err)
	_, err = NewTrustRoot([]byte("foo"))
	require.Error(t, err)
	// The end-entity certificate cannot act as root.
	_, err = NewTrustRoot(chain.End.Raw)
	require.Error(t, err)

	require.Equal(t, "aws.nitro-enclaves", AWSRoot().Certificate().Subject.CommonName)
}

func signWithoutChain(t *testing.T, chain *pki.Chain, payload []byte) []byte {
	t.Helper()

	signer, err := cose.NewSigner(cose.AlgorithmES384, chain.EndKey)
	require.NoError(t, err)
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES384)
	msg.Payload = payload
	require.NoError(t, msg.Sign(rand.Reader, nil, signer))

	raw, err := msg.MarshalCBOR()
	require.NoError(t, err)
	return raw[1:]
}

func decode(t *testing.T, raw []byte) *cose.Sign1Message {
	t.Helper()

	msg, err := decodeEnvelope(raw)
	require.NoError(t, err)
	return msg
}

func indexOf(t *testing.T, haystack, needle []byte) int {
	t.Helper()

	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	t.Fatal("needle not found")
	return -1
}

func newChainWithLargeIntermediate(t *testing.T) *pki.Chain {
	t.Helper()

	newKey := func() *ecdsa.PrivateKey {
		k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)
		return k
	}
	issue := func(
		serial int64,
		tmpl *x509.Certificate,
		parent *x509.Certificate,
		pub *ecdsa.PublicKey,
		signer *ecdsa.PrivateKey,
	) *x509.Certificate {
		tmpl.SerialNumber = big.NewInt(serial)
		tmpl.NotBefore = time.Now().Add(-time.Hour)
		tmpl.NotAfter = time.Now().Add(time.Hour)
		tmpl.SignatureAlgorithm = x509.ECDSAWithSHA384
		if parent == nil {
			parent = tmpl
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
		require.NoError(t, err)
		c, err := x509.ParseCertificate(der)
		require.NoError(t, err)
		return c
	}

	var names []string
	for i := range 40 {
		names = append(names, fmt.Sprintf("zone-%02d.intermediate.enclave.example.com", i))
	}

	rootKey, intKey, endKey := newKey(), newKey(), newKey()
	root := issue(1, &x509.Certificate{
		Subject:               pkix.Name{CommonName: "Large Root"},
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}, nil, &rootKey.PublicKey, rootKey)
	intermediate := issue(2, &x509.Certificate{
		Subject:               pkix.Name{CommonName: "Large Intermediate"},
		DNSNames:              names,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}, root, &intKey.PublicKey, rootKey)
	end := issue(3, &x509.Certificate{
		Subject:  pkix.Name{CommonName: "Large Enclave"},
		KeyUsage: x509.KeyUsageDigitalSignature,
	}, intermediate, &endKey.PublicKey, intKey)

	return &pki.Chain{
		Root:         root,
		Intermediate: intermediate,
		End:          end,
		EndKey:       endKey,
	}
}
