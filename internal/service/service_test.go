package service

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/config"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/httpx"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nonce"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm/dev"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/service/handle"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/testutil"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/util/must"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/verify"
)

// closeCounter counts how often the module was closed.
type closeCounter struct {
	nsm.Module
	closed atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return c.Module.Close()
}

func newEmulator(t *testing.T) (nsm.Module, *verify.TrustRoot) {
	t.Helper()

	chain := testutil.NewChain(t)
	id, err := attestation.NewIdentity(chain.EndKey, chain.End, chain.Intermediate)
	require.NoError(t, err)
	builder, err := attestation.NewBuilder(id)
	require.NoError(t, err)
	bank, err := pcr.New(pcr.Seeded("foo"), pcr.SHA384, pcr.DefaultCount)
	require.NoError(t, err)
	e, err := dev.New(bank, builder)
	require.NoError(t, err)
	return e, must.Get(verify.NewTrustRoot(chain.Root.Raw))
}

func devConfig() *config.Server {
	cfg := config.DefaultServer()
	cfg.DevMode = true
	cfg.PCRMode = string(pcr.ModeSeeded)
	cfg.PCRSeeds = []string{"foo"}
	cfg.KeyFile = "/secret/key.pem"
	return cfg
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	resp, err := testutil.Client.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	m, root := newEmulator(t)
	h, err := New(devConfig(), m)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	cases := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{
			name:       "index",
			path:       PathIndex,
			wantStatus: http.StatusOK,
		},
		{
			name:       "config",
			path:       PathConfig,
			wantStatus: http.StatusOK,
		},
		{
			name:       "attestation without nonce",
			path:       PathAttestation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "pcr",
			path:       "/enclave/pcr/3",
			wantStatus: http.StatusOK,
		},
		{
			name:       "pcr out of range",
			path:       "/enclave/pcr/16",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "nsm requires POST",
			path:       PathNSM,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "metrics",
			path:       PathMetrics,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown path",
			path:       "/foo",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := get(t, srv.URL+c.path)
			require.Equal(t, c.wantStatus, resp.StatusCode)
		})
	}

	// The attestation document verifies against the development root.
	n := must.Get(nonce.New())
	resp := get(t, srv.URL+PathAttestation+"?nonce="+n.URLEncode())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw attestation.RawDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	doc, err := verify.Verify(raw.Doc, root)
	require.NoError(t, err)
	require.True(t, n.Matches(doc.Nonce))
}

func TestConfigIsRedacted(t *testing.T) {
	m, _ := newEmulator(t)
	h, err := New(devConfig(), m)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := get(t, srv.URL+PathConfig)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(body), "/secret/key.pem")

	var got publicConfig
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, publicConfig{
		DevMode:  true,
		ModuleID: attestation.DefaultModuleID,
		PCRMode:  string(pcr.ModeSeeded),
		PCRCount: pcr.DefaultCount,
		Digest:   string(pcr.SHA384),
	}, got)

	// Outside of development mode, the emulator's settings are meaningless.
	require.Equal(t, publicConfig{}, toPublic(config.DefaultServer()))
}

func TestConfigAttested(t *testing.T) {
	m, root := newEmulator(t)
	h, err := New(devConfig(), m)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	n := must.Get(nonce.New())
	resp := get(t, srv.URL+PathConfig+"?nonce="+n.URLEncode())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw attestation.RawDocument
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get(handle.AttestationHeader)), &raw))
	_, err = verify.Verify(raw.Doc, root)
	require.NoError(t, err)
}

func TestMetrics(t *testing.T) {
	m, _ := newEmulator(t)
	h, err := New(devConfig(), m)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	get(t, srv.URL+"/enclave/pcr/0")
	get(t, srv.URL+"/enclave/pcr/1")
	get(t, srv.URL+"/enclave/pcr/100")

	body, err := io.ReadAll(get(t, srv.URL+PathMetrics).Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `nsm_requests_total{kind="DescribePCR",result="ok"} 2`)
	require.Contains(t, string(body), `nsm_requests_total{kind="DescribePCR",result="InvalidIndex"} 1`)
}

func TestInstrument(t *testing.T) {
	m, _ := newEmulator(t)
	reg := prometheus.NewRegistry()

	im, err := Instrument(m, reg)
	require.NoError(t, err)
	require.Equal(t, nsm.Err(nsm.InvalidArgument), im.Process(nil))
	require.Equal(t, nsm.Err(nsm.InvalidOperation), im.Process(nsm.GetRandom{}))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Len(t, families[0].GetMetric(), 2)

	// The same registry can't hold two sets of counters.
	_, err = Instrument(m, reg)
	require.Error(t, err)
}

func TestServe(t *testing.T) {
	m, _ := newEmulator(t)
	h, err := New(devConfig(), m)
	require.NoError(t, err)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- Serve(ctx, l, h, zerolog.Nop()) }()

	url := "http://" + l.Addr().String() + PathIndex
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	require.NoError(t, httpx.WaitForSvc(wctx, testutil.Client, url))

	cancel()
	require.NoError(t, <-done)
}

func TestRun(t *testing.T) {
	m, _ := newEmulator(t)
	cc := &closeCounter{Module: m}

	// Bind to a random port first, so the test knows where to find the
	// service.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := devConfig()
	cfg.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- Run(ctx, cfg, cc, zerolog.Nop()) }()

	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	require.NoError(t, httpx.WaitForSvc(wctx, testutil.Client, "http://"+addr+PathIndex))

	cancel()
	require.NoError(t, <-done)
	require.EqualValues(t, 1, cc.closed.Load())
}

func TestListen(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.Addr = "127.0.0.1:0"
	l, err := Listen(cfg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(l.Addr().String(), "127.0.0.1:"))
	require.NoError(t, l.Close())

	cfg.Addr = "foo"
	_, err = Listen(cfg)
	require.Error(t, err)
}
