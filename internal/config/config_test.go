package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/types/validate"
)

func devServer() *Server {
	c := DefaultServer()
	c.DevMode = true
	c.KeyFile = "key.pem"
	c.CertFile = "cert.pem"
	return c
}

func TestServerConfig(t *testing.T) {
	cases := []struct {
		name     string
		cfgFn    func() *Server
		wantErrs int
	}{
		{
			name:  "default config",
			cfgFn: DefaultServer,
		},
		{
			name:  "development mode",
			cfgFn: devServer,
		},
		{
			name: "no listener",
			cfgFn: func() *Server {
				c := DefaultServer()
				c.Addr = ""
				return c
			},
			wantErrs: 1,
		},
		{
			name: "VSOCK listener",
			cfgFn: func() *Server {
				c := DefaultServer()
				c.Addr = ""
				c.VSOCKPort = 8080
				return c
			},
		},
		{
			name: "two listeners",
			cfgFn: func() *Server {
				c := DefaultServer()
				c.VSOCKPort = 8080
				return c
			},
			wantErrs: 1,
		},
		{
			name: "bad port",
			cfgFn: func() *Server {
				c := DefaultServer()
				c.Addr = "127.0.0.1:foo"
				return c
			},
			wantErrs: 1,
		},
		{
			name: "missing key material",
			cfgFn: func() *Server {
				c := devServer()
				c.KeyFile, c.CertFile = "", ""
				return c
			},
			wantErrs: 2,
		},
		{
			name: "seeded without seeds",
			cfgFn: func() *Server {
				c := devServer()
				c.PCRMode = "seeded"
				return c
			},
			wantErrs: 1,
		},
		{
			name: "bad PCR settings",
			cfgFn: func() *Server {
				c := devServer()
				c.PCRMode = "foo"
				c.PCRCount = 33
				c.Digest = "MD5"
				return c
			},
			wantErrs: 3,
		},
		{
			name: "limit too large",
			cfgFn: func() *Server {
				c := devServer()
				c.MaxNonce = attestation.AuxFieldLen + 1
				c.MaxUserData = -1
				return c
			},
			wantErrs: 2,
		},
		{
			name: "emulator settings ignored without development mode",
			cfgFn: func() *Server {
				c := DefaultServer()
				c.PCRMode = "foo"
				return c
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			errs := c.cfgFn().Validate()
			require.Equal(t, c.wantErrs, len(errs), validate.SprintErrs(errs))
		})
	}
}

func TestLoadServer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: 0.0.0.0:9000
dev_mode: true
pcr_mode: seeded
pcr_seeds:
  - alpha
  - beta
key_file: key.pem
cert_file: cert.pem
intermediate_files:
  - int.pem
`), 0o600))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Addr)
	require.True(t, cfg.DevMode)
	require.Equal(t, []string{"alpha", "beta"}, cfg.PCRSeeds)
	require.Equal(t, []string{"int.pem"}, cfg.IntermediateFiles)
	// Unset fields keep their defaults.
	require.Equal(t, attestation.DefaultModuleID, cfg.ModuleID)
	require.Equal(t, attestation.DefaultLimits(), cfg.Limits())
	require.NoError(t, validate.Object(cfg))

	_, err = LoadServer(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	// A VSOCK port replaces the default TCP address.
	require.NoError(t, os.WriteFile(path, []byte("vsock_port: 8080"), 0o600))
	cfg, err = LoadServer(path)
	require.NoError(t, err)
	require.Empty(t, cfg.Addr)
	require.EqualValues(t, 8080, cfg.VSOCKPort)
	require.NoError(t, validate.Object(cfg))

	// Without listener, the default TCP address applies.
	require.NoError(t, os.WriteFile(path, []byte("debug: true"), 0o600))
	cfg, err = LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, DefaultServer().Addr, cfg.Addr)

	require.NoError(t, os.WriteFile(path, []byte("addr: ["), 0o600))
	_, err = LoadServer(path)
	require.Error(t, err)
}

func TestVerifyConfig(t *testing.T) {
	cases := []struct {
		name     string
		cfg      *Verify
		wantErrs int
	}{
		{
			name:     "missing addr",
			cfg:      &Verify{},
			wantErrs: 1,
		},
		{
			name:     "relative addr",
			cfg:      &Verify{Addr: "example.com"},
			wantErrs: 1,
		},
		{
			name: "valid",
			cfg:  &Verify{Addr: "http://127.0.0.1:8080"},
		},
		{
			name: "seeds with bad PCR settings",
			cfg: &Verify{
				Addr:     "http://127.0.0.1:8080",
				PCRSeeds: []string{"foo"},
			},
			wantErrs: 2,
		},
		{
			name: "seeds",
			cfg: &Verify{
				Addr:     "http://127.0.0.1:8080",
				PCRSeeds: []string{"foo"},
				PCRCount: 16,
				Digest:   "SHA384",
			},
		},
		{
			name: "seeds and measurements",
			cfg: &Verify{
				Addr:         "http://127.0.0.1:8080",
				PCRSeeds:     []string{"foo"},
				PCRCount:     16,
				Digest:       "SHA384",
				Measurements: "{}",
			},
			wantErrs: 1,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			errs := c.cfg.Validate()
			require.Equal(t, c.wantErrs, len(errs), validate.SprintErrs(errs))
		})
	}
}

func TestKeygenConfig(t *testing.T) {
	cases := []struct {
		name     string
		cfg      *Keygen
		wantErrs int
	}{
		{
			name:     "empty",
			cfg:      &Keygen{},
			wantErrs: 2,
		},
		{
			name: "valid",
			cfg:  &Keygen{Format: "pem", ValidDays: 1},
		},
		{
			name:     "bad format",
			cfg:      &Keygen{Format: "p12", ValidDays: 1},
			wantErrs: 1,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			errs := c.cfg.Validate()
			require.Equal(t, c.wantErrs, len(errs), validate.SprintErrs(errs))
		})
	}
}
