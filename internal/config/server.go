package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
)

// Server represents nsm-dev's configuration.  It can be loaded from a YAML
// file, and command line flags take precedence over the file's values.
type Server struct {
	// Addr contains the TCP address that the Web server listens on, e.g.,
	// "127.0.0.1:8080".  Either Addr or VSOCKPort must be set.
	Addr string `yaml:"addr"`

	// VSOCKPort contains the VSOCK port that the Web server listens on when
	// running inside an enclave.
	VSOCKPort uint32 `yaml:"vsock_port"`

	// Debug can be set to true to see debug messages.
	Debug bool `yaml:"debug"`

	// DevMode emulates the Nitro Secure Module instead of talking to
	// /dev/nsm.  Attestation documents are then signed with the key in
	// KeyFile.
	DevMode bool `yaml:"dev_mode"`

	// ModuleID is set in emulated attestation documents.
	ModuleID string `yaml:"module_id"`

	// PCRMode determines how emulated PCRs are initialized: "zero",
	// "seeded", or "random".
	PCRMode string `yaml:"pcr_mode"`

	// PCRSeeds are the strings that seeded PCRs are derived from.
	PCRSeeds []string `yaml:"pcr_seeds"`

	// PCRCount is the number of emulated PCRs.
	PCRCount int `yaml:"pcr_count"`

	// Digest is the digest of emulated PCRs, e.g., "SHA384".
	Digest string `yaml:"digest"`

	// KeyFile, CertFile, and IntermediateFiles contain the PEM- or DER-encoded
	// key material that emulated attestation documents are signed with.
	KeyFile           string   `yaml:"key_file"`
	CertFile          string   `yaml:"cert_file"`
	IntermediateFiles []string `yaml:"intermediate_files"`

	// KeyPassword decrypts KeyFile if it's an encrypted PKCS #8 key.
	KeyPassword string `yaml:"key_password"`

	// Limits caps the size of the auxiliary fields of attestation requests.
	// Zero means the hardware limit.
	MaxUserData  int `yaml:"max_user_data"`
	MaxNonce     int `yaml:"max_nonce"`
	MaxPublicKey int `yaml:"max_public_key"`
}

// DefaultServer returns the server's default configuration.
func DefaultServer() *Server {
	l := attestation.DefaultLimits()
	return &Server{
		Addr:         "127.0.0.1:8080",
		ModuleID:     attestation.DefaultModuleID,
		PCRMode:      string(pcr.ModeZero),
		PCRCount:     pcr.DefaultCount,
		Digest:       string(pcr.DefaultDigest),
		MaxUserData:  l.UserData,
		MaxNonce:     l.Nonce,
		MaxPublicKey: l.PublicKey,
	}
}

// LoadServer reads the YAML file at the given path on top of the default
// configuration.
func LoadServer(path string) (_ *Server, err error) {
	defer errs.Wrap(&err, "failed to load config from %q", path)

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// The default TCP address only applies if the file configures no
	// listener at all.
	cfg := DefaultServer()
	defaultAddr := cfg.Addr
	cfg.Addr = ""
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" && cfg.VSOCKPort == 0 {
		cfg.Addr = defaultAddr
	}
	return cfg, nil
}

// Limits returns the configured size limits.
func (c *Server) Limits() attestation.Limits {
	return attestation.Limits{
		UserData:  c.MaxUserData,
		Nonce:     c.MaxNonce,
		PublicKey: c.MaxPublicKey,
	}
}

func (c *Server) Validate() map[string]string {
	problems := make(map[string]string)

	// Exactly one listener must be configured.
	switch {
	case c.Addr == "" && c.VSOCKPort == 0:
		problems["-addr"] = "either -addr or -vsock-port is required"
	case c.Addr != "" && c.VSOCKPort != 0:
		problems["-vsock-port"] = "must not be used together with -addr"
	case c.Addr != "":
		_, port, err := net.SplitHostPort(c.Addr)
		if err != nil {
			problems["-addr"] = err.Error()
			break
		}
		if p, err := strconv.Atoi(port); err != nil || !isValidPort(p) {
			problems["-addr"] = "must contain a valid port number"
		}
	}

	// The remaining fields only matter for the emulator.
	if !c.DevMode {
		return problems
	}

	if c.KeyFile == "" {
		problems["-key"] = "argument is required in development mode"
	}
	if c.CertFile == "" {
		problems["-cert"] = "argument is required in development mode"
	}
	if c.ModuleID == "" {
		problems["-module-id"] = "must not be empty"
	}
	mode, err := pcr.ParseMode(c.PCRMode)
	if err != nil {
		problems["-pcr-mode"] = err.Error()
	}
	if mode == pcr.ModeSeeded && len(c.PCRSeeds) == 0 {
		problems["-pcr-seed"] = "at least one seed is required for seeded PCRs"
	}
	if c.PCRCount < 1 || c.PCRCount > pcr.MaxCount {
		problems["-pcr-count"] = fmt.Sprintf("must be in [1, %d]", pcr.MaxCount)
	}
	if !pcr.Digest(c.Digest).Valid() {
		problems["-digest"] = "must be one of SHA256, SHA384, or SHA512"
	}
	for flag, v := range map[string]int{
		"-max-user-data":  c.MaxUserData,
		"-max-nonce":      c.MaxNonce,
		"-max-public-key": c.MaxPublicKey,
	} {
		if v < 0 || v > attestation.AuxFieldLen {
			problems[flag] = fmt.Sprintf("must be in [0, %d]", attestation.AuxFieldLen)
		}
	}

	return problems
}
