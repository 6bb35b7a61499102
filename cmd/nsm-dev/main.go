package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/config"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/logging"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm/dev"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm/nitro"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/service"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/system"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/types/validate"
)

const appName = "nsm-dev"

// stringsFlag is a repeatable flag.  The first occurrence of the flag replaces
// the slice's previous content, so flags override the configuration file.
type stringsFlag struct {
	s   *[]string
	set bool
}

func (f *stringsFlag) String() string {
	if f.s == nil {
		return ""
	}
	return strings.Join(*f.s, ",")
}

func (f *stringsFlag) Set(v string) error {
	if !f.set {
		*f.s = nil
		f.set = true
	}
	*f.s = append(*f.s, v)
	return nil
}

func newFlagSet(out io.Writer, cfg *config.Server, cfgFile *string) *flag.FlagSet {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(cfgFile, "config", "", "YAML configuration file; flags take precedence")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP address to listen on")
	fs.Func("vsock-port", "VSOCK port to listen on instead of -addr", func(s string) error {
		var port uint32
		if _, err := fmt.Sscan(s, &port); err != nil {
			return err
		}
		cfg.VSOCKPort = port
		cfg.Addr = ""
		return nil
	})
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	fs.BoolVar(&cfg.DevMode, "dev", cfg.DevMode, "emulate the NSM instead of using /dev/nsm")
	fs.StringVar(&cfg.ModuleID, "module-id", cfg.ModuleID, "module ID of emulated attestation documents")
	fs.StringVar(&cfg.PCRMode, "pcr-mode", cfg.PCRMode, "initialization of emulated PCRs: zero, seeded, or random")
	fs.Var(&stringsFlag{s: &cfg.PCRSeeds}, "pcr-seed", "seed of emulated PCRs; may be repeated")
	fs.IntVar(&cfg.PCRCount, "pcr-count", cfg.PCRCount, "number of emulated PCRs")
	fs.StringVar(&cfg.Digest, "digest", cfg.Digest, "digest of emulated PCRs: SHA256, SHA384, or SHA512")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "PEM- or DER-encoded signing key")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "PEM- or DER-encoded end certificate")
	fs.Var(&stringsFlag{s: &cfg.IntermediateFiles}, "intermediate", "intermediate certificate; may be repeated")
	fs.IntVar(&cfg.MaxUserData, "max-user-data", cfg.MaxUserData, "maximum length of user data")
	fs.IntVar(&cfg.MaxNonce, "max-nonce", cfg.MaxNonce, "maximum length of nonces")
	fs.IntVar(&cfg.MaxPublicKey, "max-public-key", cfg.MaxPublicKey, "maximum length of public keys")

	return fs
}

func parseFlags(out io.Writer, args []string) (_ *config.Server, err error) {
	defer errs.Wrap(&err, "failed to parse flags")

	var cfgFile string
	cfg := config.DefaultServer()
	if err := newFlagSet(out, cfg, &cfgFile).Parse(args); err != nil {
		return nil, err
	}
	if cfgFile == "" {
		return cfg, nil
	}

	// Parse the flags a second time, on top of the configuration file.
	cfg, err = config.LoadServer(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := newFlagSet(out, cfg, &cfgFile).Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newModule returns the module that the service exposes: either the emulator
// or the hardware module.
func newModule(cfg *config.Server, log zerolog.Logger) (_ nsm.Module, err error) {
	defer errs.Wrap(&err, "failed to create module")

	if !cfg.DevMode {
		return nitro.New(nitro.WithLogger(log)), nil
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	cert, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, err
	}
	var intermediates [][]byte
	for _, f := range cfg.IntermediateFiles {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		intermediates = append(intermediates, b)
	}
	id, err := attestation.ParseIdentity(key, cert, intermediates, []byte(cfg.KeyPassword))
	if err != nil {
		return nil, err
	}
	builder, err := attestation.NewBuilder(id,
		attestation.WithModuleID(cfg.ModuleID),
		attestation.WithLimits(cfg.Limits()),
	)
	if err != nil {
		return nil, err
	}

	mode, err := pcr.ParseMode(cfg.PCRMode)
	if err != nil {
		return nil, err
	}
	seed, err := mode.Init(cfg.PCRSeeds...)
	if err != nil {
		return nil, err
	}
	bank, err := pcr.New(seed, pcr.Digest(cfg.Digest), cfg.PCRCount)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("mode", string(mode)).Msgf("Initialized PCRs:\n%s", bank.Snapshot())

	return dev.New(bank, builder, dev.WithLogger(log))
}

func run(ctx context.Context, out io.Writer, args []string) (err error) {
	defer errs.Wrap(&err, "failed to run %s", appName)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := parseFlags(out, args)
	if err != nil {
		return err
	}
	if err := validate.Object(cfg); err != nil {
		return err
	}

	log := logging.New(appName, out, cfg.Debug)
	// Genuine hardware is only worth exposing from a hardened enclave.
	if cfg.DevMode {
		log.Warn().Msg("Development mode: attestation documents are NOT signed by AWS.")
	} else if err := system.Check(log); err != nil {
		return fmt.Errorf("failed safety check: %w", err)
	}

	m, err := newModule(cfg, log)
	if err != nil {
		return err
	}
	return service.Run(ctx, cfg, m, log)
}

func main() {
	if err := run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
