package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/config"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/types/validate"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/verify"
)

var errFailedToParse = errors.New("failed to parse flags")

// seedsFlag collects the repeatable -pcr-seed flag.
type seedsFlag []string

func (f *seedsFlag) String() string { return strings.Join(*f, ",") }

func (f *seedsFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func parseFlags(out io.Writer, args []string) (_ *config.Verify, err error) {
	defer errs.WrapErr(&err, errFailedToParse)

	fs := flag.NewFlagSet("nsm-verify", flag.ContinueOnError)
	fs.SetOutput(out)

	addr := fs.String(
		"addr",
		"",
		"Address of the service, e.g.: http://127.0.0.1:8080",
	)
	root := fs.String(
		"root",
		"",
		"PEM-encoded root certificate (default: AWS Nitro Enclaves root)",
	)
	var seeds seedsFlag
	fs.Var(
		&seeds,
		"pcr-seed",
		"Seed of the expected PCRs; may be repeated",
	)
	pcrCount := fs.Int(
		"pcr-count",
		pcr.DefaultCount,
		"Number of expected seeded PCRs",
	)
	digest := fs.String(
		"digest",
		string(pcr.DefaultDigest),
		"Digest of expected seeded PCRs",
	)
	measurements := fs.String(
		"pcrs",
		"",
		"JSON-encoded enclave image measurements as emitted by 'nitro-cli build-enclave'",
	)
	verbose := fs.Bool(
		"verbose",
		false,
		"Print the attestation document's PCRs",
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &config.Verify{
		Addr:         *addr,
		RootFile:     *root,
		PCRSeeds:     seeds,
		PCRCount:     *pcrCount,
		Digest:       *digest,
		Measurements: *measurements,
		Verbose:      *verbose,
	}
	if err := validate.Object(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// trustRoot returns the root that attestation documents are verified against.
func trustRoot(cfg *config.Verify) (_ *verify.TrustRoot, err error) {
	defer errs.Wrap(&err, "failed to load root certificate")

	if cfg.RootFile == "" {
		return verify.AWSRoot(), nil
	}
	b, err := os.ReadFile(cfg.RootFile)
	if err != nil {
		return nil, err
	}
	return verify.TrustRootFromPEM(b)
}

// expectedPCRs returns the PCRs that the attestation document must contain,
// or nil if the PCRs aren't checked.
func expectedPCRs(cfg *config.Verify) (pcr.Values, error) {
	switch {
	case len(cfg.PCRSeeds) > 0:
		bank, err := pcr.New(pcr.Seeded(cfg.PCRSeeds...), pcr.Digest(cfg.Digest), cfg.PCRCount)
		if err != nil {
			return nil, err
		}
		return bank.Snapshot(), nil
	case cfg.Measurements != "":
		return toPCR([]byte(cfg.Measurements))
	}
	return nil, nil
}

func run(ctx context.Context, out io.Writer, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	cfg, err := parseFlags(out, args)
	if err != nil {
		return err
	}
	root, err := trustRoot(cfg)
	if err != nil {
		return err
	}
	want, err := expectedPCRs(cfg)
	if err != nil {
		return err
	}
	return attestEnclave(ctx, out, cfg, root, want)
}

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run verifier: %v\n", err)
		os.Exit(1)
	}
}
