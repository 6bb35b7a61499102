package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/config"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pki"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/types/validate"
)

var errFailedToParse = errors.New("failed to parse flags")

func parseFlags(out io.Writer, args []string) (_ *config.Keygen, err error) {
	defer errs.WrapErr(&err, errFailedToParse)

	fs := flag.NewFlagSet("nsm-keygen", flag.ContinueOnError)
	fs.SetOutput(out)

	dir := fs.String(
		"dir",
		"",
		"Directory that the chain is written to (default: print JSON to stdout)",
	)
	format := fs.String(
		"format",
		string(pki.PEM),
		"Output format: pem or der",
	)
	days := fs.Int(
		"days",
		365,
		"Number of days that the certificates are valid for",
	)
	password := fs.String(
		"password",
		"",
		"Password that encrypts the signing key",
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &config.Keygen{
		OutDir:    *dir,
		Format:    *format,
		ValidDays: *days,
		Password:  *password,
	}
	if err := validate.Object(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func generate(out io.Writer, cfg *config.Keygen) (err error) {
	defer errs.Wrap(&err, "failed to generate certificate chain")

	format, err := pki.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	chain, err := pki.Generate(time.Duration(cfg.ValidDays) * 24 * time.Hour)
	if err != nil {
		return err
	}
	enc, err := chain.Encode(format, []byte(cfg.Password))
	if err != nil {
		return err
	}

	if cfg.OutDir != "" {
		return enc.WriteDir(cfg.OutDir, format)
	}
	b, err := enc.MarshalFormat(format)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func run(_ context.Context, out io.Writer, args []string) error {
	cfg, err := parseFlags(out, args)
	if err != nil {
		return err
	}
	return generate(out, cfg)
}

func main() {
	if err := run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run keygen: %v\n", err)
		os.Exit(1)
	}
}
