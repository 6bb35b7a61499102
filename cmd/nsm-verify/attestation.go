package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/config"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/httpx"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nonce"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/service"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/verify"
)

var (
	errFailedToAttest  = errors.New("failed to attest enclave")
	errFailedToConvert = errors.New("failed to convert measurements to PCR")
	errNonceMismatch   = errors.New("attestation document contains wrong nonce")
	errPCRMismatch     = errors.New("PCRs don't match expected PCRs")
)

func attestEnclave(
	ctx context.Context,
	out io.Writer,
	cfg *config.Verify,
	root *verify.TrustRoot,
	want pcr.Values,
) (err error) {
	defer errs.WrapErr(&err, errFailedToAttest)

	// Generate a nonce to ensure that the attestation document is fresh.
	nonce, err := nonce.New()
	if err != nil {
		return err
	}

	req, err := buildReq(ctx, cfg.Addr, nonce)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	// Read the response body first, so we can log it in case of an error.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned %q with body: %s", resp.Status, string(body))
	}

	// Parse the attestation document.
	var rawDoc attestation.RawDocument
	if err := json.Unmarshal(body, &rawDoc); err != nil {
		return err
	}

	// Verify the attestation document, which provides assurance that the
	// document was signed by a key that chains up to the root.  The nonce
	// provides assurance that the document is fresh (instead of a replayed
	// attestation document).
	doc, err := verify.Verify(rawDoc.Doc, root)
	if err != nil {
		color.New(color.FgRed).Fprintln(out, "Attestation document is NOT authentic!")
		return err
	}
	if !nonce.Matches(doc.Nonce) {
		color.New(color.FgRed).Fprintln(out, "Attestation document is NOT fresh!")
		return errNonceMismatch
	}
	color.New(color.FgGreen).Fprintf(out, "Attestation document from %q is authentic.\n", doc.ModuleID)
	if doc.PCRs.FromDebugMode() {
		color.New(color.FgYellow).Fprintln(out, "Enclave runs in debug mode.")
	}
	if cfg.Verbose {
		fmt.Fprintf(out, "PCRs:\n%s", doc.PCRs)
	}
	if want == nil {
		return nil
	}

	// Measurements only contain the image's PCRs, so we disregard empty PCRs
	// of the attestation document.
	got := doc.PCRs
	if len(cfg.PCRSeeds) == 0 {
		got = got.WithoutEmpty()
	}
	if !want.Equal(got) {
		fmt.Fprintf(out, "Expected PCRs:\n%sbut got PCRs:\n%s", want, got)
		color.New(color.FgRed).Fprintln(out, "Enclave's code DOES NOT match local code!")
		return errPCRMismatch
	}
	color.New(color.FgGreen).Fprintln(out, "Enclave's code matches local code!")
	return nil
}

func buildReq(
	ctx context.Context,
	addr string,
	nonce *nonce.Nonce,
) (_ *http.Request, err error) {
	defer errs.Wrap(&err, "failed to build request")

	// Compile the request URL.  The given address should be of the form:
	// https://example.com
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	u.Path = service.PathAttestation
	query := u.Query()
	query.Set(httpx.ParamNonce, nonce.B64())
	u.RawQuery = query.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func toPCR(jsonMsmts []byte) (_ pcr.Values, err error) {
	defer errs.WrapErr(&err, errFailedToConvert)

	// This structs represents the JSON-encoded measurements of the enclave
	// image.  The JSON tags must match the output of the nitro-cli command
	// line tool. An example:
	//
	//	{
	//	  "Measurements": {
	//	    "HashAlgorithm": "Sha384 { ... }",
	//	    "PCR0": "8b927cf0bbf2d668a8c24c69afd23bff2dda713b4f0d70195205950f9a5a1fbb7089ad937e3025ee8d5a084f3d6c9126",
	//	    "PCR1": "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493",
	//	    "PCR2": "22d2194eb27a7cda42e66dd5b91ef13e5a153d797c04ae179e59bef1c93438d6ad0365c175c119230e36d0f8d6b6b59e"
	//	  }
	//	}
	m := struct {
		Measurements struct {
			HashAlgorithm string `json:"HashAlgorithm"`
			PCR0          string `json:"PCR0"`
			PCR1          string `json:"PCR1"`
			PCR2          string `json:"PCR2"`
		} `json:"Measurements"`
	}{}
	if err := json.Unmarshal(jsonMsmts, &m); err != nil {
		return nil, err
	}

	const want = "sha384"
	got := strings.ToLower(m.Measurements.HashAlgorithm)
	if !strings.HasPrefix(got, want) {
		return nil, fmt.Errorf("expected hash algorithm %q but got %q", want, got)
	}

	values := make(pcr.Values)
	for i, s := range []string{m.Measurements.PCR0, m.Measurements.PCR1, m.Measurements.PCR2} {
		v, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		if len(v) != pcr.SHA384.Size() {
			return nil, fmt.Errorf("PCR%d has length %d", i, len(v))
		}
		values[uint(i)] = v
	}
	return values, nil
}
