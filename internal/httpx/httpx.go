// Package httpx implements utility functions related to HTTP.
package httpx

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nonce"
)

const (
	ParamNonce = "nonce"
	// ContentTypeCBOR is the media type of NSM requests and responses.
	ContentTypeCBOR = "application/cbor"
)

var (
	errBadForm          = errors.New("failed to parse POST form data")
	errNoNonce          = errors.New("could not find nonce in URL query parameters")
	errBadNonceFormat   = errors.New("unexpected nonce format; must be Base64 string")
	errDeadlineExceeded = errors.New("deadline exceeded")
)

// ExtractNonce extracts a nonce from the HTTP request's parameters, e.g.:
// https://example.com/endpoint?nonce=jtEcS7icZiwF5GMvmvnjuZ9xjcc%3D
func ExtractNonce(r *http.Request) (n *nonce.Nonce, err error) {
	defer errs.Wrap(&err, "failed to extract nonce from request")

	if err := r.ParseForm(); err != nil {
		return nil, errBadForm
	}

	strNonce := r.URL.Query().Get(ParamNonce)
	if strNonce == "" {
		return nil, errNoNonce
	}

	// Decode Base64-encoded nonce.
	rawNonce, err := base64.StdEncoding.DecodeString(strNonce)
	if err != nil {
		return nil, errBadNonceFormat
	}

	n, err = nonce.FromSlice(rawNonce)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// WaitForSvc waits for the service (specified by the URL) to become available
// by making repeated HTTP GET requests using the given HTTP client.  This
// function blocks until 1) the service responds with an HTTP response or 2) the
// given context expires.
func WaitForSvc(
	ctx context.Context,
	client *http.Client,
	url string,
) (err error) {
	defer errs.Wrap(&err, "failed to wait for service")

	if _, ok := ctx.Deadline(); !ok {
		return errors.New("context has no deadline")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	for {
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return errDeadlineExceeded
		case <-time.After(10 * time.Millisecond):
		}
	}
}
