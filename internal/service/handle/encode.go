package handle

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/attestation"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/httperr"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/httpx"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
)

// AttestationHeader carries the attestation document that attests to a
// response body.
const AttestationHeader = "X-NSM-Attestation"

func encode[T any](w http.ResponseWriter, status int, v T) {
	b, err := json.Marshal(v)
	if err != nil {
		httperr.Write(w, http.StatusInternalServerError, "failed to encode JSON")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintln(w, string(b))
}

func encodeAndMaybeAttest[T any](
	w http.ResponseWriter,
	r *http.Request,
	status int,
	m nsm.Module,
	v T,
) {
	// Depending on if the request contains a nonce, either return the JSON
	// response without attestation or include an attestation document in the
	// response.
	if _, err := httpx.ExtractNonce(r); err != nil {
		encode(w, status, v)
	} else {
		encodeAndAttest(w, r, status, m, v)
	}
}

func encodeAndAttest[T any](
	w http.ResponseWriter,
	r *http.Request,
	status int,
	m nsm.Module,
	v T,
) {
	// Try to extract the client's nonce from the request. If this fails, abort
	// attestation because the client no longer has a way to verify the
	// attestation document's freshness.
	n, err := httpx.ExtractNonce(r)
	if err != nil {
		httperr.Write(w, http.StatusBadRequest, "found no valid nonce in HTTP request")
		return
	}

	body, err := json.Marshal(v)
	if err != nil {
		httperr.Write(w, http.StatusInternalServerError, "failed to encode JSON")
		return
	}

	// Hash the JSON body and request an attestation document containing the
	// hash and the client's nonce.
	hash := sha256.Sum256(body)
	doc, code := attest(m, nsm.Attestation{
		Nonce:    n.ToSlice(),
		UserData: hash[:],
	})
	if doc == nil {
		httperr.Write(w, statusOf(code), "failed to attest HTTP response: "+string(code))
		return
	}

	b, err := json.Marshal(doc)
	if err != nil {
		httperr.Write(w, http.StatusInternalServerError, "failed to encode JSON")
		return
	}

	// The header may exceed 8 KiB but still fits comfortably into the 1 MiB
	// default limit for HTTP headers.  See http.Server's MaxHeaderBytes for
	// more details.
	w.Header().Set(AttestationHeader, string(b))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintln(w, string(body))
}

// attest asks the module for an attestation document.  If the module fails,
// the document is nil and the error code says why.
func attest(m nsm.Module, req nsm.Attestation) (*attestation.RawDocument, nsm.ErrorCode) {
	switch resp := m.Process(req).(type) {
	case nsm.AttestationResponse:
		return &attestation.RawDocument{
			Type: attestation.TypeNitro,
			Doc:  resp.Document,
		}, nsm.Success
	case nsm.ErrorResponse:
		return nil, resp.Code
	}
	return nil, nsm.InvalidResponse
}

// statusOf maps an NSM error code to an HTTP status code.
func statusOf(code nsm.ErrorCode) int {
	switch code {
	case nsm.InvalidArgument, nsm.InvalidIndex, nsm.InputTooLarge, nsm.ReadOnlyIndex:
		return http.StatusBadRequest
	case nsm.InvalidOperation:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
