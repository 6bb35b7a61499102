// Package handle implements the service's HTTP handlers.
package handle

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/httperr"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/httpx"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
)

const (
	// ParamIndex is the URL parameter that holds a PCR index.
	ParamIndex = "index"
	// maxRequestLen bounds the size of CBOR-encoded NSM requests.  The largest
	// legitimate request is an attestation request with three maxed-out
	// auxiliary fields.
	maxRequestLen = 16 * 1024
)

// PCR is the JSON representation of a single PCR.
type PCR struct {
	Index uint16 `json:"index"`
	Lock  bool   `json:"lock"`
	Data  []byte `json:"data"`
}

// Index informs the visitor about the kind of module that this host serves.
func Index(devMode bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if devMode {
			fmt.Fprintln(w, "This host serves an emulated Nitro Secure Module.  "+
				"Its attestation documents are NOT signed by AWS.")
		} else {
			fmt.Fprintln(w, "This host serves the Nitro Secure Module of an AWS Nitro Enclave.")
		}
	}
}

// Config returns the given configuration.  If the client provided a nonce, an
// attestation document over the response body is added to the response
// header.
func Config[T any](m nsm.Module, cfg T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encodeAndMaybeAttest(w, r, http.StatusOK, m, cfg)
	}
}

// Attestation returns an attestation document that contains the client's
// nonce.
func Attestation(m nsm.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := httpx.ExtractNonce(r)
		if err != nil {
			httperr.Write(w, http.StatusBadRequest, err.Error())
			return
		}

		doc, code := attest(m, nsm.Attestation{Nonce: n.ToSlice()})
		if doc == nil {
			httperr.Write(w, statusOf(code), "failed to create attestation document: "+string(code))
			return
		}
		encode(w, http.StatusOK, doc)
	}
}

// DescribePCR returns the value of the PCR whose index is in the URL.
func DescribePCR(m nsm.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.ParseUint(chi.URLParam(r, ParamIndex), 10, 16)
		if err != nil {
			httperr.Write(w, http.StatusBadRequest, "PCR index must be an integer in [0, 65535]")
			return
		}

		switch resp := m.Process(nsm.DescribePCR{Index: uint16(index)}).(type) {
		case nsm.DescribePCRResponse:
			encode(w, http.StatusOK, &PCR{
				Index: uint16(index),
				Lock:  resp.Lock,
				Data:  resp.Data,
			})
		case nsm.ErrorResponse:
			httperr.Write(w, statusOf(resp.Code), string(resp.Code))
		default:
			httperr.Write(w, http.StatusInternalServerError, string(nsm.InvalidResponse))
		}
	}
}

// NSM forwards a CBOR-encoded NSM request to the module and returns the
// module's CBOR-encoded response.  Protocol-level errors are part of the
// response body, so the status code is 200 for every well-formed request.
func NSM(m nsm.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestLen+1))
		if err != nil {
			httperr.Write(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(body) > maxRequestLen {
			httperr.Write(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}

		req, err := nsm.DecodeRequest(body)
		if err != nil {
			httperr.Write(w, http.StatusBadRequest, err.Error())
			return
		}
		b, err := nsm.EncodeResponse(m.Process(req))
		if err != nil {
			httperr.Write(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", httpx.ContentTypeCBOR)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
