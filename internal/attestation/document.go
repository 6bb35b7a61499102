// Package attestation implements the construction and signing of AWS Nitro
// Enclave attestation documents.
package attestation

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
)

const (
	// See page 65 of the AWS Nitro Enclaves user guide for reference:
	// https://docs.aws.amazon.com/pdfs/enclaves/latest/user/enclaves-user.pdf
	AuxFieldLen = 1024

	TypeNitro = "nitro"
)

// RawDocument holds a COSE-encoded attestation document, as handed to
// clients over HTTP.
type RawDocument struct {
	Type string `json:"type"`
	Doc  []byte `json:"attestation_document"`
}

// Document represents the AWS Nitro Enclave attestation document as specified
// on page 70 of:
// https://docs.aws.amazon.com/pdfs/enclaves/latest/user/enclaves-user.pdf
// The order of the struct's fields determines the order of the encoded map.
type Document struct {
	ModuleID    string     `cbor:"module_id" json:"module_id"`
	Digest      pcr.Digest `cbor:"digest" json:"digest"`
	Timestamp   uint64     `cbor:"timestamp" json:"timestamp"`
	PCRs        pcr.Values `cbor:"pcrs" json:"pcrs"`
	Certificate []byte     `cbor:"certificate" json:"certificate"`
	CABundle    [][]byte   `cbor:"cabundle" json:"cabundle"`
	AuxInfo
}

// AuxInfo represents auxiliary information that can be included in the
// attestation document.  Absent fields are omitted from the encoding.
type AuxInfo struct {
	PublicKey []byte `cbor:"public_key,omitempty" json:"public_key,omitempty"`
	UserData  []byte `cbor:"user_data,omitempty" json:"user_data,omitempty"`
	Nonce     []byte `cbor:"nonce,omitempty" json:"nonce,omitempty"`
}

// Encode returns the document's CBOR encoding, which is what gets signed.
func (d *Document) Encode() ([]byte, error) {
	return cbor.Marshal(d)
}

// DecodeDocument decodes the given CBOR-encoded attestation document.  The
// document is not validated.
func DecodeDocument(b []byte) (*Document, error) {
	var doc Document
	if err := cbor.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode attestation document: %w", err)
	}
	return &doc, nil
}

// Time returns the document's timestamp.
func (d *Document) Time() time.Time {
	return time.UnixMilli(int64(d.Timestamp))
}

// Validate performs sanity checks on the attestation document.
func (d *Document) Validate() error {
	if d.ModuleID == "" ||
		d.Digest == "" ||
		d.Timestamp == 0 ||
		d.PCRs == nil ||
		d.Certificate == nil ||
		d.CABundle == nil {
		return errors.New("mandatory fields missing")
	}
	if !d.Digest.Valid() {
		return fmt.Errorf("payload 'digest' %q is unsupported", d.Digest)
	}
	if len(d.PCRs) < 1 || len(d.PCRs) > pcr.MaxCount {
		return fmt.Errorf("payload 'pcrs' is less than 1 or more than %d", pcr.MaxCount)
	}
	for key, value := range d.PCRs {
		if key >= pcr.MaxCount {
			return fmt.Errorf("payload 'pcrs' key index exceeds %d", pcr.MaxCount-1)
		}
		if len(value) != d.Digest.Size() {
			return fmt.Errorf("payload 'pcrs' not of length %d", d.Digest.Size())
		}
	}
	for _, item := range d.CABundle {
		if len(item) == 0 {
			return errors.New("payload 'cabundle' has an empty item")
		}
	}

	if len(d.PublicKey) > AuxFieldLen {
		return errors.New("payload 'public_key' exceeds maximum length")
	}
	if len(d.UserData) > AuxFieldLen {
		return errors.New("payload 'user_data' exceeds maximum length")
	}
	if len(d.Nonce) > AuxFieldLen {
		return errors.New("payload 'nonce' exceeds maximum length")
	}
	return nil
}
