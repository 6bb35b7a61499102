// Package nonce implements the random values that clients embed in
// attestation requests to guarantee the freshness of the resulting
// attestation document.
package nonce

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/url"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
)

// Len is the length of a nonce in bytes.
const Len = 20

var (
	// Accessing rand.Reader via variable facilitates mocking.
	cryptoRead       = rand.Reader
	errNotEnoughRead = errors.New("failed to read enough random bytes")
)

// Nonce is a random value that guarantees attestation document freshness.
type Nonce [Len]byte

// URLEncode returns the nonce as a URL-encoded string.
func (n *Nonce) URLEncode() string {
	return url.QueryEscape(n.B64())
}

// B64 returns the nonce as a Base64-encoded string.
func (n *Nonce) B64() string {
	return base64.StdEncoding.EncodeToString(n[:])
}

// ToSlice returns a copy of the nonce as a byte slice.
func (n *Nonce) ToSlice() []byte {
	return append([]byte(nil), n[:]...)
}

// Matches returns true if the given byte slice equals the nonce.  The
// comparison takes constant time.
func (n *Nonce) Matches(s []byte) bool {
	return subtle.ConstantTimeCompare(n[:], s) == 1
}

// New creates a new nonce.
func New() (*Nonce, error) {
	var newNonce Nonce
	n, err := cryptoRead.Read(newNonce[:])
	if err != nil {
		return nil, errNotEnoughRead
	}
	if n != Len {
		return nil, errNotEnoughRead
	}
	return &newNonce, nil
}

// FromSlice turns a byte slice into a nonce.
func FromSlice(s []byte) (*Nonce, error) {
	if len(s) != Len {
		return nil, errs.InvalidLength
	}

	var n Nonce
	copy(n[:], s[:Len])
	return &n, nil
}
