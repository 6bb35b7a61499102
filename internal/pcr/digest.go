package pcr

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// Digest names the hash function that PCR values are computed with.  The
// names match the "digest" field of the attestation document.
type Digest string

const (
	SHA256 Digest = "SHA256"
	SHA384 Digest = "SHA384"
	SHA512 Digest = "SHA512"
)

// Valid returns true if the digest is one the Nitro Secure Module knows about.
func (d Digest) Valid() bool {
	return d.Size() > 0
}

// Size returns the length of a digest in bytes, or 0 for unknown digests.
func (d Digest) Size() int {
	switch d {
	case SHA256:
		return sha256.Size
	case SHA384:
		return sha512.Size384
	case SHA512:
		return sha512.Size
	}
	return 0
}

// New returns a new hash.Hash computing the digest.  It returns nil for
// unknown digests.
func (d Digest) New() hash.Hash {
	switch d {
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	}
	return nil
}
