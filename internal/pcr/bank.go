// Package pcr implements an emulated bank of platform configuration registers
// (PCRs), as exposed by the Nitro Secure Module.
package pcr

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
)

const (
	// DefaultCount is the number of PCRs exposed by the Nitro Secure Module.
	DefaultCount = 16
	// MaxCount is the largest number of PCRs an attestation document may
	// contain.
	MaxCount = 32
	// DefaultDigest is the only digest used by genuine Nitro hardware.
	DefaultDigest = SHA384

	seedDomain = "nsm-nitro-enclave-utils/pcr-seed/v1"
)

var (
	ErrInvalidIndex  = errors.New("invalid PCR index")
	ErrInvalidDigest = errors.New("unsupported PCR digest")
	ErrInvalidCount  = errors.New("invalid number of PCRs")

	// Accessing rand.Reader via variable facilitates mocking.
	cryptoRead = rand.Reader
)

// Register is a single platform configuration register.
type Register struct {
	Index  uint16
	Value  []byte
	Locked bool
}

// Init computes the initial value of the register at the given index.
type Init func(index uint16, digest Digest) ([]byte, error)

// Zeros initializes every register with zero bytes, which is what genuine
// hardware reports for enclaves running in debug mode.
func Zeros() Init {
	return func(_ uint16, digest Digest) ([]byte, error) {
		return make([]byte, digest.Size()), nil
	}
}

// Random fills every register once with cryptographically secure random bytes.
func Random() Init {
	return func(_ uint16, digest Digest) ([]byte, error) {
		v := make([]byte, digest.Size())
		if _, err := io.ReadFull(cryptoRead, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Seeded derives every register from the given seeds.  The value of register i
// is HKDF(digest, ikm, salt, info) where the input key material is the
// length-prefixed concatenation of all seeds, the salt is a fixed domain tag,
// and the info is the domain tag followed by i as big-endian uint16.  Length
// prefixes make the encoding injective, so any change to the seeds, their order,
// or the index yields a different value.
func Seeded(seeds ...string) Init {
	var ikm []byte
	for _, s := range seeds {
		ikm = binary.BigEndian.AppendUint64(ikm, uint64(len(s)))
		ikm = append(ikm, s...)
	}

	return func(index uint16, digest Digest) ([]byte, error) {
		info := binary.BigEndian.AppendUint16([]byte(seedDomain), index)
		r := hkdf.New(digest.New, ikm, []byte(seedDomain), info)
		v := make([]byte, digest.Size())
		if _, err := io.ReadFull(r, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Bank is a fixed-size collection of registers.  The bank's contents are set
// at construction and read concurrently afterwards.
type Bank struct {
	mu        sync.RWMutex
	digest    Digest
	registers []Register
}

// New returns a bank of count registers, each initialized by init and locked.
func New(init Init, digest Digest, count int) (_ *Bank, err error) {
	defer errs.Wrap(&err, "failed to create PCR bank")

	if init == nil {
		return nil, errs.IsNil
	}
	if !digest.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	b := &Bank{
		digest:    digest,
		registers: make([]Register, count),
	}
	for i := range b.registers {
		v, err := init(uint16(i), digest)
		if err != nil {
			return nil, err
		}
		if len(v) != digest.Size() {
			return nil, errs.InvalidLength
		}
		b.registers[i] = Register{Index: uint16(i), Value: v, Locked: true}
	}
	return b, nil
}

// FromValues returns a bank holding pre-generated measurements.  Registers
// missing from values are zero.
func FromValues(values Values, digest Digest, count int) (*Bank, error) {
	for i, v := range values {
		if i >= uint(count) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, i)
		}
		if len(v) != digest.Size() {
			return nil, fmt.Errorf("PCR%d: %w", i, errs.InvalidLength)
		}
	}
	return New(func(index uint16, digest Digest) ([]byte, error) {
		if v, ok := values[uint(index)]; ok {
			return clone(v), nil
		}
		return make([]byte, digest.Size()), nil
	}, digest, count)
}

// Describe returns a copy of the register at the given index.
func (b *Bank) Describe(index uint16) (Register, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if int(index) >= len(b.registers) {
		return Register{}, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	r := b.registers[index]
	r.Value = clone(r.Value)
	return r, nil
}

// Snapshot returns a copy of every register value, keyed by index.
func (b *Bank) Snapshot() Values {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v := make(Values, len(b.registers))
	for _, r := range b.registers {
		v[uint(r.Index)] = clone(r.Value)
	}
	return v
}

// Len returns the number of registers in the bank.
func (b *Bank) Len() int {
	return len(b.registers)
}

// Digest returns the digest the bank's values are computed with.
func (b *Bank) Digest() Digest {
	return b.digest
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
