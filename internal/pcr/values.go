package pcr

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/util/must"
)

// parentIndex is the PCR that contains a hash over the parent instance's ID.
// Enclaves of the same image that run on different parent instances will
// always differ in this PCR:
// https://docs.aws.amazon.com/enclaves/latest/user/set-up-attestation.html
const parentIndex = 4

// Sorting map keys makes the encoding of a set of values deterministic.
var sortedEnc = must.Get(cbor.CanonicalEncOptions().EncMode())

// Values maps PCR indices to measurements, as contained in an attestation
// document.
type Values map[uint][]byte

// MarshalCBOR encodes the values as a map with ascending keys.
func (v Values) MarshalCBOR() ([]byte, error) {
	return sortedEnc.Marshal(map[uint][]byte(v))
}

// Equal returns true if (and only if) the two given sets of values are
// identical, disregarding PCR4.
func (ours Values) Equal(theirs Values) bool {
	count := func(v Values) int {
		if _, ok := v[parentIndex]; ok {
			return len(v) - 1
		}
		return len(v)
	}
	if count(ours) != count(theirs) {
		return false
	}

	for i, ourValue := range ours {
		if i == parentIndex {
			continue
		}
		theirValue, exists := theirs[i]
		if !exists || !bytes.Equal(ourValue, theirValue) {
			return false
		}
	}
	return true
}

// FromDebugMode returns true if PCR0, PCR1, and PCR2 are all zero, which is
// the case for enclaves started in debug mode.
func (v Values) FromDebugMode() bool {
	for _, i := range []uint{0, 1, 2} {
		value, ok := v[i]
		if !ok || len(value) == 0 || !bytes.Equal(value, make([]byte, len(value))) {
			return false
		}
	}
	return true
}

// WithoutEmpty returns a copy of the values that omits all-zero registers.
func (v Values) WithoutEmpty() Values {
	res := make(Values)
	for i, value := range v {
		if !bytes.Equal(value, make([]byte, len(value))) {
			res[i] = value
		}
	}
	return res
}

func (v Values) String() string {
	keys := make([]uint, 0, len(v))
	for i := range v {
		keys = append(keys, i)
	}
	slices.Sort(keys)

	var s strings.Builder
	for _, i := range keys {
		fmt.Fprintf(&s, "PCR%d: %s\n", i, hex.EncodeToString(v[i]))
	}
	return s.String()
}
