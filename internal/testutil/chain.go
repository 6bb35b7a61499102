package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pki"
)

// NewChain returns a freshly generated development certificate chain that is
// valid for a day.
func NewChain(t *testing.T) *pki.Chain {
	t.Helper()

	c, err := pki.Generate(24 * time.Hour)
	require.NoError(t, err)
	return c
}
