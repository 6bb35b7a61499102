package config

import (
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pki"
)

// Keygen represents nsm-keygen's configuration.
type Keygen struct {
	// OutDir is the directory that the chain is written to.  If empty, the
	// chain is printed to stdout as JSON.
	OutDir string

	// Format is either "pem" or "der".
	Format string

	// ValidDays is the number of days that the chain's certificates are
	// valid for.
	ValidDays int

	// Password encrypts the signing key if set.
	Password string
}

func (c *Keygen) Validate() map[string]string {
	problems := make(map[string]string)

	if _, err := pki.ParseFormat(c.Format); err != nil {
		problems["-format"] = err.Error()
	}
	if c.ValidDays < 1 {
		problems["-days"] = "must be at least 1"
	}

	return problems
}
