// Package config holds the configuration of the repository's binaries.  Each
// configuration implements validate.Validator.
package config

import (
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/types/validate"
)

var (
	_ = validate.Validator(&Server{})
	_ = validate.Validator(&Verify{})
	_ = validate.Validator(&Keygen{})
)

func isValidPort(port int) bool {
	return port > 0 && port < 65536
}
