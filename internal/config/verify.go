package config

import (
	"fmt"
	"net/url"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/pcr"
)

// Verify represents nsm-verify's configuration.
type Verify struct {
	// Addr contains the service's address, e.g.:
	//	http://127.0.0.1:8080
	Addr string

	// RootFile contains the PEM-encoded root certificate that attestation
	// documents are verified against.  If empty, the AWS Nitro Enclaves root
	// is used.
	RootFile string

	// PCRSeeds, PCRCount, and Digest describe the seeded PCRs that the
	// attestation document is expected to contain.  The comparison is skipped
	// if no seeds are given.
	PCRSeeds []string
	PCRCount int
	Digest   string

	// Measurements contains the JSON-encoded image measurements that
	// 'nitro-cli build-enclave' prints.  It must not be used together with
	// PCRSeeds.
	Measurements string

	// Verbose prints extra information if set to true.
	Verbose bool
}

func (c *Verify) Validate() map[string]string {
	problems := make(map[string]string)

	// Ensure that required arguments are set.
	if c.Addr == "" {
		problems["-addr"] = "argument is required"
	} else if u, err := url.Parse(c.Addr); err != nil || u.Scheme == "" || u.Host == "" {
		problems["-addr"] = "must be an absolute URL"
	}

	if len(c.PCRSeeds) > 0 && c.Measurements != "" {
		problems["-pcrs"] = "must not be used together with -pcr-seed"
	}
	if len(c.PCRSeeds) > 0 {
		if c.PCRCount < 1 || c.PCRCount > pcr.MaxCount {
			problems["-pcr-count"] = fmt.Sprintf("must be in [1, %d]", pcr.MaxCount)
		}
		if !pcr.Digest(c.Digest).Valid() {
			problems["-digest"] = "must be one of SHA256, SHA384, or SHA512"
		}
	}

	return problems
}
