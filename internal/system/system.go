// Package system checks whether the host has the properties that we expect
// from a Nitro Enclave.
package system

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	pathToRNG = "/sys/devices/virtual/misc/hw_random/rng_current"
	wantRNG   = "nsm-hwrng"
)

var (
	errInsecureRNG    = errors.New("system does not use desired RNG")
	errInsecureKernel = errors.New("system does not have minimum desired kernel version")
	// We are looking for kernel version 5.17.12 or later.
	minVersion = [3]int{5, 17, 12}
)

// Check returns an error if the system doesn't use the Nitro hardware RNG or
// runs a kernel without important security updates.  Both checks were
// suggested in:
// https://blog.trailofbits.com/2024/09/24/notes-on-aws-nitro-enclaves-attack-surface/
func Check(log zerolog.Logger) error {
	return check(log, pathToRNG, kernelRelease)
}

func check(log zerolog.Logger, rngPath string, release func() (string, error)) error {
	rng, err := currentRNG(rngPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errInsecureRNG, err)
	}
	log.Info().Str("rng", rng).Msg("Have RNG.")
	if rng != wantRNG {
		return errInsecureRNG
	}

	r, err := release()
	if err != nil {
		return fmt.Errorf("%w: %w", errInsecureKernel, err)
	}
	log.Info().Str("kernel", r).Msg("Have kernel version.")
	if !hasSecureKernelVersion(r) {
		return errInsecureKernel
	}
	return nil
}

func currentRNG(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func hasSecureKernelVersion(release string) bool {
	// Store major, minor, and patch version in an array.
	var version [3]int
	var digit, offset int
	// Parse the kernel version, which is a string of the form "5.17.12", and
	// may be followed by a suffix like "-amzn2".
	for _, char := range release + "." {
		if '0' <= char && char <= '9' {
			digit = digit*10 + int(char-'0')
		} else {
			version[offset] = digit
			digit = 0
			offset++
			if offset >= len(version) {
				break
			}
		}
	}

	for i := range version {
		if version[i] < minVersion[i] {
			return false
		}
		if version[i] > minVersion[i] {
			return true
		}
	}
	return true
}
