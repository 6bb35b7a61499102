package pcr

import (
	"fmt"
	"strings"
)

// Mode selects how a bank's registers are initialized.
type Mode string

const (
	ModeZero   Mode = "zero"
	ModeSeeded Mode = "seeded"
	ModeRandom Mode = "random"
)

// ParseMode turns the given string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeZero, ModeSeeded, ModeRandom:
		return m, nil
	}
	return "", fmt.Errorf("unknown PCR mode %q", s)
}

// Init returns the initializer for the mode.  Seeds are only used by
// ModeSeeded.
func (m Mode) Init(seeds ...string) (Init, error) {
	switch m {
	case ModeZero:
		return Zeros(), nil
	case ModeSeeded:
		if len(seeds) == 0 {
			return nil, fmt.Errorf("PCR mode %q requires at least one seed", m)
		}
		return Seeded(seeds...), nil
	case ModeRandom:
		return Random(), nil
	}
	return nil, fmt.Errorf("unknown PCR mode %q", m)
}
