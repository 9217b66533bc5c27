package model

import (
	"fmt"
	"strings"
)

// SystemMode selects who may drive the actuators.
type SystemMode string

const (
	ModeAutomatic SystemMode = "automatic"
	ModeManual    SystemMode = "manual"
)

func (m SystemMode) String() string { return string(m) }

// Valid reports whether m is one of the two known modes.
func (m SystemMode) Valid() bool { return m == ModeAutomatic || m == ModeManual }

// ParseMode accepts "automatic" or "manual", case-insensitively.
func ParseMode(s string) (SystemMode, error) {
	m := SystemMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}
