// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import (
	"fmt"
	"strings"
)

// Mode is the controller's operating state as stored in the mode register.
type Mode uint16

const (
	ModeAuto   Mode = 0
	ModeManual Mode = 1
)

// ParseMode maps a raw register value to a Mode.
func ParseMode(raw uint16) (Mode, error) {
	m := Mode(raw)
	if !m.Valid() {
		return 0, &ModeError{Raw: raw}
	}
	return m, nil
}

// ParseModeName accepts "auto"/"manual" (any case) or the numeric codes.
func ParseModeName(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "0":
		return ModeAuto, nil
	case "manual", "hand", "1":
		return ModeManual, nil
	}
	return 0, &ValidationError{Field: "mode", Value: s, Reason: "expected auto or manual"}
}

// Valid reports whether m is a defined mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeManual:
		return true
	}
	return false
}

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "AUTO"
	case ModeManual:
		return "MANUAL"
	}
	return fmt.Sprintf("Mode(%d)", uint16(m))
}
