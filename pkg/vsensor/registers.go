// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import (
	"fmt"
	"sort"
	"strings"
)

// Register describes one named quantity in the device's holding register map.
// Address is the one-indexed number printed in the device documentation.
type Register struct {
	Name    string
	Address uint16
	Width   uint16 // 1 for 16-bit integers, 2 for 32-bit floats
	Signed  bool
}

// Device register map (one-indexed)
var (
	RegHeartbeat    = Register{Name: "heartbeat", Address: 146, Width: 1}
	RegDisplayValue = Register{Name: "display", Address: 149, Width: 2}
	RegPressure     = Register{Name: "pressure", Address: 151, Width: 2}
	RegAutoSetpoint = Register{Name: "setpoint", Address: 153, Width: 2}
	RegRawOutput    = Register{Name: "raw_output", Address: 155, Width: 1, Signed: true}
	RegMode         = Register{Name: "mode", Address: 156, Width: 1}
	RegHandSetpoint = Register{Name: "hand_setpoint", Address: 165, Width: 2}
	RegOutput       = Register{Name: "output", Address: 167, Width: 2}
	RegLowAlarm     = Register{Name: "low_alarm", Address: 216, Width: 2}
	RegHighAlarm    = Register{Name: "high_alarm", Address: 218, Width: 2}
)

var registerMap = []Register{
	RegHeartbeat,
	RegDisplayValue,
	RegPressure,
	RegAutoSetpoint,
	RegRawOutput,
	RegMode,
	RegHandSetpoint,
	RegOutput,
	RegLowAlarm,
	RegHighAlarm,
}

// Registers returns a copy of the register map sorted by address.
func Registers() []Register {
	out := make([]Register, len(registerMap))
	copy(out, registerMap)
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// LookupRegister finds a register by its name (case-insensitive).
func LookupRegister(name string) (Register, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range registerMap {
		if r.Name == name {
			return r, true
		}
	}
	return Register{}, false
}

// Wire returns the zero-indexed address sent on the wire.
func (r Register) Wire() uint16 {
	return r.Address - 1
}

// Last returns the one-indexed address of the last register spanned.
func (r Register) Last() uint16 {
	return r.Address + r.Width - 1
}

func (r Register) String() string {
	return fmt.Sprintf("%s@%d/%d", r.Name, r.Address, r.Width)
}

// WireAddress converts a one-indexed register number to its zero-indexed wire
// address. All transport calls go through this conversion.
func WireAddress(address uint16) (uint16, error) {
	if address == 0 {
		return 0, &ValidationError{Field: "address", Value: address, Reason: "register numbers start at 1"}
	}
	return address - 1, nil
}
