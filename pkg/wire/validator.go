// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"
	"math"
)

// AnomalyType classifies a validation failure
type AnomalyType int

const (
	AnomalyUnknownType AnomalyType = iota
	AnomalyMissingField
	AnomalyOutOfRange
	AnomalyNotFinite
)

// ValidationError represents a message validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateCommand checks a dashboard command before it reaches the device.
// Returns a slice of validation errors (empty if the command is valid).
func ValidateCommand(m *Message) []ValidationError {
	switch m.Type() {
	case MsgSetSetpoint:
		return validateFloatRange(m, "setpoint", MinSetpoint, MaxSetpoint)
	case MsgSetHandSetpoint:
		return validateFloatRange(m, "hand setpoint", MinHandSetpoint, MaxHandSetpoint)
	case MsgSetMode:
		return validateMode(m)
	case MsgPingRequest:
		return nil
	}
	return []ValidationError{{
		Type:    AnomalyUnknownType,
		Message: fmt.Sprintf("unsupported command 0x%02X", m.Type()),
		Details: map[string]interface{}{"type": m.Type()},
	}}
}

func validateFloatRange(m *Message, name string, min, max float64) []ValidationError {
	v, ok := GetMapFloat(m.PayloadMap(), 0)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: fmt.Sprintf("%s missing value", FormatMessageType(m.Type())),
		}}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []ValidationError{{
			Type:    AnomalyNotFinite,
			Message: fmt.Sprintf("%s must be finite", name),
			Details: map[string]interface{}{"value": v},
		}}
	}
	if v < min || v > max {
		return []ValidationError{{
			Type:    AnomalyOutOfRange,
			Message: fmt.Sprintf("%s %.2f out of range (%.0f-%.0f)", name, v, min, max),
			Details: map[string]interface{}{"value": v, "min": min, "max": max},
		}}
	}
	return nil
}

func validateMode(m *Message) []ValidationError {
	mode, ok := GetMapUint(m.PayloadMap(), 0)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: "SET_MODE missing mode",
		}}
	}
	if mode > 1 {
		return []ValidationError{{
			Type:    AnomalyOutOfRange,
			Message: fmt.Sprintf("invalid mode=%d (expected 0 AUTO or 1 MANUAL)", mode),
			Details: map[string]interface{}{"mode": mode},
		}}
	}
	return nil
}
