// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"
	"time"
)

// Builder functions create Messages with the correct payload keys.

// NewSetSetpoint creates a SET_SETPOINT command (0x20).
// 0 => setpoint (float)
func NewSetSetpoint(value float64) *Message {
	return NewMessage(MsgSetSetpoint, map[int]interface{}{0: value})
}

// NewSetMode creates a SET_MODE command (0x21).
// 0 => mode code (0 AUTO, 1 MANUAL)
func NewSetMode(mode uint16) *Message {
	return NewMessage(MsgSetMode, map[int]interface{}{0: uint64(mode)})
}

// NewSetHandSetpoint creates a SET_HAND_SETPOINT command (0x22).
// 0 => output percent (float)
func NewSetHandSetpoint(percent float64) *Message {
	return NewMessage(MsgSetHandSetpoint, map[int]interface{}{0: percent})
}

// NewPingRequest creates a PING_REQUEST (0x2F).
// The bridge responds with PING_RESPONSE containing its uptime.
func NewPingRequest() *Message {
	return NewMessage(MsgPingRequest, nil)
}

// NewPingResponse creates a PING_RESPONSE (0x3F).
// 0 => uptime-ms
func NewPingResponse(uptime time.Duration) *Message {
	return NewMessage(MsgPingResponse, map[int]interface{}{0: uint64(uptime.Milliseconds())})
}

// Telemetry is the content of a TELEMETRY message.
type Telemetry struct {
	Pressure  float64
	Output    float64
	Setpoint  float64
	Mode      uint16
	Heartbeat uint16
	Display   float64
	Time      time.Time
	Seq       uint64
}

// NewTelemetry creates a TELEMETRY message (0x30).
func NewTelemetry(t Telemetry) *Message {
	return NewMessage(MsgTelemetry, map[int]interface{}{
		KeyPressure:  t.Pressure,
		KeyOutput:    t.Output,
		KeySetpoint:  t.Setpoint,
		KeyMode:      uint64(t.Mode),
		KeyHeartbeat: uint64(t.Heartbeat),
		KeyDisplay:   t.Display,
		KeyTimestamp: uint64(t.Time.UnixMilli()),
		KeySeq:       t.Seq,
	})
}

// ParseTelemetry extracts a Telemetry from a TELEMETRY message.
func ParseTelemetry(m *Message) (Telemetry, error) {
	if m.Type() != MsgTelemetry {
		return Telemetry{}, fmt.Errorf("expected TELEMETRY, got %s", FormatMessageType(m.Type()))
	}
	p := m.PayloadMap()

	var t Telemetry
	var ok bool
	if t.Pressure, ok = GetMapFloat(p, KeyPressure); !ok {
		return Telemetry{}, fmt.Errorf("telemetry missing pressure")
	}
	if t.Output, ok = GetMapFloat(p, KeyOutput); !ok {
		return Telemetry{}, fmt.Errorf("telemetry missing output")
	}
	if t.Setpoint, ok = GetMapFloat(p, KeySetpoint); !ok {
		return Telemetry{}, fmt.Errorf("telemetry missing setpoint")
	}
	mode, ok := GetMapUint(p, KeyMode)
	if !ok {
		return Telemetry{}, fmt.Errorf("telemetry missing mode")
	}
	t.Mode = uint16(mode)

	hb, _ := GetMapUint(p, KeyHeartbeat)
	t.Heartbeat = uint16(hb)
	t.Display, _ = GetMapFloat(p, KeyDisplay)
	if ms, ok := GetMapUint(p, KeyTimestamp); ok {
		t.Time = time.UnixMilli(int64(ms))
	}
	t.Seq, _ = GetMapUint(p, KeySeq)
	return t, nil
}

// NewPollError creates a POLL_ERROR message (0x31).
// 0 => error kind (timeout, transport, protocol), 1 => message
func NewPollError(kind, message string) *Message {
	return NewMessage(MsgPollError, map[int]interface{}{0: kind, 1: message})
}

// NewCommandAck creates a COMMAND_ACK message (0x32).
// 0 => acknowledged command type
func NewCommandAck(cmdType uint8) *Message {
	return NewMessage(MsgCommandAck, map[int]interface{}{0: uint64(cmdType)})
}

// NewInvalidCommand creates an ERROR_INVALID_CMD message (0xE0).
// 0 => offending message type
func NewInvalidCommand(cmdType uint8) *Message {
	return NewMessage(MsgErrorInvalidCmd, map[int]interface{}{0: uint64(cmdType)})
}

// NewRejected creates an ERROR_REJECTED message (0xE1).
// 0 => rejected command type, 1 => reason
func NewRejected(cmdType uint8, reason string) *Message {
	return NewMessage(MsgErrorRejected, map[int]interface{}{0: uint64(cmdType), 1: reason})
}
