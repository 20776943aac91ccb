// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"
	"time"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message) string {
	timestamp := m.Timestamp().Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X)\n", timestamp, FormatMessageType(m.Type()), m.Type())
	return result + FormatPayloadMap(m.Type(), m.PayloadMap())
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgSetSetpoint:
		return "SET_SETPOINT"
	case MsgSetMode:
		return "SET_MODE"
	case MsgSetHandSetpoint:
		return "SET_HAND_SETPOINT"
	case MsgPingRequest:
		return "PING_REQUEST"
	case MsgTelemetry:
		return "TELEMETRY"
	case MsgPollError:
		return "POLL_ERROR"
	case MsgCommandAck:
		return "COMMAND_ACK"
	case MsgPingResponse:
		return "PING_RESPONSE"
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"
	case MsgErrorRejected:
		return "ERROR_REJECTED"
	default:
		return "UNKNOWN"
	}
}

// FormatPayloadMap formats the payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgPingRequest:
		return "  (no payload)\n"

	case MsgPingResponse:
		uptime, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Uptime: %s\n", formatDuration(uptime))

	case MsgSetSetpoint:
		v, _ := GetMapFloat(m, 0)
		return fmt.Sprintf("  Setpoint: %.2f\n", v)

	case MsgSetHandSetpoint:
		v, _ := GetMapFloat(m, 0)
		return fmt.Sprintf("  Hand Setpoint: %.1f%%\n", v)

	case MsgSetMode:
		mode, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Mode: %s (%d)\n", FormatMode(uint16(mode)), mode)

	case MsgTelemetry:
		t, err := ParseTelemetry(NewMessage(msgType, m))
		if err != nil {
			return fmt.Sprintf("  (malformed: %v)\n", err)
		}
		return fmt.Sprintf("  Pressure: %.2f Pa, Output: %.1f%%, Setpoint: %.2f, Mode: %s, HB: %d, Display: %.2f\n",
			t.Pressure, t.Output, t.Setpoint, FormatMode(t.Mode), t.Heartbeat, t.Display)

	case MsgPollError:
		kind, _ := GetMapString(m, 0)
		msg, _ := GetMapString(m, 1)
		return fmt.Sprintf("  Kind: %s, Error: %s\n", kind, msg)

	case MsgCommandAck, MsgErrorInvalidCmd:
		cmd, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Command: %s (0x%02X)\n", FormatMessageType(uint8(cmd)), cmd)

	case MsgErrorRejected:
		cmd, _ := GetMapUint(m, 0)
		reason, _ := GetMapString(m, 1)
		return fmt.Sprintf("  Command: %s (0x%02X), Reason: %s\n", FormatMessageType(uint8(cmd)), cmd, reason)
	}

	return fmt.Sprintf("  Payload: %v\n", m)
}

// FormatMode returns the name of a mode code
func FormatMode(mode uint16) string {
	switch mode {
	case 0:
		return "AUTO"
	case 1:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

func formatDuration(ms uint64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%d.%03ds", s, ms%1000)
}
