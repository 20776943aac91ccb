// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wire defines the CBOR messages exchanged between `vsensor serve`
// and remote dashboards over WebSocket.
//
// Every WebSocket binary frame carries exactly one message encoded as a CBOR
// array [msg_type, payload_map], where payload_map uses small integer keys
// or is null.
package wire

// Message types - Commands (Dashboard → Bridge) 0x20-0x2F
const (
	MsgSetSetpoint     = 0x20
	MsgSetMode         = 0x21
	MsgSetHandSetpoint = 0x22
	MsgPingRequest     = 0x2F
)

// Message types - Data (Bridge → Dashboard) 0x30-0x3F
const (
	MsgTelemetry    = 0x30
	MsgPollError    = 0x31
	MsgCommandAck   = 0x32
	MsgPingResponse = 0x3F
)

// Message types - Errors 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
	MsgErrorRejected   = 0xE1
)

// Telemetry payload keys
const (
	KeyPressure  = 0
	KeyOutput    = 1
	KeySetpoint  = 2
	KeyMode      = 3
	KeyHeartbeat = 4
	KeyDisplay   = 5
	KeyTimestamp = 6
	KeySeq       = 7
)

// Command limits enforced by the bridge before touching the device.
const (
	MinSetpoint     = 0.0
	MaxSetpoint     = 5000.0
	MinHandSetpoint = 0.0
	MaxHandSetpoint = 100.0
)
