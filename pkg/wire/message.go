// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import "time"

// Message is one decoded bridge message
type Message struct {
	msgType   uint8
	payload   map[int]interface{}
	timestamp time.Time
}

// NewMessage creates a message from its type and payload map
func NewMessage(msgType uint8, payload map[int]interface{}) *Message {
	return &Message{
		msgType:   msgType,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Decode parses one WebSocket frame
func Decode(data []byte) (*Message, error) {
	msgType, payload, err := ParseCBORMessage(data)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, payload), nil
}

// Encode returns the CBOR encoding of the message
func (m *Message) Encode() ([]byte, error) {
	return EncodeCBORMessage(m.msgType, m.payload)
}

// Type returns the message type
func (m *Message) Type() uint8 {
	return m.msgType
}

// PayloadMap returns the payload map (nil for empty payloads)
func (m *Message) PayloadMap() map[int]interface{} {
	return m.payload
}

// Timestamp returns when the message was created or received
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}

// IsCommand reports whether the message is a dashboard command
func (m *Message) IsCommand() bool {
	return m.msgType >= 0x20 && m.msgType <= 0x2F
}
