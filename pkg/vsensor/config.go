// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import "time"

// Config holds connection and protocol parameters. A Client copies it at
// construction; reconnecting with new settings means building a new Client.
type Config struct {
	Port         string
	BaudRate     int
	Parity       string // "N", "E" or "O"
	StopBits     int
	ByteSize     int
	Timeout      time.Duration
	SlaveID      int
	FloatFormat  int
	PollInterval time.Duration
}

// DefaultConfig returns the factory settings of the device.
func DefaultConfig() Config {
	return Config{
		Port:         "/dev/ttyUSB0",
		BaudRate:     9600,
		Parity:       "N",
		StopBits:     1,
		ByteSize:     8,
		Timeout:      1500 * time.Millisecond,
		SlaveID:      1,
		FloatFormat:  int(DefaultFloatFormat),
		PollInterval: time.Second,
	}
}

// Validate checks every field against the ranges the device link supports.
func (c Config) Validate() error {
	if c.BaudRate <= 0 {
		return &ValidationError{Field: "baud rate", Value: c.BaudRate, Reason: "must be positive"}
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		return &ValidationError{Field: "parity", Value: c.Parity, Reason: "expected N, E or O"}
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return &ValidationError{Field: "stop bits", Value: c.StopBits, Reason: "expected 1 or 2"}
	}
	if c.ByteSize < 5 || c.ByteSize > 8 {
		return &ValidationError{Field: "byte size", Value: c.ByteSize, Reason: "expected 5-8"}
	}
	if c.Timeout <= 0 {
		return &ValidationError{Field: "timeout", Value: c.Timeout, Reason: "must be positive"}
	}
	if c.SlaveID < 1 || c.SlaveID > 247 {
		return &ValidationError{Field: "slave id", Value: c.SlaveID, Reason: "expected 1-247"}
	}
	if _, err := ParseFloatFormat(c.FloatFormat); err != nil {
		return &ValidationError{Field: "float format", Value: c.FloatFormat, Reason: "expected 0-3", Err: ErrInvalidFloatFormat}
	}
	if c.PollInterval < 0 {
		return &ValidationError{Field: "poll interval", Value: c.PollInterval, Reason: "must not be negative"}
	}
	return nil
}

// Format returns the validated float layout.
func (c Config) Format() (FloatFormat, error) {
	return ParseFloatFormat(c.FloatFormat)
}
