// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure reported by the device or its link matches
// ErrDevice; communication failures also match ErrCommunication, while data
// errors (short payloads, unknown mode codes) match ErrProtocol instead.
var (
	ErrDevice        = errors.New("device error")
	ErrCommunication = fmt.Errorf("%w: communication failure", ErrDevice)
	ErrTimeout       = fmt.Errorf("%w: timeout", ErrCommunication)
	ErrTransport     = fmt.Errorf("%w: transport error", ErrCommunication)
	ErrProtocol      = fmt.Errorf("%w: protocol error", ErrDevice)
	ErrInvalidMode   = fmt.Errorf("%w: invalid mode", ErrProtocol)
)

// Sentinels that sit outside the device taxonomy.
var (
	// ErrClosed is returned by every Client call made after Close.
	ErrClosed = errors.New("vsensor: client closed")

	// ErrInvalidArgument marks values rejected before reaching the transport.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoResponse is returned by transports when the device did not answer
	// within the configured timeout, or the link failed mid-exchange.
	ErrNoResponse = errors.New("no response from device")

	// ErrShortResponse describes a read that returned fewer registers than asked.
	ErrShortResponse = errors.New("invalid float response")
)

// Kind classifies a definitive failure after retries are exhausted.
type Kind uint8

const (
	KindTimeout Kind = iota + 1
	KindTransport
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	}
	return ErrDevice
}

// Error is the typed failure returned by Client operations.
type Error struct {
	Kind     Kind
	Op       string
	Address  uint16 // one-indexed
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s at register %d", e.Op, e.Kind, e.Address)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// ModeError reports a mode register value that maps to no known Mode.
type ModeError struct {
	Raw uint16
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("invalid mode: device reported code %d", e.Raw)
}

func (e *ModeError) Unwrap() error {
	return ErrInvalidMode
}

// ValidationError reports an argument rejected at the API boundary.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
	Err    error // optional, more specific cause
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidArgument}
	}
	return []error{ErrInvalidArgument, e.Err}
}

// ExceptionError is a request the device answered with a Modbus exception.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("device exception %d (%s) for function 0x%02X",
		e.ExceptionCode, exceptionName(e.ExceptionCode), e.FunctionCode)
}

func exceptionName(code byte) string {
	switch code {
	case 1:
		return "illegal function"
	case 2:
		return "illegal data address"
	case 3:
		return "illegal data value"
	case 4:
		return "server device failure"
	case 5:
		return "acknowledge"
	case 6:
		return "server device busy"
	case 8:
		return "memory parity error"
	case 10:
		return "gateway path unavailable"
	case 11:
		return "gateway target failed to respond"
	}
	return "unknown"
}

// KindOf returns the taxonomy kind of err, or 0 if err is not a device error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrProtocol) {
		return KindProtocol
	}
	return 0
}
