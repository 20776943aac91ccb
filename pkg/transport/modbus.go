// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport connects vsensor clients to real devices over Modbus RTU
// or Modbus TCP.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

// registerClient is the part of modbus.Client used for holding registers.
type registerClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Modbus adapts a goburrow client to vsensor.Transport.
type Modbus struct {
	client registerClient
	closer io.Closer
	desc   string

	once     sync.Once
	closeErr error
}

var _ vsensor.Transport = (*Modbus)(nil)

func newModbus(client registerClient, closer io.Closer, desc string) *Modbus {
	return &Modbus{client: client, closer: closer, desc: desc}
}

// OpenRTU opens the serial port named in cfg and returns a connected transport.
func OpenRTU(cfg vsensor.Config, logger zerolog.Logger) (*Modbus, error) {
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = cfg.ByteSize
	handler.Parity = cfg.Parity
	handler.StopBits = cfg.StopBits
	handler.SlaveId = byte(cfg.SlaveID)
	handler.Timeout = cfg.Timeout
	if logger.GetLevel() <= zerolog.TraceLevel {
		handler.Logger = log.New(logger.With().Str("component", "rtu").Logger(), "", 0)
	}

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	desc := fmt.Sprintf("Serial: %s @ %d baud %d%s%d, slave %d",
		cfg.Port, cfg.BaudRate, cfg.ByteSize, cfg.Parity, cfg.StopBits, cfg.SlaveID)
	return newModbus(modbus.NewClient(handler), handler, desc), nil
}

// OpenTCP connects to a Modbus TCP server such as a gateway or `vsensor simulate`.
func OpenTCP(address string, cfg vsensor.Config, logger zerolog.Logger) (*Modbus, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = byte(cfg.SlaveID)
	handler.Timeout = cfg.Timeout
	if logger.GetLevel() <= zerolog.TraceLevel {
		handler.Logger = log.New(logger.With().Str("component", "tcp").Logger(), "", 0)
	}

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	desc := fmt.Sprintf("TCP: %s, slave %d", address, cfg.SlaveID)
	return newModbus(modbus.NewClient(handler), handler, desc), nil
}

// String describes the link for status lines.
func (m *Modbus) String() string {
	return m.desc
}

func (m *Modbus) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	data, err := m.client.ReadHoldingRegisters(address, count)
	if isMalformedResponse(err) {
		// Reported as a short read so the caller's re-read layer decides.
		return []uint16{}, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return unpackRegisters(data), nil
}

func (m *Modbus) WriteRegister(address, value uint16) error {
	_, err := m.client.WriteSingleRegister(address, value)
	return mapError(err)
}

func (m *Modbus) WriteRegisters(address uint16, values []uint16) error {
	_, err := m.client.WriteMultipleRegisters(address, uint16(len(values)), packRegisters(values))
	return mapError(err)
}

// Close closes the underlying port or socket once; later calls return the
// first result.
func (m *Modbus) Close() error {
	m.once.Do(func() {
		if m.closer != nil {
			m.closeErr = m.closer.Close()
		}
	})
	return m.closeErr
}

// mapError converts goburrow failures into the vsensor taxonomy. Exception
// responses become *vsensor.ExceptionError and a malformed answer stays a
// plain transport fault. Anything else means the device gave no usable answer.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &vsensor.ExceptionError{FunctionCode: mbErr.FunctionCode, ExceptionCode: mbErr.ExceptionCode}
	}
	if isMalformedResponse(err) {
		return fmt.Errorf("malformed response: %w", err)
	}
	return fmt.Errorf("%w: %v", vsensor.ErrNoResponse, err)
}

// isMalformedResponse reports goburrow's payload shape checks, which fire
// after a complete frame arrived with the wrong data length or echo.
func isMalformedResponse(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "modbus: response data") ||
		strings.HasPrefix(msg, "modbus: response address") ||
		strings.HasPrefix(msg, "modbus: response value") ||
		strings.HasPrefix(msg, "modbus: response quantity")
}

// unpackRegisters decodes big-endian register payload bytes. A trailing odd
// byte is dropped, so a truncated payload yields fewer registers.
func unpackRegisters(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return out
}

func packRegisters(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(out[i*2:], v)
	}
	return out
}
