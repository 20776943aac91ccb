// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"reflect"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/sim"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

type fakeClient struct {
	data    []byte
	err     error
	written []byte
	addr    uint16
	qty     uint16
}

func (f *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.addr, f.qty = address, quantity
	return f.data, f.err
}

func (f *fakeClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	f.addr = address
	f.written = []byte{byte(value >> 8), byte(value)}
	return nil, f.err
}

func (f *fakeClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.addr, f.qty = address, quantity
	f.written = value
	return nil, f.err
}

type countingCloser struct{ n int }

func (c *countingCloser) Close() error {
	c.n++
	return errors.New("already closed")
}

func TestUnpackRegisters(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []uint16
	}{
		{"empty", nil, []uint16{}},
		{"one", []byte{0x12, 0x34}, []uint16{0x1234}},
		{"two", []byte{0x44, 0x7D, 0x50, 0x00}, []uint16{0x447D, 0x5000}},
		{"truncated", []byte{0x44, 0x7D, 0x50}, []uint16{0x447D}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unpackRegisters(tt.data); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("unpackRegisters() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModbusRead(t *testing.T) {
	fc := &fakeClient{data: []byte{0x44, 0x7D, 0x50, 0x00}}
	m := newModbus(fc, nil, "fake")

	got, err := m.ReadHoldingRegisters(150, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	if fc.addr != 150 || fc.qty != 2 {
		t.Errorf("request = %d/%d, want 150/2", fc.addr, fc.qty)
	}
	if !reflect.DeepEqual(got, []uint16{0x447D, 0x5000}) {
		t.Errorf("registers = %v", got)
	}
}

func TestModbusWrite(t *testing.T) {
	fc := &fakeClient{}
	m := newModbus(fc, nil, "fake")

	if err := m.WriteRegisters(152, []uint16{0x3F80, 0x0001}); err != nil {
		t.Fatal(err)
	}
	if fc.qty != 2 || !reflect.DeepEqual(fc.written, []byte{0x3F, 0x80, 0x00, 0x01}) {
		t.Errorf("written = %v qty %d", fc.written, fc.qty)
	}

	if err := m.WriteRegister(155, 1); err != nil {
		t.Fatal(err)
	}
	if fc.addr != 155 || !reflect.DeepEqual(fc.written, []byte{0x00, 0x01}) {
		t.Errorf("single write = %v at %d", fc.written, fc.addr)
	}
}

func TestMapError(t *testing.T) {
	t.Run("exception", func(t *testing.T) {
		m := newModbus(&fakeClient{err: &modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: 2}}, nil, "fake")
		_, err := m.ReadHoldingRegisters(0, 1)
		var ex *vsensor.ExceptionError
		if !errors.As(err, &ex) {
			t.Fatalf("error = %v, want *ExceptionError", err)
		}
		if ex.FunctionCode != 0x83 || ex.ExceptionCode != 2 {
			t.Errorf("exception = %+v", ex)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		m := newModbus(&fakeClient{err: errors.New("serial: timeout")}, nil, "fake")
		err := m.WriteRegister(0, 1)
		if !errors.Is(err, vsensor.ErrNoResponse) {
			t.Errorf("error = %v, want ErrNoResponse", err)
		}
	})

	t.Run("malformed write echo", func(t *testing.T) {
		m := newModbus(&fakeClient{err: errors.New("modbus: response value '2' does not match request '1'")}, nil, "fake")
		err := m.WriteRegister(0, 1)
		if err == nil || errors.Is(err, vsensor.ErrNoResponse) {
			t.Errorf("error = %v, want a non-timeout transport fault", err)
		}
	})

	if mapError(nil) != nil {
		t.Error("mapError(nil) != nil")
	}
}

func TestMalformedReadIsShort(t *testing.T) {
	sizeMismatch := errors.New("modbus: response data size '3' does not match count '4'")

	m := newModbus(&fakeClient{err: sizeMismatch}, nil, "fake")
	regs, err := m.ReadHoldingRegisters(150, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v, want short read", err)
	}
	if len(regs) != 0 {
		t.Errorf("registers = %v, want none", regs)
	}

	// The client re-reads and then reports a protocol error, not a timeout
	c, err := vsensor.NewClient(vsensor.DefaultConfig(), m,
		vsensor.WithRetrier(vsensor.Retrier{Attempts: 1, Logger: zerolog.Nop()}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.ReadPressure()
	if got := vsensor.KindOf(err); got != vsensor.KindProtocol {
		t.Errorf("ReadPressure() kind = %v (%v), want protocol", got, err)
	}
	if !errors.Is(err, vsensor.ErrShortResponse) || errors.Is(err, vsensor.ErrCommunication) {
		t.Errorf("ReadPressure() error = %v, want short response outside ErrCommunication", err)
	}

	_, err = c.ReadMode()
	if !errors.Is(err, vsensor.ErrProtocol) {
		t.Errorf("ReadMode() error = %v, want ErrProtocol", err)
	}
}

func TestModbusCloseOnce(t *testing.T) {
	cc := &countingCloser{}
	m := newModbus(&fakeClient{}, cc, "fake")

	first := m.Close()
	second := m.Close()
	if cc.n != 1 {
		t.Errorf("underlying Close called %d times, want 1", cc.n)
	}
	if first == nil || first != second {
		t.Errorf("Close() = %v then %v", first, second)
	}
}

func TestOpen(t *testing.T) {
	cfg := vsensor.DefaultConfig()

	tr, desc, err := Open(Options{Kind: KindSim}, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open(sim) error = %v", err)
	}
	if _, ok := tr.(*sim.Device); !ok || desc == "" {
		t.Errorf("Open(sim) = %T %q", tr, desc)
	}

	if _, _, err := Open(Options{Kind: KindTCP}, cfg, zerolog.Nop()); err == nil {
		t.Error("Open(tcp) without address succeeded")
	}
	if _, _, err := Open(Options{Kind: "carrier-pigeon"}, cfg, zerolog.Nop()); err == nil {
		t.Error("Open(unknown) succeeded")
	}
}
