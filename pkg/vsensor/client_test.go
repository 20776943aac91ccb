// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor_test

import (
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/sim"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
	"github.com/Thermoquad/vsensor/pkg/vsensor/mocks"
)

func fastRetrier() vsensor.Retrier {
	return vsensor.Retrier{Attempts: vsensor.DefaultAttempts, Logger: zerolog.Nop()}
}

func newTestClient(t *testing.T, format vsensor.FloatFormat) (*vsensor.Client, *sim.Device) {
	t.Helper()
	dev := sim.New(format)
	cfg := vsensor.DefaultConfig()
	cfg.FloatFormat = int(format)
	c, err := vsensor.NewClient(cfg, dev, vsensor.WithRetrier(fastRetrier()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, dev
}

func TestReadWriteFloat(t *testing.T) {
	tests := []struct {
		name   string
		format vsensor.FloatFormat
		value  float64
	}{
		{"setpoint little/big", vsensor.FloatLittleBig, 12.34},
		{"setpoint big/little", vsensor.FloatBigLittle, 1.0},
		{"negative big/big", vsensor.FloatBigBig, -40.5},
		{"large little/little", vsensor.FloatLittleLittle, 101325},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dev := newTestClient(t, tt.format)

			if err := c.WriteFloat(vsensor.RegAutoSetpoint.Address, tt.value); err != nil {
				t.Fatalf("WriteFloat() error = %v", err)
			}
			got, err := c.ReadFloat(vsensor.RegAutoSetpoint.Address)
			if err != nil {
				t.Fatalf("ReadFloat() error = %v", err)
			}
			if math.Abs(got-tt.value) > 1e-3 {
				t.Errorf("ReadFloat() = %v, want %v", got, tt.value)
			}
			if stored := dev.Float(vsensor.RegAutoSetpoint.Address); math.Abs(stored-tt.value) > 1e-3 {
				t.Errorf("device holds %v, want %v", stored, tt.value)
			}
		})
	}
}

func TestWriteFloatUsesOneMultiRegisterWrite(t *testing.T) {
	c, dev := newTestClient(t, vsensor.FloatBigBig)

	if err := c.SetAutoSetpoint(1.0); err != nil {
		t.Fatalf("SetAutoSetpoint() error = %v", err)
	}
	calls := dev.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	got := calls[0]
	if got.Op != "write_multiple" || got.Address != 152 || len(got.Values) != 2 {
		t.Fatalf("call = %+v", got)
	}
	if got.Values[0] != 0x3F80 || got.Values[1] != 0x0000 {
		t.Errorf("values = [0x%04X 0x%04X], want [0x3F80 0x0000]", got.Values[0], got.Values[1])
	}
}

func TestWireAddressing(t *testing.T) {
	c, dev := newTestClient(t, vsensor.DefaultFloatFormat)

	for _, r := range vsensor.Registers() {
		t.Run(r.Name, func(t *testing.T) {
			if _, err := c.ReadRegister(r); err != nil {
				t.Fatalf("ReadRegister() error = %v", err)
			}
			addr, ok := dev.LastAddress()
			if !ok {
				t.Fatal("no call recorded")
			}
			if addr != r.Address-1 {
				t.Errorf("wire address = %d, want %d", addr, r.Address-1)
			}
			if calls := dev.Calls(); calls[len(calls)-1].Count != r.Width {
				t.Errorf("count = %d, want %d", calls[len(calls)-1].Count, r.Width)
			}
		})
	}

	t.Run("writes", func(t *testing.T) {
		if err := c.WriteU16(vsensor.RegMode.Address, 1); err != nil {
			t.Fatal(err)
		}
		if addr, _ := dev.LastAddress(); addr != 155 {
			t.Errorf("WriteU16 wire address = %d, want 155", addr)
		}
		if err := c.SetHandSetpoint(50); err != nil {
			t.Fatal(err)
		}
		if addr, _ := dev.LastAddress(); addr != 164 {
			t.Errorf("SetHandSetpoint wire address = %d, want 164", addr)
		}
	})

	t.Run("register zero", func(t *testing.T) {
		before := len(dev.Calls())
		if _, err := c.ReadU16(0); !errors.Is(err, vsensor.ErrInvalidArgument) {
			t.Errorf("ReadU16(0) error = %v, want ErrInvalidArgument", err)
		}
		if len(dev.Calls()) != before {
			t.Error("ReadU16(0) reached the transport")
		}
	})
}

func TestModeRoundTrip(t *testing.T) {
	c, dev := newTestClient(t, vsensor.DefaultFloatFormat)

	if err := c.SetMode(vsensor.ModeManual); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if raw := dev.Register(vsensor.RegMode.Address); raw != 1 {
		t.Errorf("mode register = %d, want 1", raw)
	}
	m, err := c.ReadMode()
	if err != nil {
		t.Fatalf("ReadMode() error = %v", err)
	}
	if m != vsensor.ModeManual {
		t.Errorf("ReadMode() = %s, want MANUAL", m)
	}
}

func TestReadModeRejectsUnknownCode(t *testing.T) {
	c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
	dev.SetRegister(vsensor.RegMode.Address, 7)

	_, err := c.ReadMode()
	if err == nil {
		t.Fatal("ReadMode() succeeded for code 7")
	}
	var me *vsensor.ModeError
	if !errors.As(err, &me) || me.Raw != 7 {
		t.Errorf("error = %v, want *ModeError{Raw: 7}", err)
	}
	if !errors.Is(err, vsensor.ErrInvalidMode) {
		t.Error("error does not match ErrInvalidMode")
	}
	if errors.Is(err, vsensor.ErrCommunication) || errors.Is(err, vsensor.ErrTimeout) {
		t.Error("invalid mode reported as a communication error")
	}
	if n := len(dev.Calls()); n != 1 {
		t.Errorf("transport calls = %d, want 1 (no retry on data errors)", n)
	}
}

func TestSetModeRejectsUndefinedValue(t *testing.T) {
	c, dev := newTestClient(t, vsensor.DefaultFloatFormat)

	err := c.SetMode(vsensor.Mode(5))
	var ve *vsensor.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("SetMode(5) error = %v, want *ValidationError", err)
	}
	if len(dev.Calls()) != 0 {
		t.Error("SetMode(5) reached the transport")
	}
}

func TestTimeoutPropagation(t *testing.T) {
	ops := []struct {
		name string
		call func(c *vsensor.Client) error
	}{
		{"ReadPressure", func(c *vsensor.Client) error { _, err := c.ReadPressure(); return err }},
		{"ReadOutput", func(c *vsensor.Client) error { _, err := c.ReadOutput(); return err }},
		{"ReadAutoSetpoint", func(c *vsensor.Client) error { _, err := c.ReadAutoSetpoint(); return err }},
		{"ReadMode", func(c *vsensor.Client) error { _, err := c.ReadMode(); return err }},
		{"ReadTelemetry", func(c *vsensor.Client) error { _, err := c.ReadTelemetry(); return err }},
		{"SetAutoSetpoint", func(c *vsensor.Client) error { return c.SetAutoSetpoint(10) }},
		{"SetMode", func(c *vsensor.Client) error { return c.SetMode(vsensor.ModeAuto) }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
			dev.FailAlways(vsensor.ErrNoResponse)

			done := make(chan error, 1)
			go func() { done <- op.call(c) }()

			select {
			case err := <-done:
				if !errors.Is(err, vsensor.ErrTimeout) {
					t.Fatalf("error = %v, want ErrTimeout", err)
				}
				if vsensor.KindOf(err) != vsensor.KindTimeout {
					t.Errorf("KindOf = %s, want timeout", vsensor.KindOf(err))
				}
			case <-time.After(5 * time.Second):
				t.Fatal("operation did not return")
			}

			if n := len(dev.Calls()); n != vsensor.DefaultAttempts {
				t.Errorf("transport calls = %d, want %d", n, vsensor.DefaultAttempts)
			}
		})
	}
}

func TestTransportErrorCarriesDetail(t *testing.T) {
	c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
	dev.FailAlways(&vsensor.ExceptionError{FunctionCode: 0x03, ExceptionCode: 2})

	_, err := c.ReadPressure()
	if !errors.Is(err, vsensor.ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	if !strings.Contains(err.Error(), "illegal data address") {
		t.Errorf("error %q lacks device detail", err)
	}
}

func TestTelemetryAggregation(t *testing.T) {
	c, dev := newTestClient(t, vsensor.FloatLittleBig)
	dev.SetFloat(vsensor.RegPressure.Address, 1013.25)
	dev.SetFloat(vsensor.RegOutput.Address, 42.0)
	dev.SetFloat(vsensor.RegAutoSetpoint.Address, 500.0)
	dev.SetRegister(vsensor.RegMode.Address, uint16(vsensor.ModeAuto))

	got, err := c.ReadTelemetry()
	if err != nil {
		t.Fatalf("ReadTelemetry() error = %v", err)
	}
	want := vsensor.Telemetry{PressurePa: 1013.25, OutputPercent: 42.0, AutoSetpoint: 500.0, Mode: vsensor.ModeAuto}
	if got != want {
		t.Errorf("ReadTelemetry() = %+v, want %+v", got, want)
	}

	var order []uint16
	for _, call := range dev.Calls() {
		order = append(order, call.Address)
	}
	wantOrder := []uint16{150, 166, 152, 155}
	if len(order) != len(wantOrder) {
		t.Fatalf("read order = %v, want %v", order, wantOrder)
	}
	for i := range order {
		if order[i] != wantOrder[i] {
			t.Errorf("read order = %v, want %v", order, wantOrder)
			break
		}
	}
}

func TestTelemetryAllOrNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)

	pressure := vsensor.EncodeFloat(1013.25, vsensor.DefaultFloatFormat)
	output := vsensor.EncodeFloat(42, vsensor.DefaultFloatFormat)

	gomock.InOrder(
		tr.EXPECT().ReadHoldingRegisters(uint16(150), uint16(2)).Return(pressure[:], nil),
		tr.EXPECT().ReadHoldingRegisters(uint16(166), uint16(2)).Return(output[:], nil),
		tr.EXPECT().ReadHoldingRegisters(uint16(152), uint16(2)).Return(nil, vsensor.ErrNoResponse).Times(3),
	)
	tr.EXPECT().Close().Return(nil)

	c, err := vsensor.NewClient(vsensor.DefaultConfig(), tr, vsensor.WithRetrier(fastRetrier()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got, err := c.ReadTelemetry()
	if !errors.Is(err, vsensor.ErrTimeout) {
		t.Fatalf("ReadTelemetry() error = %v, want ErrTimeout", err)
	}
	if got != (vsensor.Telemetry{}) {
		t.Errorf("ReadTelemetry() returned partial data %+v", got)
	}
}

func TestReadFloatShortResponse(t *testing.T) {
	t.Run("recovers within budget", func(t *testing.T) {
		c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
		dev.SetFloat(vsensor.RegPressure.Address, 980.5)
		dev.ShortReads(2)

		got, err := c.ReadPressure()
		if err != nil {
			t.Fatalf("ReadPressure() error = %v", err)
		}
		if got != 980.5 {
			t.Errorf("ReadPressure() = %v, want 980.5", got)
		}
		if n := len(dev.Calls()); n != 3 {
			t.Errorf("transport calls = %d, want 3", n)
		}
	})

	t.Run("gives up with protocol error", func(t *testing.T) {
		c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
		dev.ShortReads(10)

		_, err := c.ReadFloat(vsensor.RegPressure.Address)
		if !errors.Is(err, vsensor.ErrProtocol) {
			t.Fatalf("error = %v, want ErrProtocol", err)
		}
		if errors.Is(err, vsensor.ErrCommunication) {
			t.Error("short response reported as communication error")
		}
		if !strings.Contains(err.Error(), "invalid float response") {
			t.Errorf("error %q lacks cause", err)
		}
		if n := len(dev.Calls()); n != vsensor.DefaultFloatReadAttempts {
			t.Errorf("transport calls = %d, want %d", n, vsensor.DefaultFloatReadAttempts)
		}
	})

	t.Run("layers compose", func(t *testing.T) {
		c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
		dev.SetFloat(vsensor.RegPressure.Address, 7.5)
		dev.FailNext(2, vsensor.ErrNoResponse)

		got, err := c.ReadPressure()
		if err != nil || got != 7.5 {
			t.Fatalf("ReadPressure() = %v, %v", got, err)
		}
	})
}

func TestClose(t *testing.T) {
	c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
	dev.SetCloseError(errors.New("port already gone"))

	if err := c.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !dev.Closed() {
		t.Error("transport not closed")
	}

	if _, err := c.ReadPressure(); !errors.Is(err, vsensor.ErrClosed) {
		t.Errorf("ReadPressure() after Close error = %v, want ErrClosed", err)
	}
	if err := c.SetMode(vsensor.ModeAuto); !errors.Is(err, vsensor.ErrClosed) {
		t.Errorf("SetMode() after Close error = %v, want ErrClosed", err)
	}
	if _, err := c.ReadTelemetry(); !errors.Is(err, vsensor.ErrClosed) {
		t.Errorf("ReadTelemetry() after Close error = %v, want ErrClosed", err)
	}
	if n := len(dev.Calls()); n != 0 {
		t.Errorf("transport calls after Close = %d, want 0", n)
	}
}

func TestCloseTransportOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Close().Return(errors.New("boom")).Times(1)

	c, err := vsensor.NewClient(vsensor.DefaultConfig(), tr)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Close(); err != nil {
			t.Errorf("Close() #%d error = %v", i+1, err)
		}
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*vsensor.Config)
		is     error
	}{
		{"float format 4", func(c *vsensor.Config) { c.FloatFormat = 4 }, vsensor.ErrInvalidFloatFormat},
		{"float format -1", func(c *vsensor.Config) { c.FloatFormat = -1 }, vsensor.ErrInvalidFloatFormat},
		{"slave 0", func(c *vsensor.Config) { c.SlaveID = 0 }, vsensor.ErrInvalidArgument},
		{"slave 248", func(c *vsensor.Config) { c.SlaveID = 248 }, vsensor.ErrInvalidArgument},
		{"parity", func(c *vsensor.Config) { c.Parity = "X" }, vsensor.ErrInvalidArgument},
		{"timeout", func(c *vsensor.Config) { c.Timeout = 0 }, vsensor.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := vsensor.DefaultConfig()
			tt.mutate(&cfg)
			_, err := vsensor.NewClient(cfg, sim.New(vsensor.DefaultFloatFormat))
			if !errors.Is(err, tt.is) {
				t.Errorf("NewClient() error = %v, want %v", err, tt.is)
			}
		})
	}

	if _, err := vsensor.NewClient(vsensor.DefaultConfig(), nil); err == nil {
		t.Error("NewClient(nil transport) succeeded")
	}
}

func TestAuxiliaryReads(t *testing.T) {
	c, dev := newTestClient(t, vsensor.DefaultFloatFormat)
	dev.SetRegister(vsensor.RegRawOutput.Address, uint16(0xFF38)) // -200
	dev.SetFloat(vsensor.RegLowAlarm.Address, 100)
	dev.SetFloat(vsensor.RegHighAlarm.Address, 4500)
	dev.SetFloat(vsensor.RegDisplayValue.Address, 12.5)

	hb1, err := c.ReadHeartbeat()
	if err != nil {
		t.Fatal(err)
	}
	hb2, _ := c.ReadHeartbeat()
	if hb2 != hb1+1 {
		t.Errorf("heartbeat %d -> %d, want increment", hb1, hb2)
	}

	raw, err := c.ReadRawOutput()
	if err != nil || raw != -200 {
		t.Errorf("ReadRawOutput() = %d, %v, want -200", raw, err)
	}

	alarms, err := c.ReadAlarms()
	if err != nil || alarms.Low != 100 || alarms.High != 4500 {
		t.Errorf("ReadAlarms() = %+v, %v", alarms, err)
	}

	display, err := c.ReadDisplayValue()
	if err != nil || display != 12.5 {
		t.Errorf("ReadDisplayValue() = %v, %v", display, err)
	}

	if err := c.SetHandSetpoint(math.NaN()); !errors.Is(err, vsensor.ErrInvalidArgument) {
		t.Errorf("SetHandSetpoint(NaN) error = %v", err)
	}
	if err := c.SetHandSetpoint(33); err != nil {
		t.Fatal(err)
	}
	if hand, _ := c.ReadHandSetpoint(); hand != 33 {
		t.Errorf("ReadHandSetpoint() = %v, want 33", hand)
	}
}

// halfDuplex fails the test if two requests are ever in flight at once.
type halfDuplex struct {
	vsensor.Transport
	t        *testing.T
	inFlight int32
}

func (h *halfDuplex) enter() {
	if atomic.AddInt32(&h.inFlight, 1) != 1 {
		h.t.Error("concurrent transport access")
	}
}

func (h *halfDuplex) leave() { atomic.AddInt32(&h.inFlight, -1) }

func (h *halfDuplex) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	h.enter()
	defer h.leave()
	return h.Transport.ReadHoldingRegisters(address, count)
}

func (h *halfDuplex) WriteRegisters(address uint16, values []uint16) error {
	h.enter()
	defer h.leave()
	return h.Transport.WriteRegisters(address, values)
}

func TestConcurrentFloatWrites(t *testing.T) {
	dev := sim.New(vsensor.FloatLittleBig)
	dev.SetDelay(100 * time.Microsecond)
	tr := &halfDuplex{Transport: dev, t: t}

	c, err := vsensor.NewClient(vsensor.DefaultConfig(), tr, vsensor.WithRetrier(fastRetrier()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	valid := map[float64]bool{0: true, 111.5: true, 222.25: true, 333.75: true, 444.125: true}
	var wg sync.WaitGroup
	for _, addr := range []uint16{vsensor.RegAutoSetpoint.Address, vsensor.RegHandSetpoint.Address} {
		for _, v := range []float64{111.5, 222.25, 333.75, 444.125} {
			wg.Add(1)
			go func(addr uint16, v float64) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					if err := c.WriteFloat(addr, v); err != nil {
						t.Errorf("WriteFloat() error = %v", err)
						return
					}
					got, err := c.ReadFloat(addr)
					if err != nil {
						t.Errorf("ReadFloat() error = %v", err)
						return
					}
					if !valid[got] {
						t.Errorf("register %d holds spliced value %v", addr, got)
						return
					}
				}
			}(addr, v)
		}
	}
	wg.Wait()
}
