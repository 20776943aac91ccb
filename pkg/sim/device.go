// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides an in-memory VSensor that satisfies vsensor.Transport.
package sim

import (
	"sync"
	"time"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

// Call records one transport request. Address is the zero-indexed wire address.
type Call struct {
	Op      string
	Address uint16
	Count   uint16
	Values  []uint16
}

// Device is a simulated register image. Unset registers read as zero and the
// heartbeat register advances every time it is read.
type Device struct {
	mu     sync.Mutex
	regs   map[uint16]uint16
	format vsensor.FloatFormat
	hb     uint16

	failures   []error
	failAlways error
	shortReads int
	delay      time.Duration
	closeErr   error
	closed     bool
	calls      []Call
}

// New creates an empty device storing floats with the given layout.
func New(format vsensor.FloatFormat) *Device {
	return &Device{
		regs:   make(map[uint16]uint16),
		format: format,
	}
}

// NewSeeded creates a device with plausible live values.
func NewSeeded(format vsensor.FloatFormat) *Device {
	d := New(format)
	d.SetFloat(vsensor.RegPressure.Address, 1013.25)
	d.SetFloat(vsensor.RegDisplayValue.Address, 1013.25)
	d.SetFloat(vsensor.RegOutput.Address, 42.0)
	d.SetFloat(vsensor.RegAutoSetpoint.Address, 500.0)
	d.SetFloat(vsensor.RegHandSetpoint.Address, 25.0)
	d.SetFloat(vsensor.RegLowAlarm.Address, 100.0)
	d.SetFloat(vsensor.RegHighAlarm.Address, 4500.0)
	rawOutput := int16(-120)
	d.SetRegister(vsensor.RegRawOutput.Address, uint16(rawOutput))
	d.SetRegister(vsensor.RegMode.Address, uint16(vsensor.ModeAuto))
	return d
}

//////////////////////////////////////////////////////////////
// Seeding and inspection (one-indexed addresses)
//////////////////////////////////////////////////////////////

// SetRegister stores a raw value at a one-indexed address.
func (d *Device) SetRegister(address, value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[address-1] = value
}

// Register returns the raw value at a one-indexed address.
func (d *Device) Register(address uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[address-1]
}

// SetFloat stores v across address and address+1.
func (d *Device) SetFloat(address uint16, v float64) {
	words := vsensor.EncodeFloat(float32(v), d.format)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[address-1] = words[0]
	d.regs[address] = words[1]
}

// Float decodes the float stored at address and address+1.
func (d *Device) Float(address uint16) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	words := [2]uint16{d.regs[address-1], d.regs[address]}
	return float64(vsensor.DecodeFloat(words, d.format))
}

// Image returns wire registers 0..n-1 as one contiguous block.
func (d *Device) Image(n int) []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint16, n)
	for i := range out {
		out[i] = d.regs[uint16(i)]
	}
	return out
}

// Tick advances the heartbeat and nudges the process value toward the
// setpoint in AUTO mode, so a served simulation looks alive.
func (d *Device) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bumpHeartbeat()

	if vsensor.Mode(d.regs[vsensor.RegMode.Wire()]) != vsensor.ModeAuto {
		return
	}
	pressure := d.floatLocked(vsensor.RegPressure)
	setpoint := d.floatLocked(vsensor.RegAutoSetpoint)
	pressure += (setpoint - pressure) * 0.1
	d.setFloatLocked(vsensor.RegPressure, pressure)
	d.setFloatLocked(vsensor.RegDisplayValue, pressure)
}

func (d *Device) floatLocked(r vsensor.Register) float64 {
	w := r.Wire()
	return float64(vsensor.DecodeFloat([2]uint16{d.regs[w], d.regs[w+1]}, d.format))
}

func (d *Device) setFloatLocked(r vsensor.Register, v float64) {
	w := r.Wire()
	words := vsensor.EncodeFloat(float32(v), d.format)
	d.regs[w], d.regs[w+1] = words[0], words[1]
}

func (d *Device) bumpHeartbeat() {
	d.hb++
	d.regs[vsensor.RegHeartbeat.Wire()] = d.hb
}

//////////////////////////////////////////////////////////////
// Fault injection
//////////////////////////////////////////////////////////////

// FailNext makes the next n requests fail with err.
func (d *Device) FailNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.failures = append(d.failures, err)
	}
}

// FailAlways makes every request fail with err until cleared with nil.
func (d *Device) FailAlways(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAlways = err
}

// ShortReads makes the next n reads return one register fewer than asked.
func (d *Device) ShortReads(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shortReads = n
}

// SetDelay adds latency to every request.
func (d *Device) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// SetCloseError makes Close return err.
func (d *Device) SetCloseError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
}

// Calls returns a copy of the recorded requests.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// LastAddress returns the wire address of the most recent request.
func (d *Device) LastAddress() (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return 0, false
	}
	return d.calls[len(d.calls)-1].Address, true
}

// Closed reports whether Close has been called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

//////////////////////////////////////////////////////////////
// vsensor.Transport
//////////////////////////////////////////////////////////////

// begin records the call and returns the injected failure, if any.
// Caller holds d.mu.
func (d *Device) begin(c Call) error {
	d.calls = append(d.calls, c)
	if d.delay > 0 {
		d.mu.Unlock()
		time.Sleep(d.delay)
		d.mu.Lock()
	}
	if d.failAlways != nil {
		return d.failAlways
	}
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return err
	}
	return nil
}

func (d *Device) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(Call{Op: "read", Address: address, Count: count}); err != nil {
		return nil, err
	}
	if address == vsensor.RegHeartbeat.Wire() {
		d.bumpHeartbeat()
	}

	n := count
	if d.shortReads > 0 && n > 0 {
		d.shortReads--
		n--
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = d.regs[address+uint16(i)]
	}
	return out, nil
}

func (d *Device) WriteRegister(address, value uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(Call{Op: "write", Address: address, Count: 1, Values: []uint16{value}}); err != nil {
		return err
	}
	d.regs[address] = value
	return nil
}

func (d *Device) WriteRegisters(address uint16, values []uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vals := append([]uint16(nil), values...)
	if err := d.begin(Call{Op: "write_multiple", Address: address, Count: uint16(len(vals)), Values: vals}); err != nil {
		return err
	}
	for i, v := range vals {
		d.regs[address+uint16(i)] = v
	}
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeErr
}
