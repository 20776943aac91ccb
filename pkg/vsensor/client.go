// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import (
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Client is the typed facade over one device. It owns its Transport and
// serializes every logical operation, so the two registers of a float are
// never interleaved with another caller's request.
type Client struct {
	mu     sync.Mutex
	cfg    Config
	format FloatFormat
	tr     Transport
	retry  Retrier
	log    zerolog.Logger

	floatAttempts int
	closed        bool
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for retries and close failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
		c.retry.Logger = l
	}
}

// WithRetrier replaces the transport-level retry policy.
func WithRetrier(r Retrier) Option {
	return func(c *Client) {
		c.retry = r
	}
}

// WithFloatReadAttempts sets how often ReadFloat re-reads a short response.
func WithFloatReadAttempts(n int) Option {
	return func(c *Client) {
		c.floatAttempts = n
	}
}

// NewClient validates cfg and takes ownership of tr. On error the caller
// keeps ownership of tr and must close it.
func NewClient(cfg Config, tr Transport, opts ...Option) (*Client, error) {
	if tr == nil {
		return nil, &ValidationError{Field: "transport", Value: nil, Reason: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := cfg.Format()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:           cfg,
		format:        format,
		tr:            tr,
		retry:         DefaultRetrier(),
		log:           zerolog.Nop(),
		floatAttempts: DefaultFloatReadAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// FloatFormat returns the float layout in use.
func (c *Client) FloatFormat() FloatFormat {
	return c.format
}

// Close releases the transport. It is safe to call more than once; errors from
// the transport's own close are logged, not returned.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.tr.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Transport close failed")
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Low-level register access (one-indexed addresses)
//////////////////////////////////////////////////////////////

// ReadU16 reads one holding register.
func (c *Client) ReadU16(address uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readU16("read_u16", address)
}

// WriteU16 writes one holding register.
func (c *Client) WriteU16(address, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeU16("write_u16", address, value)
}

// ReadFloat reads a 32-bit float spanning address and address+1.
func (c *Client) ReadFloat(address uint16) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFloat("read_float", address)
}

// WriteFloat stores value as a 32-bit float in address and address+1.
// Both words go out in one multi-register write.
func (c *Client) WriteFloat(address uint16, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFloat("write_float", address, value)
}

func (c *Client) checkOpen() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Client) readRegisters(op string, address, count uint16) ([]uint16, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	wire, err := WireAddress(address)
	if err != nil {
		return nil, err
	}

	var regs []uint16
	err = c.retry.Do(op, address, func() error {
		var rerr error
		regs, rerr = c.tr.ReadHoldingRegisters(wire, count)
		return rerr
	})
	return regs, err
}

func (c *Client) readU16(op string, address uint16) (uint16, error) {
	regs, err := c.readRegisters(op, address, 1)
	if err != nil {
		return 0, err
	}
	if len(regs) < 1 {
		return 0, &Error{Kind: KindProtocol, Op: op, Address: address, Attempts: 1, Err: errors.New("empty register response")}
	}
	return regs[0], nil
}

func (c *Client) writeU16(op string, address, value uint16) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	wire, err := WireAddress(address)
	if err != nil {
		return err
	}
	return c.retry.Do(op, address, func() error {
		return c.tr.WriteRegister(wire, value)
	})
}

func (c *Client) readFloat(op string, address uint16) (float64, error) {
	regs, attempts, err := readAtLeast(c.floatAttempts, 2,
		func() ([]uint16, error) {
			return c.readRegisters(op, address, 2)
		},
		func(attempt, got int) {
			c.log.Debug().
				Str("op", op).
				Uint16("register", address).
				Int("attempt", attempt).
				Int("registers", got).
				Msg("Short float response, re-reading")
		})
	if errors.Is(err, ErrShortResponse) {
		return 0, &Error{Kind: KindProtocol, Op: op, Address: address, Attempts: attempts, Err: err}
	}
	if err != nil {
		return 0, err
	}
	return float64(DecodeFloat([2]uint16{regs[0], regs[1]}, c.format)), nil
}

func (c *Client) writeFloat(op string, address uint16, value float64) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	wire, err := WireAddress(address)
	if err != nil {
		return err
	}
	words := EncodeFloat(float32(value), c.format)
	return c.retry.Do(op, address, func() error {
		return c.tr.WriteRegisters(wire, words[:])
	})
}

//////////////////////////////////////////////////////////////
// Named quantities
//////////////////////////////////////////////////////////////

// ReadPressure returns the measured pressure in pascal.
func (c *Client) ReadPressure() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFloat("read_pressure", RegPressure.Address)
}

// ReadOutput returns the controller output in percent.
func (c *Client) ReadOutput() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFloat("read_output", RegOutput.Address)
}

// ReadAutoSetpoint returns the setpoint used in AUTO mode.
func (c *Client) ReadAutoSetpoint() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFloat("read_setpoint", RegAutoSetpoint.Address)
}

// SetAutoSetpoint writes the AUTO mode setpoint. Range checks belong to the
// caller; the device applies its own limits.
func (c *Client) SetAutoSetpoint(value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFloat("set_setpoint", RegAutoSetpoint.Address, value)
}

// ReadMode returns the operating mode. An unknown code yields a *ModeError.
func (c *Client) ReadMode() (Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readMode()
}

func (c *Client) readMode() (Mode, error) {
	raw, err := c.readU16("read_mode", RegMode.Address)
	if err != nil {
		return 0, err
	}
	return ParseMode(raw)
}

// SetMode switches the operating mode.
func (c *Client) SetMode(m Mode) error {
	if !m.Valid() {
		return &ValidationError{Field: "mode", Value: uint16(m), Reason: "not a defined mode", Err: ErrInvalidMode}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeU16("set_mode", RegMode.Address, uint16(m))
}

// ReadTelemetry reads pressure, output, setpoint and mode in that order. Any
// failure aborts the whole read.
func (c *Client) ReadTelemetry() (Telemetry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pressure, err := c.readFloat("read_pressure", RegPressure.Address)
	if err != nil {
		return Telemetry{}, err
	}
	output, err := c.readFloat("read_output", RegOutput.Address)
	if err != nil {
		return Telemetry{}, err
	}
	setpoint, err := c.readFloat("read_setpoint", RegAutoSetpoint.Address)
	if err != nil {
		return Telemetry{}, err
	}
	mode, err := c.readMode()
	if err != nil {
		return Telemetry{}, err
	}

	return Telemetry{
		PressurePa:    pressure,
		OutputPercent: output,
		AutoSetpoint:  setpoint,
		Mode:          mode,
	}, nil
}

//////////////////////////////////////////////////////////////
// Auxiliary quantities
//////////////////////////////////////////////////////////////

// ReadHeartbeat returns the device's free-running heartbeat counter.
func (c *Client) ReadHeartbeat() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readU16("read_heartbeat", RegHeartbeat.Address)
}

// ReadDisplayValue returns the value shown on the device's front display.
func (c *Client) ReadDisplayValue() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFloat("read_display", RegDisplayValue.Address)
}

// ReadRawOutput returns the signed raw PID output.
func (c *Client) ReadRawOutput() (int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := c.readU16("read_raw_output", RegRawOutput.Address)
	return int16(raw), err
}

// ReadHandSetpoint returns the MANUAL mode output setpoint in percent.
func (c *Client) ReadHandSetpoint() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFloat("read_hand_setpoint", RegHandSetpoint.Address)
}

// SetHandSetpoint writes the MANUAL mode output setpoint in percent.
func (c *Client) SetHandSetpoint(percent float64) error {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return &ValidationError{Field: "hand setpoint", Value: percent, Reason: "must be finite"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFloat("set_hand_setpoint", RegHandSetpoint.Address, percent)
}

// ReadAlarms returns the low and high alarm thresholds.
func (c *Client) ReadAlarms() (Alarms, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	low, err := c.readFloat("read_low_alarm", RegLowAlarm.Address)
	if err != nil {
		return Alarms{}, err
	}
	high, err := c.readFloat("read_high_alarm", RegHighAlarm.Address)
	if err != nil {
		return Alarms{}, err
	}
	return Alarms{Low: low, High: high}, nil
}

// ReadRegister reads a named register and returns its value as a float64.
func (c *Client) ReadRegister(r Register) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := "read_" + r.Name
	if r.Width == 2 {
		return c.readFloat(op, r.Address)
	}
	raw, err := c.readU16(op, r.Address)
	if err != nil {
		return 0, err
	}
	if r.Signed {
		return float64(int16(raw)), nil
	}
	return float64(raw), nil
}
