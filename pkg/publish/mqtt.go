// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish mirrors poll results to an MQTT broker and accepts simple
// set commands from it.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/poller"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
	"github.com/Thermoquad/vsensor/pkg/wire"
)

// API is the part of mqtt.Client the publisher uses.
type API interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Controller applies set commands received from the broker.
type Controller interface {
	SetAutoSetpoint(value float64) error
	SetMode(m vsensor.Mode) error
	SetHandSetpoint(percent float64) error
}

// Config describes the broker connection.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// State is the JSON document published on <prefix>/state.
type State struct {
	PressurePa    float64 `json:"pressure_pa"`
	OutputPercent float64 `json:"output_percent"`
	AutoSetpoint  float64 `json:"auto_setpoint"`
	Mode          string  `json:"mode"`
	Heartbeat     uint16  `json:"heartbeat"`
	DisplayValue  float64 `json:"display_value"`
	Timestamp     int64   `json:"timestamp_ms"`
	Seq           uint64  `json:"seq"`
}

// PollError is the JSON document published on <prefix>/error.
type PollError struct {
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp_ms"`
}

const (
	qos          = 1
	tokenTimeout = 5 * time.Second
)

// Publisher sends poll results to MQTT.
type Publisher struct {
	api    API
	prefix string
	log    zerolog.Logger
}

// Connect dials the broker and returns a publisher.
func Connect(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetPingTimeout(3 * time.Second).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	t := client.Connect()
	if ok := t.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := t.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	logger.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
	return New(client, cfg.TopicPrefix, logger), nil
}

// New wraps an existing client.
func New(api API, prefix string, logger zerolog.Logger) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "vsensor"
	}
	return &Publisher{api: api, prefix: prefix, log: logger}
}

// Topic returns prefix/suffix.
func (p *Publisher) Topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// Publish sends one poll result.
func (p *Publisher) Publish(r poller.Result) error {
	var topic string
	var doc interface{}
	if r.Err != nil {
		topic = p.Topic("error")
		doc = PollError{
			Kind:      vsensor.KindOf(r.Err).String(),
			Error:     r.Err.Error(),
			Timestamp: time.Now().UnixMilli(),
		}
	} else {
		s := r.Snapshot
		topic = p.Topic("state")
		doc = State{
			PressurePa:    s.PressurePa,
			OutputPercent: s.OutputPercent,
			AutoSetpoint:  s.AutoSetpoint,
			Mode:          s.Mode.String(),
			Heartbeat:     s.Heartbeat,
			DisplayValue:  s.DisplayValue,
			Timestamp:     s.Time.UnixMilli(),
			Seq:           s.Seq,
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return wait(p.api.Publish(topic, qos, false, payload))
}

// Source provides poll results. *poller.Poller satisfies it.
type Source interface {
	Subscribe(buffer int) (<-chan poller.Result, func())
}

// Run publishes every poll result until ctx is done.
func (p *Publisher) Run(ctx context.Context, src Source) {
	results, cancel := src.Subscribe(8)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			if err := p.Publish(r); err != nil {
				p.log.Warn().Err(err).Msg("MQTT publish failed")
			}
		}
	}
}

// HandleCommands subscribes to <prefix>/set/{setpoint,mode,hand_setpoint}.
// Payloads are plain text numbers; mode also accepts "auto" and "manual".
func (p *Publisher) HandleCommands(ctrl Controller) error {
	return wait(p.api.Subscribe(p.Topic("set/+"), qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := p.apply(ctrl, msg.Topic(), string(msg.Payload())); err != nil {
			p.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT command rejected")
			return
		}
		p.log.Info().Str("topic", msg.Topic()).Msg("MQTT command applied")
	}))
}

func (p *Publisher) apply(ctrl Controller, topic, payload string) error {
	payload = strings.TrimSpace(payload)
	switch strings.TrimPrefix(topic, p.Topic("set/")) {
	case "setpoint":
		v, err := parseBounded(payload, wire.MinSetpoint, wire.MaxSetpoint)
		if err != nil {
			return err
		}
		return ctrl.SetAutoSetpoint(v)
	case "hand_setpoint":
		v, err := parseBounded(payload, wire.MinHandSetpoint, wire.MaxHandSetpoint)
		if err != nil {
			return err
		}
		return ctrl.SetHandSetpoint(v)
	case "mode":
		m, err := vsensor.ParseModeName(payload)
		if err != nil {
			return err
		}
		return ctrl.SetMode(m)
	}
	return fmt.Errorf("unknown command topic %s", topic)
}

func parseBounded(s string, min, max float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || v < min || v > max {
		return 0, fmt.Errorf("%v out of range (%.0f-%.0f)", v, min, max)
	}
	return v, nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.api.IsConnectionOpen() {
		p.api.Disconnect(250)
	}
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("mqtt: timed out waiting for broker")
	}
	return t.Error()
}
