// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads vsensor settings from defaults, an optional YAML file
// and VSENSOR_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

// Config is the on-disk configuration.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Bridge BridgeConfig `yaml:"bridge"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Transport       string  `yaml:"transport"` // rtu, tcp or sim
	Address         string  `yaml:"address"`   // host:port for tcp
	Port            string  `yaml:"port"`
	Baud            int     `yaml:"baud"`
	Parity          string  `yaml:"parity"`
	StopBits        int     `yaml:"stop_bits"`
	ByteSize        int     `yaml:"byte_size"`
	TimeoutSec      float64 `yaml:"timeout"`
	SlaveID         int     `yaml:"slave_id"`
	FloatFormat     int     `yaml:"float_format"`
	PollIntervalSec float64 `yaml:"poll_interval"`
}

// ---- BRIDGE ----

type BridgeConfig struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables publishing
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Default returns the factory configuration.
func Default() Config {
	d := vsensor.DefaultConfig()
	return Config{
		Device: DeviceConfig{
			Transport:       "rtu",
			Port:            d.Port,
			Baud:            d.BaudRate,
			Parity:          d.Parity,
			StopBits:        d.StopBits,
			ByteSize:        d.ByteSize,
			TimeoutSec:      d.Timeout.Seconds(),
			SlaveID:         d.SlaveID,
			FloatFormat:     d.FloatFormat,
			PollIntervalSec: d.PollInterval.Seconds(),
		},
		Bridge: BridgeConfig{
			Listen: ":8080",
		},
		MQTT: MQTTConfig{
			ClientID:    "vsensor",
			TopicPrefix: "vsensor",
		},
	}
}

// Warning is a setting that could not be applied and was left at its
// previous value.
type Warning struct {
	Key   string
	Value string
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("ignoring %s=%q: %v", w.Key, w.Value, w.Err)
}

// Load returns defaults overlaid with the YAML file at path (if non-empty)
// and then the environment read through getenv. Malformed environment
// values keep the earlier value and are reported as warnings.
func Load(path string, getenv func(string) string) (Config, []Warning, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	warnings := applyEnv(&cfg, getenv)

	Normalize(&cfg)
	return cfg, warnings, nil
}

func applyEnv(cfg *Config, getenv func(string) string) []Warning {
	var warnings []Warning
	d := &cfg.Device

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			warnings = append(warnings, Warning{Key: key, Value: v, Err: err})
			return
		}
		*dst = n
	}
	float := func(key string, dst *float64) {
		v := getenv(key)
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			warnings = append(warnings, Warning{Key: key, Value: v, Err: err})
			return
		}
		*dst = f
	}

	str("VSENSOR_TRANSPORT", &d.Transport)
	str("VSENSOR_ADDRESS", &d.Address)
	str("VSENSOR_PORT", &d.Port)
	integer("VSENSOR_BAUD", &d.Baud)
	str("VSENSOR_PARITY", &d.Parity)
	integer("VSENSOR_STOPBITS", &d.StopBits)
	integer("VSENSOR_BYTESIZE", &d.ByteSize)
	float("VSENSOR_TIMEOUT", &d.TimeoutSec)
	integer("VSENSOR_SLAVE_ID", &d.SlaveID)
	integer("VSENSOR_FLOAT_FORMAT", &d.FloatFormat)
	float("VSENSOR_POLL_INTERVAL", &d.PollIntervalSec)

	if getenv("VSENSOR_SIM") != "" || getenv("VSENSOR_FAKE") != "" {
		d.Transport = "sim"
	}

	str("VSENSOR_LISTEN", &cfg.Bridge.Listen)
	str("VSENSOR_USERNAME", &cfg.Bridge.Username)
	str("VSENSOR_PASSWORD", &cfg.Bridge.Password)

	str("VSENSOR_MQTT_BROKER", &cfg.MQTT.Broker)
	str("VSENSOR_MQTT_TOPIC", &cfg.MQTT.TopicPrefix)
	str("VSENSOR_MQTT_USERNAME", &cfg.MQTT.Username)
	str("VSENSOR_MQTT_PASSWORD", &cfg.MQTT.Password)

	return warnings
}

// Normalize canonicalizes case and trims separators. It does not validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Device.Transport = strings.ToLower(strings.TrimSpace(cfg.Device.Transport))
	cfg.Device.Parity = strings.ToUpper(strings.TrimSpace(cfg.Device.Parity))
	cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
}

// Validate checks the device section and the transport selection.
func (c Config) Validate() error {
	switch c.Device.Transport {
	case "rtu", "sim":
	case "tcp":
		if c.Device.Address == "" {
			return fmt.Errorf("device.address is required for the tcp transport")
		}
	default:
		return fmt.Errorf("device.transport %q: expected rtu, tcp or sim", c.Device.Transport)
	}
	return c.Device.Client().Validate()
}

// Client converts the device section into the client configuration.
func (d DeviceConfig) Client() vsensor.Config {
	return vsensor.Config{
		Port:         d.Port,
		BaudRate:     d.Baud,
		Parity:       d.Parity,
		StopBits:     d.StopBits,
		ByteSize:     d.ByteSize,
		Timeout:      seconds(d.TimeoutSec),
		SlaveID:      d.SlaveID,
		FloatFormat:  d.FloatFormat,
		PollInterval: seconds(d.PollIntervalSec),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
