// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/vsensor/pkg/config"
)

var (
	// Configuration file
	configPath string

	// Device connection flags
	transportKind string
	tcpAddress    string
	portName      string
	baudRate      int
	parity        string
	stopBits      int
	byteSize      int
	timeoutSec    float64
	slaveID       int
	floatFormat   int

	logLevel string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

// logger is configured by the root command before any subcommand runs.
var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "vsensor",
	Short: "VSensor pressure controller client",
	Long: `vsensor - A CLI tool for reading and controlling VSensor pressure controllers.

Talks Modbus to the controller, either over RS-485 (RTU) or Modbus TCP, and can
bridge the live values to dashboards over WebSocket, Prometheus and MQTT.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600 --parity N --stopbits 1]
  TCP:       --transport tcp --address host:502
  Simulated: --transport sim (or VSENSOR_SIM=1)

Settings are layered: built-in defaults, then --config FILE (YAML), then
VSENSOR_* environment variables, then command line flags.

For WebSocket authentication (watch, ws_ping), the password is read from the
VSENSOR_PASSWORD environment variable, or prompted interactively if not set.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(logLevel, term.IsTerminal(int(os.Stderr.Fd())))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	// Device connection flags
	pf.StringVar(&transportKind, "transport", "rtu", "Transport: rtu, tcp or sim")
	pf.StringVar(&tcpAddress, "address", "", "Modbus TCP address host:port (tcp only)")
	pf.StringVarP(&portName, "port", "p", "/dev/ttyUSB0", "Serial port device")
	pf.IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")
	pf.StringVar(&parity, "parity", "N", "Parity: N, E or O (serial only)")
	pf.IntVar(&stopBits, "stopbits", 1, "Stop bits (serial only)")
	pf.IntVar(&byteSize, "bytesize", 8, "Data bits (serial only)")
	pf.Float64Var(&timeoutSec, "timeout", 1.5, "Per-request timeout in seconds")
	pf.IntVar(&slaveID, "slave", 1, "Modbus slave ID")
	pf.IntVar(&floatFormat, "float-format", 1, "Float word/byte order selector (0-3)")
	pf.StringVar(&logLevel, "log-level", "warn", "Log level: trace, debug, info, warn, error")

	// WebSocket connection flags
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket URL of a vsensor serve instance (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var ec *exitCode
	if errors.As(err, &ec) {
		if ec.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ec.err)
		}
		return ec.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func newLogger(level string, color bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid --log-level %q", level)
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000", NoColor: !color}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// loadConfig layers the command line over the file and environment settings.
// Only flags the user actually set override earlier layers.
func loadConfig() (config.Config, error) {
	cfg, warnings, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return cfg, err
	}
	for _, w := range warnings {
		logger.Warn().Str("key", w.Key).Str("value", w.Value).Err(w.Err).Msg("Ignoring malformed setting")
	}

	applyFlags(&cfg)
	config.Normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	changed := func(name string) bool {
		f := rootCmd.PersistentFlags().Lookup(name)
		return f != nil && f.Changed
	}
	d := &cfg.Device

	if changed("transport") {
		d.Transport = transportKind
	}
	if changed("address") {
		d.Address = tcpAddress
		if !changed("transport") {
			d.Transport = "tcp"
		}
	}
	if changed("port") {
		d.Port = portName
	}
	if changed("baud") {
		d.Baud = baudRate
	}
	if changed("parity") {
		d.Parity = parity
	}
	if changed("stopbits") {
		d.StopBits = stopBits
	}
	if changed("bytesize") {
		d.ByteSize = byteSize
	}
	if changed("timeout") {
		d.TimeoutSec = timeoutSec
	}
	if changed("slave") {
		d.SlaveID = slaveID
	}
	if changed("float-format") {
		d.FloatFormat = floatFormat
	}
}

// exitCode lets a command choose the process exit status without calling
// os.Exit from inside RunE.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCode) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitCode{code: code, err: err}
}

func sleepOrDone(done <-chan struct{}, d time.Duration) bool {
	select {
	case <-done:
		return false
	case <-time.After(d):
		return true
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
