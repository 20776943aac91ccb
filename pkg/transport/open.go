// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/Thermoquad/vsensor/pkg/sim"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

// Transport kinds
const (
	KindRTU = "rtu"
	KindTCP = "tcp"
	KindSim = "sim"
)

// Options selects and parameterizes a transport.
type Options struct {
	Kind    string // rtu, tcp or sim
	Address string // host:port for tcp
}

// Open builds the transport described by opts. The returned description is
// suitable for status lines.
func Open(opts Options, cfg vsensor.Config, logger zerolog.Logger) (vsensor.Transport, string, error) {
	switch strings.ToLower(opts.Kind) {
	case "", KindRTU:
		if cfg.Port == "" {
			return nil, "", fmt.Errorf("no serial port configured")
		}
		m, err := OpenRTU(cfg, logger)
		if err != nil {
			return nil, "", err
		}
		return m, m.String(), nil
	case KindTCP:
		if opts.Address == "" {
			return nil, "", fmt.Errorf("tcp transport requires an address")
		}
		m, err := OpenTCP(opts.Address, cfg, logger)
		if err != nil {
			return nil, "", err
		}
		return m, m.String(), nil
	case KindSim:
		format, err := cfg.Format()
		if err != nil {
			return nil, "", err
		}
		return sim.NewSeeded(format), "Simulated device", nil
	}
	return nil, "", fmt.Errorf("unknown transport %q (use rtu, tcp or sim)", opts.Kind)
}

// ListPorts returns the serial ports present on this machine, sorted.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
