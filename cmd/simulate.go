// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mbserver "github.com/hootrhino/mbserver"
	"github.com/hootrhino/mbserver/store"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/sim"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

var (
	simListen string
	simTick   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a simulated controller over Modbus TCP",
	Long: `Run a Modbus TCP server that exposes a simulated controller's holding
registers, for testing clients without hardware.

The simulated process value drifts toward the setpoint in AUTO mode and the
heartbeat advances every tick. Floats are encoded with --float-format.

The server answers as unit ID 1. The register image is pushed to the server
on every tick; values written by Modbus clients are overwritten on the next
tick.

Example:
  vsensor simulate --listen :5020 &
  vsensor read --address localhost:5020`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", ":5020", "Modbus TCP listen address")
	simulateCmd.Flags().Float64Var(&simTick, "tick", 1, "Simulation step in seconds")
}

// simulatedImageSize covers every register up to the high alarm float.
var simulatedImageSize = int(vsensor.RegHighAlarm.Last())

const simulatorUnitID = 1

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := cfg.Device.Client().Format()
	if err != nil {
		return err
	}
	if simTick <= 0 {
		return fmt.Errorf("--tick must be > 0")
	}

	dev := sim.NewSeeded(format)

	server := mbserver.NewServer(store.NewInMemoryStore(), simulatorUnitID)
	server.SetErrorHandler(func(err error) {
		logger.Warn().Err(err).Msg("Modbus server error")
	})
	server.SetLogger(logger.With().Str("component", "mbserver").Logger())

	if err := server.SetHoldingRegisters(dev.Image(simulatedImageSize)); err != nil {
		return fmt.Errorf("failed to load register image: %w", err)
	}
	if err := server.Start(simListen); err != nil {
		return fmt.Errorf("failed to start Modbus server on %s: %w", simListen, err)
	}
	defer server.Stop()

	fmt.Printf("vsensor - Simulator\n")
	fmt.Printf("Listening: %s (unit %d, float format %s)\n", simListen, simulatorUnitID, format)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(secondsToDuration(simTick))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			dev.Tick()
			if err := server.SetHoldingRegisters(dev.Image(simulatedImageSize)); err != nil {
				logger.Warn().Err(err).Msg("Register update failed")
				continue
			}
			logger.Debug().
				Float64("pressure", dev.Float(vsensor.RegPressure.Address)).
				Uint16("heartbeat", dev.Register(vsensor.RegHeartbeat.Address)).
				Msg("Tick")
		}
	}
}
