// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/config"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

var (
	scanFrom    int
	scanTo      int
	scanTimeout float64
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find controllers by probing a range of slave IDs",
	Long: `Probe each slave ID in --from..--to with a single heartbeat read.

A responding ID is reported together with its current telemetry. Each ID gets
one attempt with the --scan-timeout request timeout, so a full bus scan of 247
IDs at 0.2 s takes under a minute.

Examples:
  # Scan the first 16 IDs on a serial bus
  vsensor scan --port /dev/ttyUSB0 --to 16

  # Scan a Modbus TCP gateway
  vsensor scan --address 192.168.1.50:502

Exit codes:
  0 - At least one device found
  1 - No devices answered
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanFrom, "from", 1, "First slave ID")
	scanCmd.Flags().IntVar(&scanTo, "to", 247, "Last slave ID")
	scanCmd.Flags().Float64Var(&scanTimeout, "scan-timeout", 0.2, "Request timeout per ID in seconds")
}

type scanResult struct {
	slaveID   int
	heartbeat uint16
	telemetry vsensor.Telemetry
	hasTel    bool
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFrom < 1 || scanTo > 247 || scanFrom > scanTo {
		return fmt.Errorf("invalid range %d-%d (slave IDs are 1-247)", scanFrom, scanTo)
	}

	cfg, err := loadConfig()
	if err != nil {
		return exitWith(2, err)
	}

	fmt.Printf("vsensor - Bus Scan\n")
	fmt.Printf("Transport: %s\n", cfg.Device.Transport)
	fmt.Printf("Slave IDs: %d-%d\n\n", scanFrom, scanTo)

	var found []scanResult
	for id := scanFrom; id <= scanTo; id++ {
		res, ok, err := scanOne(cfg.Device, id)
		if err != nil {
			return exitWith(2, fmt.Errorf("connection error: %w", err))
		}
		if !ok {
			continue
		}
		found = append(found, res)
		fmt.Printf("Device found:\n")
		fmt.Printf("  Slave ID: %d\n", res.slaveID)
		fmt.Printf("  Heartbeat: %d\n", res.heartbeat)
		if res.hasTel {
			fmt.Printf("  %s\n", res.telemetry)
		}
	}

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Devices found: %d\n", len(found))
	if len(found) == 0 {
		fmt.Printf("No devices answered. Check wiring, baud rate and parity.\n")
		return exitWith(1, nil)
	}
	return nil
}

// scanOne reports whether slave id answered a heartbeat read. The error is
// only set when the transport itself could not be opened.
func scanOne(dev config.DeviceConfig, id int) (scanResult, bool, error) {
	dev.SlaveID = id
	dev.TimeoutSec = scanTimeout

	ot, cleanup, err := provideTransport(dev, logger)
	if err != nil {
		return scanResult{}, false, err
	}
	defer cleanup()

	c, err := vsensor.NewClient(dev.Client(), ot.tr,
		vsensor.WithLogger(logger),
		vsensor.WithRetrier(vsensor.Retrier{Attempts: 1, Delay: 10 * time.Millisecond, Logger: logger}))
	if err != nil {
		return scanResult{}, false, err
	}

	hb, err := c.ReadHeartbeat()
	if err != nil {
		logger.Debug().Int("slave", id).Err(err).Msg("No answer")
		return scanResult{}, false, nil
	}
	res := scanResult{slaveID: id, heartbeat: hb}
	if t, err := c.ReadTelemetry(); err == nil {
		res.telemetry = t
		res.hasTel = true
	}
	return res, true, nil
}
