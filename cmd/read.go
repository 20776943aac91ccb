// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

var readCmd = &cobra.Command{
	Use:   "read [quantity]",
	Short: "Read a value from the controller",
	Long: `Read one quantity from the controller and print it.

Quantities:
  telemetry      pressure, output, setpoint and mode in one pass (default)
  pressure       process pressure (Pa)
  output         controller output (%)
  setpoint       AUTO mode pressure setpoint
  mode           AUTO or MANUAL
  heartbeat      free-running heartbeat counter
  display        value shown on the front display
  raw_output     signed raw PID output
  hand_setpoint  MANUAL mode output setpoint (%)
  alarms         low and high alarm thresholds
  registers      every known register`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: readQuantities,
	RunE:      runRead,
}

var readQuantities = []string{
	"telemetry", "pressure", "output", "setpoint", "mode", "heartbeat",
	"display", "raw_output", "hand_setpoint", "alarms", "registers",
}

func init() {
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	quantity := "telemetry"
	if len(args) == 1 {
		quantity = args[0]
	}

	s, _, err := OpenSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return printQuantity(os.Stdout, s.Client, quantity)
}

func printQuantity(w io.Writer, c *vsensor.Client, quantity string) error {
	switch strings.ToLower(quantity) {
	case "telemetry":
		t, err := c.ReadTelemetry()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Pressure: %.2f Pa\n", t.PressurePa)
		fmt.Fprintf(w, "Output:   %.1f%%\n", t.OutputPercent)
		fmt.Fprintf(w, "Setpoint: %.2f\n", t.AutoSetpoint)
		fmt.Fprintf(w, "Mode:     %s\n", t.Mode)

	case "pressure":
		v, err := c.ReadPressure()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%.2f Pa\n", v)

	case "output":
		v, err := c.ReadOutput()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%.1f%%\n", v)

	case "setpoint":
		v, err := c.ReadAutoSetpoint()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%.2f\n", v)

	case "mode":
		m, err := c.ReadMode()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, m)

	case "heartbeat":
		v, err := c.ReadHeartbeat()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, v)

	case "display":
		v, err := c.ReadDisplayValue()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%.2f\n", v)

	case "raw_output":
		v, err := c.ReadRawOutput()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, v)

	case "hand_setpoint":
		v, err := c.ReadHandSetpoint()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%.1f%%\n", v)

	case "alarms":
		a, err := c.ReadAlarms()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Low:  %.2f\n", a.Low)
		fmt.Fprintf(w, "High: %.2f\n", a.High)

	case "registers":
		for _, r := range vsensor.Registers() {
			v, err := c.ReadRegister(r)
			if err != nil {
				fmt.Fprintf(w, "%-14s %3d  ERROR: %v\n", r.Name, r.Address, err)
				continue
			}
			fmt.Fprintf(w, "%-14s %3d  %g\n", r.Name, r.Address, v)
		}

	default:
		return fmt.Errorf("unknown quantity %q (one of: %s)", quantity, strings.Join(readQuantities, ", "))
	}
	return nil
}
