// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
	"github.com/Thermoquad/vsensor/pkg/wire"
)

var setForce bool

var setCmd = &cobra.Command{
	Use:   "set <mode|setpoint|hand_setpoint> <value>",
	Short: "Write a control value to the controller",
	Long: `Write one control value and read it back.

  set mode auto|manual
  set setpoint 500          AUTO mode pressure setpoint
  set hand_setpoint 25      MANUAL mode output (%)

Setpoints are checked against the dashboard limits (setpoint 0-5000, hand
setpoint 0-100 %). Use --force to write values outside them.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"mode", "setpoint", "hand_setpoint"},
	RunE:      runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.Flags().BoolVar(&setForce, "force", false, "Skip the dashboard range check")
}

func runSet(cmd *cobra.Command, args []string) error {
	s, _, err := OpenSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return applySet(os.Stdout, s.Client, args[0], args[1], setForce)
}

func applySet(w io.Writer, c *vsensor.Client, what, value string, force bool) error {
	switch strings.ToLower(what) {
	case "mode":
		m, err := vsensor.ParseModeName(value)
		if err != nil {
			return err
		}
		if err := c.SetMode(m); err != nil {
			return err
		}
		got, err := c.ReadMode()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Mode: %s\n", got)

	case "setpoint":
		v, err := parseSetValue(value, wire.MinSetpoint, wire.MaxSetpoint, force)
		if err != nil {
			return err
		}
		if err := c.SetAutoSetpoint(v); err != nil {
			return err
		}
		got, err := c.ReadAutoSetpoint()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Setpoint: %.2f\n", got)

	case "hand_setpoint", "hand":
		v, err := parseSetValue(value, wire.MinHandSetpoint, wire.MaxHandSetpoint, force)
		if err != nil {
			return err
		}
		if err := c.SetHandSetpoint(v); err != nil {
			return err
		}
		got, err := c.ReadHandSetpoint()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Hand setpoint: %.1f%%\n", got)

	default:
		return fmt.Errorf("cannot set %q (use mode, setpoint or hand_setpoint)", what)
	}
	return nil
}

func parseSetValue(s string, min, max float64, force bool) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("value must be finite, got %q", s)
	}
	if !force && (v < min || v > max) {
		return 0, fmt.Errorf("%g is outside %g-%g (use --force to override)", v, min, max)
	}
	return v, nil
}
