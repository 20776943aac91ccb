// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the connection by reading the heartbeat register",
	Long: `Read the heartbeat register repeatedly until it answers or the timeout
expires.

Each attempt uses the normal per-request timeout and retry policy. Errors are
printed once per distinct failure so a flapping link is easy to spot.

Exit codes:
  0 - Device answered before timeout
  1 - Timeout reached without an answer
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "wait", 10, "Seconds to wait for an answer")
}

func runProbe(cmd *cobra.Command, args []string) error {
	s, _, err := OpenSession()
	if err != nil {
		return exitWith(2, fmt.Errorf("connection error: %w", err))
	}
	defer s.Close()

	fmt.Printf("vsensor - Probe\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for heartbeat...\n\n")

	start := time.Now()
	hb, attempts, err := probeHeartbeat(s.Client, time.Duration(probeTimeout)*time.Second, 250*time.Millisecond)
	if err != nil {
		fmt.Printf("TIMEOUT: No answer within %d seconds (%d attempts, last error: %v)\n", probeTimeout, attempts, err)
		return exitWith(1, nil)
	}

	fmt.Printf("SUCCESS: Device answered\n")
	fmt.Printf("  Heartbeat: %d\n", hb)
	fmt.Printf("  Attempts: %d\n", attempts)
	fmt.Printf("  Elapsed: %v\n", time.Since(start).Round(time.Millisecond))

	if t, err := s.Client.ReadTelemetry(); err == nil {
		fmt.Printf("  %s\n", t)
	}
	return nil
}

// probeHeartbeat reads the heartbeat until it succeeds or wait elapses. It
// always makes at least one attempt.
func probeHeartbeat(c *vsensor.Client, wait, every time.Duration) (uint16, int, error) {
	deadline := time.Now().Add(wait)
	attempts := 0
	var lastErr error
	for {
		attempts++
		hb, err := c.ReadHeartbeat()
		if err == nil {
			return hb, attempts, nil
		}
		if lastErr == nil || lastErr.Error() != err.Error() {
			logger.Info().Err(err).Int("attempt", attempts).Msg("Probe failed")
		}
		lastErr = err

		if time.Now().Add(every).After(deadline) {
			return 0, attempts, lastErr
		}
		time.Sleep(every)
	}
}
