// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/wire"
)

var (
	watchDuration  int
	watchTelemetry bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Display bridge messages in human-readable format",
	Long: `Connect to a vsensor serve instance and decode every WebSocket message as
it arrives.

Each message is shown with timestamp, message type, and decoded payload. Use
--duration to stop after a fixed time, which also makes this a simple
connection stability test.

Examples:
  vsensor watch --url ws://gateway.local:8080/ws
  vsensor watch --url wss://gateway.local/ws --username operator --duration 30

Exit codes:
  0 - Stopped normally (duration elapsed or server closed cleanly)
  1 - Connection dropped unexpectedly
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntVar(&watchDuration, "duration", 0, "Stop after this many seconds (0 = until interrupted)")
	watchCmd.Flags().BoolVar(&watchTelemetry, "telemetry", true, "Show TELEMETRY frames (false shows only events)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenBridgeConnection()
	if err != nil {
		return exitWith(2, fmt.Errorf("connection error: %w", err))
	}
	defer conn.Close()

	fmt.Printf("vsensor - Watch\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if watchDuration > 0 {
		fmt.Printf("Duration: %d seconds\n", watchDuration)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	msgChan := make(chan *wire.Message, 100)
	errChan := make(chan error, 1)

	go func() {
		for {
			m, err := conn.Receive()
			if err != nil {
				errChan <- err
				return
			}
			msgChan <- m
		}
	}()

	var deadline <-chan time.Time
	if watchDuration > 0 {
		deadline = time.After(time.Duration(watchDuration) * time.Second)
	}

	start := time.Now()
	counts := make(map[uint8]int)
	for {
		select {
		case m := <-msgChan:
			counts[m.Type()]++
			if m.Type() == wire.MsgTelemetry && !watchTelemetry {
				continue
			}
			fmt.Print(wire.FormatMessage(m))

		case err := <-errChan:
			printWatchSummary(start, counts)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Printf("Connection closed by server\n")
				return nil
			}
			return exitWith(1, fmt.Errorf("read failed: %w", err))

		case <-deadline:
			printWatchSummary(start, counts)
			return nil
		}
	}
}

func printWatchSummary(start time.Time, counts map[uint8]int) {
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("\n--- Watch summary ---\n")
	fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
	fmt.Printf("Messages: %d\n", total)
	for _, t := range []uint8{wire.MsgTelemetry, wire.MsgPollError, wire.MsgCommandAck, wire.MsgErrorRejected, wire.MsgErrorInvalidCmd} {
		if counts[t] > 0 {
			fmt.Printf("  %-18s %d\n", wire.FormatMessageType(t), counts[t])
		}
	}
}
