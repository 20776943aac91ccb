// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/wire"
)

var (
	wsPingTimeout int
	wsPingCount   int
)

var wsPingCmd = &cobra.Command{
	Use:   "ws_ping",
	Short: "Test a bridge by sending PING_REQUEST",
	Long: `Send PING_REQUEST messages to a vsensor serve instance and wait for
PING_RESPONSE.

The bridge answers pings itself without touching the controller, so this checks
the WebSocket path in isolation:
  - WebSocket connection is established
  - HTTP Basic authentication works
  - Bridge is processing messages in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runWsPing,
}

func init() {
	rootCmd.AddCommand(wsPingCmd)
	wsPingCmd.Flags().IntVar(&wsPingTimeout, "wait", 5, "Timeout in seconds for each ping")
	wsPingCmd.Flags().IntVar(&wsPingCount, "count", 3, "Number of pings to send")
}

func runWsPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenBridgeConnection()
	if err != nil {
		return exitWith(2, fmt.Errorf("connection error: %w", err))
	}
	defer conn.Close()

	fmt.Printf("vsensor - WebSocket Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", wsPingTimeout)
	fmt.Printf("Count: %d pings\n\n", wsPingCount)

	// One reader for the whole run; telemetry frames are skipped.
	responses := make(chan *wire.Message, 1)
	errChan := make(chan error, 1)
	go func() {
		for {
			m, err := conn.Receive()
			if err != nil {
				errChan <- err
				return
			}
			if m.Type() == wire.MsgPingResponse {
				offerResponse(responses, m)
			}
		}
	}()

	successCount := 0
	failCount := 0

	for i := 1; i <= wsPingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, wsPingCount)

		// A PONG that missed its own ping's deadline must not answer this one
		if stale := drainResponses(responses); stale > 0 {
			logger.Debug().Int("stale", stale).Msg("Discarded late ping responses")
		}

		startTime := time.Now()
		if err := conn.Send(wire.NewPingRequest()); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case m := <-responses:
			rtt := time.Since(startTime)
			uptime, _ := wire.GetMapUint(m.PayloadMap(), 0)
			fmt.Printf("PONG from bridge, uptime=%s, rtt=%v\n", formatUptime(uptime), rtt.Round(time.Millisecond))
			successCount++

		case err := <-errChan:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount += wsPingCount - i + 1
			i = wsPingCount

		case <-time.After(time.Duration(wsPingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", wsPingTimeout)
			failCount++
		}

		if i < wsPingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		wsPingCount, successCount, float64(failCount)/float64(wsPingCount)*100)

	if failCount > 0 {
		return exitWith(1, nil)
	}
	return nil
}

// offerResponse hands m to the ping loop without ever blocking the reader.
func offerResponse(ch chan *wire.Message, m *wire.Message) {
	select {
	case ch <- m:
	default:
	}
}

// drainResponses empties ch and returns how many messages were discarded.
func drainResponses(ch chan *wire.Message) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}
