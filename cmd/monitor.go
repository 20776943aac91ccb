// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vsensor/pkg/config"
	"github.com/Thermoquad/vsensor/pkg/poller"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	pollInterval  float64
)

// Consecutive communication failures before the link is considered lost.
const maxPollFailures = 3

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for one controller",
	Long: `Poll the controller and show live values in an interactive terminal UI.

Features:
  - Pressure, output, setpoint, mode, heartbeat and display value
  - Setpoint, hand setpoint and mode control
  - Poll statistics (timeouts, transport and protocol errors, rates)
  - Event logging
  - Automatic reconnection with exponential backoff (1s to 30s)

Keys: s=edit setpoint  h=edit hand setpoint  a=AUTO  m=MANUAL  q=quit

With --tui=false the same data is printed as text: poll errors immediately,
every poll with --show-all, and a statistics summary every --stats-interval
seconds.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Log every poll (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().Float64Var(&pollInterval, "interval", 0, "Poll interval in seconds (default from config)")
}

//////////////////////////////////////////////////////////////
// Connection manager
//////////////////////////////////////////////////////////////

// connectionManager owns the device session, runs the poll loop and reopens
// the session when the link is lost.
type connectionManager struct {
	cfg      config.Config
	interval time.Duration
	log      zerolog.Logger
	open     func() (*Session, error)
	send     func(tea.Msg)

	mu      sync.RWMutex
	session *Session

	done chan struct{}

	// Backoff bounds; tests shorten them.
	minBackoff time.Duration
	maxBackoff time.Duration
}

func newConnectionManager(cfg config.Config, session *Session, send func(tea.Msg), log zerolog.Logger) *connectionManager {
	interval := cfg.Device.Client().PollInterval
	if pollInterval > 0 {
		interval = secondsToDuration(pollInterval)
	}
	return &connectionManager{
		cfg:      cfg,
		interval: interval,
		log:      log,
		open: func() (*Session, error) {
			s, _, err := initSession(cfg.Device, log)
			return s, err
		},
		send:       send,
		session:    session,
		done:       make(chan struct{}),
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (cm *connectionManager) getSession() *Session {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.session
}

func (cm *connectionManager) setSession(s *Session) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.session = s
}

func (cm *connectionManager) stop() {
	select {
	case <-cm.done:
	default:
		close(cm.done)
	}
	if s := cm.getSession(); s != nil {
		s.Close()
	}
}

// pollLoop polls until stop is called, reconnecting whenever the link is lost.
func (cm *connectionManager) pollLoop() {
	for {
		s := cm.getSession()
		if s == nil {
			if !cm.reconnect() {
				return
			}
			continue
		}

		lost := cm.pollSession(s)
		if !lost {
			return
		}

		cm.send(connectionLostMsg{})
		if !cm.reconnect() {
			return
		}
	}
}

// pollSession runs one poller against s. It returns true if the link was lost
// and false if shutdown was requested.
func (cm *connectionManager) pollSession(s *Session) bool {
	p, err := poller.New(s.Client, poller.Config{Interval: cm.interval, Logger: cm.log})
	if err != nil {
		cm.send(logMsg{message: err.Error(), isError: true})
		return false
	}

	results, unsubscribe := p.Subscribe(16)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	failures := 0
	for {
		select {
		case <-cm.done:
			return false
		case r, ok := <-results:
			if !ok {
				return false
			}
			cm.send(pollMsg(r))

			if r.Err == nil {
				failures = 0
				continue
			}
			if errors.Is(r.Err, vsensor.ErrCommunication) {
				failures++
			}
			if failures >= maxPollFailures {
				return true
			}
		}
	}
}

// reconnect reopens the session with exponential backoff. It returns false if
// shutdown was requested while waiting.
func (cm *connectionManager) reconnect() bool {
	if s := cm.getSession(); s != nil {
		s.Close()
		cm.setSession(nil)
	}

	backoff := cm.minBackoff
	for {
		if !sleepOrDone(cm.done, backoff) {
			return false
		}

		s, err := cm.open()
		if err == nil {
			cm.setSession(s)
			cm.send(reconnectedMsg{connInfo: s.Info})
			return true
		}
		cm.log.Debug().Err(err).Dur("backoff", backoff).Msg("Reconnect failed")

		backoff *= 2
		if backoff > cm.maxBackoff {
			backoff = cm.maxBackoff
		}
	}
}

var errDisconnected = errors.New("not connected")

// The manager is the dashboard's controller; commands go to whichever session
// is current.

func (cm *connectionManager) SetAutoSetpoint(v float64) error {
	s := cm.getSession()
	if s == nil {
		return errDisconnected
	}
	return s.Client.SetAutoSetpoint(v)
}

func (cm *connectionManager) SetHandSetpoint(v float64) error {
	s := cm.getSession()
	if s == nil {
		return errDisconnected
	}
	return s.Client.SetHandSetpoint(v)
}

func (cm *connectionManager) SetMode(m vsensor.Mode) error {
	s := cm.getSession()
	if s == nil {
		return errDisconnected
	}
	return s.Client.SetMode(m)
}

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

func runMonitor(cmd *cobra.Command, args []string) error {
	s, cfg, err := OpenSession()
	if err != nil {
		return err
	}

	if useTUI {
		return runMonitorTUI(cfg, s)
	}
	return runMonitorText(cfg, s)
}

func runMonitorTUI(cfg config.Config, s *Session) error {
	var p *tea.Program
	send := func(msg tea.Msg) {
		if p != nil {
			p.Send(msg)
		}
	}

	// Logs go to the event pane instead of corrupting the alt screen
	tuiLog := zerolog.New(zerolog.ConsoleWriter{
		Out:          eventWriter{send: send},
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}).Level(logger.GetLevel())

	cm := newConnectionManager(cfg, s, send, tuiLog)
	m := initialMonitorModel(cm, s.Info)
	p = tea.NewProgram(m, tea.WithAltScreen())

	go cm.pollLoop()

	_, err := p.Run()
	cm.stop()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

func runMonitorText(cfg config.Config, s *Session) error {
	fmt.Printf("vsensor - Monitor\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All polls\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	msgs := make(chan tea.Msg, 64)
	send := func(msg tea.Msg) {
		select {
		case msgs <- msg:
		default:
		}
	}

	cm := newConnectionManager(cfg, s, send, logger)
	go cm.pollLoop()
	defer cm.stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	stats := poller.NewStatistics()
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-sig:
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case msg := <-msgs:
			printMonitorMsg(os.Stdout, stats, msg, showAll)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
