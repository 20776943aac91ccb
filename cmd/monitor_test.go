// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/poller"
	"github.com/Thermoquad/vsensor/pkg/sim"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

//////////////////////////////////////////////////////////////
// Dashboard model
//////////////////////////////////////////////////////////////

type fakeControl struct {
	mu       sync.Mutex
	setpoint []float64
	hand     []float64
	modes    []vsensor.Mode
	err      error
}

func (f *fakeControl) SetAutoSetpoint(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setpoint = append(f.setpoint, v)
	return f.err
}

func (f *fakeControl) SetHandSetpoint(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hand = append(f.hand, v)
	return f.err
}

func (f *fakeControl) SetMode(m vsensor.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, m)
	return f.err
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds keys through Update and returns the final model and command.
func press(t *testing.T, m monitorModel, keys ...string) (monitorModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(monitorModel)
	}
	return m, cmd
}

func lastLog(m monitorModel) logEntry {
	if len(m.eventLog) == 0 {
		return logEntry{}
	}
	return m.eventLog[len(m.eventLog)-1]
}

func testSnapshot(seq uint64, mode vsensor.Mode, heartbeat uint16) poller.Snapshot {
	return poller.Snapshot{
		Telemetry: vsensor.Telemetry{
			PressurePa:    1013.25,
			OutputPercent: 42,
			AutoSetpoint:  500,
			Mode:          mode,
		},
		Heartbeat:    heartbeat,
		DisplayValue: 1013.25,
		Time:         time.Now(),
		Seq:          seq,
	}
}

func TestMonitorModelPolls(t *testing.T) {
	m := initialMonitorModel(&fakeControl{}, "sim")

	next, _ := m.Update(pollMsg{Snapshot: testSnapshot(1, vsensor.ModeAuto, 10)})
	m = next.(monitorModel)
	if m.latest == nil || m.latest.Seq != 1 {
		t.Fatalf("latest = %+v, want seq 1", m.latest)
	}
	if m.stats.GoodPolls != 1 {
		t.Errorf("GoodPolls = %d, want 1", m.stats.GoodPolls)
	}

	next, _ = m.Update(pollMsg{Snapshot: testSnapshot(2, vsensor.ModeManual, 11)})
	m = next.(monitorModel)
	if got := lastLog(m).message; got != "Mode changed AUTO -> MANUAL" {
		t.Errorf("last log = %q, want mode change", got)
	}

	timeout := &vsensor.Error{Kind: vsensor.KindTimeout, Op: "read_pressure", Address: 151, Attempts: 3, Err: vsensor.ErrNoResponse}
	next, _ = m.Update(pollMsg{Err: timeout})
	m = next.(monitorModel)
	if m.stats.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", m.stats.Timeouts)
	}
	entry := lastLog(m)
	if !entry.isError || !strings.HasPrefix(entry.message, "POLL TIMEOUT") {
		t.Errorf("last log = %+v, want POLL TIMEOUT error", entry)
	}
	// A failed poll keeps the last good values on screen
	if m.latest == nil || m.latest.Seq != 2 {
		t.Errorf("latest = %+v, want seq 2 kept", m.latest)
	}

	view := m.View()
	for _, want := range []string{"1013.25 Pa", "MANUAL", "last poll failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestMonitorModelSetpointEdit(t *testing.T) {
	ctrl := &fakeControl{}
	m := initialMonitorModel(ctrl, "sim")

	m, _ = press(t, m, "s")
	if m.editing != editSetpoint {
		t.Fatalf("editing = %v, want editSetpoint", m.editing)
	}

	m, cmd := press(t, m, "7", "5", "0", "enter")
	if m.editing != editNone {
		t.Errorf("still editing after enter")
	}
	if cmd == nil {
		t.Fatal("enter returned no command")
	}

	result, ok := cmd().(commandResultMsg)
	if !ok {
		t.Fatalf("command returned %T, want commandResultMsg", result)
	}
	if result.err != nil {
		t.Errorf("command error = %v", result.err)
	}
	if len(ctrl.setpoint) != 1 || ctrl.setpoint[0] != 750 {
		t.Errorf("setpoint writes = %v, want [750]", ctrl.setpoint)
	}

	next, _ := m.Update(result)
	m = next.(monitorModel)
	if got := lastLog(m).message; got != "Setpoint set to 750" {
		t.Errorf("last log = %q", got)
	}
}

func TestMonitorModelEditRejected(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want string
	}{
		{"setpoint out of range", []string{"s", "9", "9", "9", "9", "9", "enter"}, "Setpoint must be between 0 and 5000"},
		{"hand out of range", []string{"h", "1", "5", "0", "enter"}, "Hand setpoint must be between 0 and 100%"},
		{"not a number", []string{"s", "x", "enter"}, `Invalid setpoint value: "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeControl{}
			m, cmd := press(t, initialMonitorModel(ctrl, "sim"), tt.keys...)
			if cmd != nil {
				t.Errorf("rejected edit returned a command")
			}
			entry := lastLog(m)
			if !entry.isError || entry.message != tt.want {
				t.Errorf("last log = %+v, want error %q", entry, tt.want)
			}
			if len(ctrl.setpoint)+len(ctrl.hand) != 0 {
				t.Errorf("device written: %v %v", ctrl.setpoint, ctrl.hand)
			}
		})
	}
}

func TestMonitorModelEscCancels(t *testing.T) {
	ctrl := &fakeControl{}
	m, cmd := press(t, initialMonitorModel(ctrl, "sim"), "h", "5", "esc")
	if m.editing != editNone || cmd != nil {
		t.Errorf("esc: editing = %v, cmd = %v", m.editing, cmd)
	}
	// Keys act as shortcuts again once editing ends
	m, cmd = press(t, m, "a")
	if cmd == nil {
		t.Fatal("a returned no command")
	}
	cmd()
	if len(ctrl.modes) != 1 || ctrl.modes[0] != vsensor.ModeAuto {
		t.Errorf("modes = %v, want [AUTO]", ctrl.modes)
	}
}

func TestMonitorModelConnectionLost(t *testing.T) {
	ctrl := &fakeControl{}
	m := initialMonitorModel(ctrl, "sim")

	next, _ := m.Update(connectionLostMsg{})
	m = next.(monitorModel)

	m, cmd := press(t, m, "m")
	if cmd != nil {
		t.Error("mode command sent while disconnected")
	}
	if got := lastLog(m).message; got != "Cannot send command: connection lost" {
		t.Errorf("last log = %q", got)
	}

	next, _ = m.Update(reconnectedMsg{connInfo: "tcp 10.0.0.5:502"})
	m = next.(monitorModel)
	if m.connectionLost || m.connInfo != "tcp 10.0.0.5:502" {
		t.Errorf("after reconnect: lost = %v, info = %q", m.connectionLost, m.connInfo)
	}
	if _, cmd = press(t, m, "m"); cmd == nil {
		t.Error("mode command not sent after reconnect")
	}
}

func TestMonitorModelCommandFailure(t *testing.T) {
	m := initialMonitorModel(&fakeControl{}, "sim")
	next, _ := m.Update(commandResultMsg{description: "Mode set to AUTO", err: errors.New("boom")})
	m = next.(monitorModel)

	entry := lastLog(m)
	if !entry.isError || entry.message != "Mode set to AUTO failed: boom" {
		t.Errorf("last log = %+v", entry)
	}
}

func TestMonitorModelLogLimit(t *testing.T) {
	m := initialMonitorModel(&fakeControl{}, "sim")
	for i := 0; i < m.maxLogEntries+20; i++ {
		m.addLogEntry("entry", false)
	}
	if len(m.eventLog) != m.maxLogEntries {
		t.Errorf("len(eventLog) = %d, want %d", len(m.eventLog), m.maxLogEntries)
	}
}

func TestEventWriter(t *testing.T) {
	var got []logMsg
	w := eventWriter{send: func(msg tea.Msg) { got = append(got, msg.(logMsg)) }}

	w.Write([]byte("INF Connected\n"))
	w.Write([]byte("WRN Reconnect failed\n"))
	w.Write([]byte("\n"))

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].isError || got[0].message != "INF Connected" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if !got[1].isError {
		t.Errorf("warning not flagged: %+v", got[1])
	}
}

func TestPrintMonitorMsg(t *testing.T) {
	tests := []struct {
		name    string
		msg     tea.Msg
		showAll bool
		want    string
	}{
		{"good poll hidden", pollMsg{Snapshot: testSnapshot(4, vsensor.ModeAuto, 1)}, false, ""},
		{"good poll shown", pollMsg{Snapshot: testSnapshot(4, vsensor.ModeAuto, 1)}, true, "#4 Pressure: 1013.25 Pa"},
		{"error", pollMsg{Err: &vsensor.Error{Kind: vsensor.KindTransport, Op: "read_mode", Address: 156, Attempts: 3, Err: errors.New("crc")}}, false, "POLL TRANSPORT"},
		{"lost", connectionLostMsg{}, false, "CONNECTION LOST"},
		{"reconnected", reconnectedMsg{connInfo: "sim"}, false, "RECONNECTED"},
		{"log", logMsg{message: "hello"}, false, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printMonitorMsg(&buf, poller.NewStatistics(), tt.msg, tt.showAll)
			if tt.want == "" {
				if buf.Len() != 0 {
					t.Errorf("printed %q, want nothing", buf.String())
				}
				return
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("printed %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

//////////////////////////////////////////////////////////////
// Connection manager
//////////////////////////////////////////////////////////////

func newTestSession(t *testing.T, dev *sim.Device) *Session {
	t.Helper()
	c, err := vsensor.NewClient(vsensor.DefaultConfig(), dev,
		vsensor.WithRetrier(vsensor.Retrier{Attempts: 1, Logger: zerolog.Nop()}))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return newSession(c, openedTransport{tr: dev, info: "sim"})
}

func TestConnectionManagerReconnects(t *testing.T) {
	broken := sim.NewSeeded(vsensor.DefaultFloatFormat)
	broken.FailAlways(vsensor.ErrNoResponse)
	healthy := sim.NewSeeded(vsensor.DefaultFloatFormat)

	msgs := make(chan tea.Msg, 256)
	opens := 0
	cm := &connectionManager{
		interval: 5 * time.Millisecond,
		log:      zerolog.Nop(),
		open: func() (*Session, error) {
			opens++
			if opens == 1 {
				return nil, errors.New("port busy")
			}
			return newTestSession(t, healthy), nil
		},
		send: func(msg tea.Msg) {
			select {
			case msgs <- msg:
			default:
			}
		},
		session:    newTestSession(t, broken),
		done:       make(chan struct{}),
		minBackoff: time.Millisecond,
		maxBackoff: 4 * time.Millisecond,
	}

	finished := make(chan struct{})
	go func() {
		cm.pollLoop()
		close(finished)
	}()

	var failures int
	var lost, reconnected, recovered bool
	deadline := time.After(5 * time.Second)
	for !recovered {
		select {
		case msg := <-msgs:
			switch msg := msg.(type) {
			case pollMsg:
				if msg.Err != nil {
					failures++
				} else if reconnected {
					recovered = true
				}
			case connectionLostMsg:
				if failures < maxPollFailures {
					t.Errorf("connection lost after %d failures, want %d", failures, maxPollFailures)
				}
				lost = true
			case reconnectedMsg:
				if !lost {
					t.Error("reconnected before connection lost")
				}
				reconnected = true
			}
		case <-deadline:
			t.Fatalf("timed out: failures=%d lost=%v reconnected=%v", failures, lost, reconnected)
		}
	}

	if !broken.Closed() {
		t.Error("broken transport not closed on reconnect")
	}
	if opens != 2 {
		t.Errorf("open called %d times, want 2", opens)
	}

	if err := cm.SetAutoSetpoint(600); err != nil {
		t.Errorf("SetAutoSetpoint() error = %v", err)
	}
	if got := healthy.Float(vsensor.RegAutoSetpoint.Address); got != 600 {
		t.Errorf("setpoint on new session = %v, want 600", got)
	}

	cm.stop()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("pollLoop did not exit after stop")
	}
	if !healthy.Closed() {
		t.Error("session not closed on stop")
	}
}

func TestConnectionManagerDisconnected(t *testing.T) {
	cm := &connectionManager{done: make(chan struct{})}
	if err := cm.SetMode(vsensor.ModeAuto); !errors.Is(err, errDisconnected) {
		t.Errorf("SetMode() error = %v, want errDisconnected", err)
	}
	if err := cm.SetHandSetpoint(1); !errors.Is(err, errDisconnected) {
		t.Errorf("SetHandSetpoint() error = %v, want errDisconnected", err)
	}
	cm.stop()
	cm.stop()
}
