// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vsensor/pkg/poller"
	"github.com/Thermoquad/vsensor/pkg/vsensor"
	"github.com/Thermoquad/vsensor/pkg/wire"
)

// deviceControl applies dashboard commands.
type deviceControl interface {
	SetAutoSetpoint(v float64) error
	SetHandSetpoint(v float64) error
	SetMode(m vsensor.Mode) error
}

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// Which value the text input edits
type editTarget int

const (
	editNone editTarget = iota
	editSetpoint
	editHandSetpoint
)

func (t editTarget) label() string {
	if t == editHandSetpoint {
		return "Hand setpoint (%)"
	}
	return "Setpoint"
}

type monitorModel struct {
	ctrl     deviceControl
	connInfo string

	stats         *poller.Statistics
	latest        *poller.Snapshot
	lastErr       error
	lastHeartbeat uint16
	heartbeatSeen time.Time
	connectedAt   time.Time

	eventLog      []logEntry
	maxLogEntries int

	input   textinput.Model
	editing editTarget

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type pollMsg poller.Result

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

type logMsg struct {
	message string
	isError bool
}

type commandResultMsg struct {
	description string
	err         error
}

// eventWriter turns console-formatted zerolog lines into event log entries.
type eventWriter struct {
	send func(tea.Msg)
}

func (w eventWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line != "" {
		w.send(logMsg{
			message: line,
			isError: strings.Contains(line, "ERR") || strings.Contains(line, "WRN"),
		})
	}
	return len(p), nil
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(ctrl deviceControl, connInfo string) monitorModel {
	ti := textinput.New()
	ti.CharLimit = 10
	ti.Width = 12

	return monitorModel{
		ctrl:          ctrl,
		connInfo:      connInfo,
		stats:         poller.NewStatistics(),
		connectedAt:   time.Now(),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		input:         ti,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case pollMsg:
		m.processPoll(poller.Result(msg))

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.connectedAt = time.Now()
		m.addLogEntry("Reconnected", false)

	case logMsg:
		m.addLogEntry(msg.message, msg.isError)

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.description, msg.err), true)
		} else {
			m.addLogEntry(msg.description, false)
		}
	}

	if m.editing != editNone {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing != editNone {
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.stopEditing()
			return m, nil
		case "enter":
			return m.submitEdit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "s":
		return m.startEditing(editSetpoint)

	case "h":
		return m.startEditing(editHandSetpoint)

	case "a":
		return m.sendMode(vsensor.ModeAuto)

	case "m":
		return m.sendMode(vsensor.ModeManual)
	}
	return m, nil
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m monitorModel) startEditing(target editTarget) (tea.Model, tea.Cmd) {
	m.editing = target
	m.input.SetValue("")
	m.input.Placeholder = ""
	if m.latest != nil && target == editSetpoint {
		m.input.Placeholder = strconv.FormatFloat(m.latest.AutoSetpoint, 'f', -1, 64)
	}
	return m, m.input.Focus()
}

func (m *monitorModel) stopEditing() {
	m.editing = editNone
	m.input.Blur()
	m.input.SetValue("")
}

func (m monitorModel) submitEdit() (tea.Model, tea.Cmd) {
	target := m.editing
	raw := strings.TrimSpace(m.input.Value())
	if raw == "" {
		raw = m.input.Placeholder
	}
	m.stopEditing()

	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid %s value: %q", strings.ToLower(target.label()), raw), true)
		return m, nil
	}

	ctrl := m.ctrl
	switch target {
	case editSetpoint:
		if v < wire.MinSetpoint || v > wire.MaxSetpoint {
			m.addLogEntry(fmt.Sprintf("Setpoint must be between %.0f and %.0f", wire.MinSetpoint, wire.MaxSetpoint), true)
			return m, nil
		}
		return m, runCommand(fmt.Sprintf("Setpoint set to %g", v), func() error {
			return ctrl.SetAutoSetpoint(v)
		})
	case editHandSetpoint:
		if v < wire.MinHandSetpoint || v > wire.MaxHandSetpoint {
			m.addLogEntry(fmt.Sprintf("Hand setpoint must be between %.0f and %.0f%%", wire.MinHandSetpoint, wire.MaxHandSetpoint), true)
			return m, nil
		}
		return m, runCommand(fmt.Sprintf("Hand setpoint set to %g%%", v), func() error {
			return ctrl.SetHandSetpoint(v)
		})
	}
	return m, nil
}

func (m monitorModel) sendMode(mode vsensor.Mode) (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}
	ctrl := m.ctrl
	return m, runCommand(fmt.Sprintf("Mode set to %s", mode), func() error {
		return ctrl.SetMode(mode)
	})
}

// runCommand performs a device write off the UI goroutine.
func runCommand(description string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return commandResultMsg{description: description, err: fn()}
	}
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processPoll(r poller.Result) {
	m.stats.Update(r.Err)

	if r.Err != nil {
		m.lastErr = r.Err
		m.addLogEntry(fmt.Sprintf("POLL %s: %v", strings.ToUpper(vsensor.KindOf(r.Err).String()), r.Err), true)
		return
	}

	snap := r.Snapshot
	if m.latest != nil && m.latest.Mode != snap.Mode {
		m.addLogEntry(fmt.Sprintf("Mode changed %s -> %s", m.latest.Mode, snap.Mode), false)
	}
	if m.latest == nil || snap.Heartbeat != m.lastHeartbeat {
		m.heartbeatSeen = snap.Time
	}
	m.lastHeartbeat = snap.Heartbeat
	m.latest = &snap
	m.lastErr = nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("VSENSOR MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | s=setpoint h=hand a=auto m=manual q=quit", connStatus)))
	s.WriteString("\n")
	if !m.connectionLost {
		s.WriteString(fmt.Sprintf(" %s %s",
			labelStyle.Render("Connected:"),
			valueStyle.Render(formatUptime(uint64(time.Since(m.connectedAt).Milliseconds())))))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderValues(labelStyle, valueStyle, errorStyle, warningStyle, headerStyle, boxStyle))
	s.WriteString("\n")

	if m.editing != editNone {
		s.WriteString(fmt.Sprintf("%s %s  %s\n",
			labelStyle.Render(m.editing.label()+":"),
			m.input.View(),
			headerStyle.Render("enter=apply esc=cancel")))
	}
	s.WriteString("\n")

	s.WriteString(m.renderStatistics(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

func (m monitorModel) renderValues(labelStyle, valueStyle, errorStyle, warningStyle, headerStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder

	if m.latest == nil {
		if m.lastErr != nil {
			content.WriteString(errorStyle.Render(fmt.Sprintf("No data: %v", m.lastErr)))
		} else {
			content.WriteString(warningStyle.Render("Waiting for first poll..."))
		}
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	t := m.latest
	content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Pressure:"), valueStyle.Render(fmt.Sprintf("%.2f Pa", t.PressurePa)),
		labelStyle.Render("Display:"), valueStyle.Render(fmt.Sprintf("%.2f", t.DisplayValue)),
	))
	content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Setpoint:"), valueStyle.Render(fmt.Sprintf("%.2f", t.AutoSetpoint)),
		labelStyle.Render("Output:"), valueStyle.Render(fmt.Sprintf("%.1f%%", t.OutputPercent)),
	))

	modeStyle := valueStyle
	if t.Mode == vsensor.ModeManual {
		modeStyle = warningStyle
	}
	content.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Mode:"), modeStyle.Render(t.Mode.String()),
		labelStyle.Render("Heartbeat:"), valueStyle.Render(fmt.Sprintf("%d", t.Heartbeat)),
	))

	// Heartbeat frozen while polls still succeed
	if !m.heartbeatSeen.IsZero() && time.Since(m.heartbeatSeen) > 5*time.Second {
		content.WriteString(" " + errorStyle.Render("(stalled)"))
	}
	content.WriteString("\n")

	content.WriteString(headerStyle.Render(fmt.Sprintf("Last poll %s (#%d)",
		t.Time.Format("15:04:05.000"), t.Seq)))
	if m.lastErr != nil {
		content.WriteString(" " + errorStyle.Render("last poll failed"))
	}

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m monitorModel) renderStatistics(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	m.stats.CalculateRates()
	var goodPercent, errorPercent float64
	if m.stats.TotalPolls > 0 {
		goodPercent = float64(m.stats.GoodPolls) * 100.0 / float64(m.stats.TotalPolls)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalPolls)
	}

	errText := valueStyle.Render("0.0%")
	if errorPercent > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%.1f%% (T:%d X:%d P:%d)",
			errorPercent, m.stats.Timeouts, m.stats.TransportErrors, m.stats.ProtocolErrors))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Polls:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPolls)),
		labelStyle.Render("Good:"), valueStyle.Render(fmt.Sprintf("%.1f%%", goodPercent)),
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f polls/s", m.stats.PollRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	// Reserve space for header, values and statistics
	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Text mode
//////////////////////////////////////////////////////////////

// printMonitorMsg prints one poll loop message in text mode.
func printMonitorMsg(w io.Writer, stats *poller.Statistics, msg tea.Msg, showAll bool) {
	timestamp := time.Now().Format("15:04:05.000")

	switch msg := msg.(type) {
	case pollMsg:
		stats.Update(msg.Err)
		if msg.Err != nil {
			fmt.Fprintf(w, "[%s] \033[1;31mPOLL %s:\033[0m %v\n",
				timestamp, strings.ToUpper(vsensor.KindOf(msg.Err).String()), msg.Err)
			return
		}
		if showAll {
			s := msg.Snapshot
			fmt.Fprintf(w, "[%s] #%d %s, Heartbeat: %d\n",
				s.Time.Format("15:04:05.000"), s.Seq, s.Telemetry, s.Heartbeat)
		}

	case connectionLostMsg:
		fmt.Fprintf(w, "[%s] \033[1;33mCONNECTION LOST:\033[0m reconnecting...\n", timestamp)

	case reconnectedMsg:
		fmt.Fprintf(w, "[%s] \033[1;32mRECONNECTED:\033[0m %s\n", timestamp, msg.connInfo)

	case logMsg:
		fmt.Fprintf(w, "[%s] %s\n", timestamp, msg.message)
	}
}

// formatUptime formats a duration in milliseconds to a human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
