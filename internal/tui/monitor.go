// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bpmdetect/internal/analysis"
	"bpmdetect/internal/transport"
)

var (
	bpmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFDF5"))

	atTargetStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	offTargetStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#D94F4F")).
			Padding(0, 1)

	listeningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	meterFillStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))
)

const levelMeterWidth = 30

type estimateMsg struct {
	est analysis.Estimate
}

type levelTickMsg time.Time

func levelTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return levelTickMsg(t)
	})
}

// MonitorModel is the Bubble Tea model for the live tempo display used in
// standalone mode.
type MonitorModel struct {
	target    float64
	tolerance float64

	est     analysis.Estimate
	haveEst bool

	level     func() float32
	peak      float32
	startTime time.Time
}

// NewMonitorModel creates the live display model. level is polled for the
// input peak meter; it may be nil.
func NewMonitorModel(target, tolerance float64, level func() float32) MonitorModel {
	return MonitorModel{
		target:    target,
		tolerance: tolerance,
		level:     level,
		startTime: time.Now(),
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return levelTick()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))) {
			return m, tea.Quit
		}

	case estimateMsg:
		m.est = msg.est
		m.haveEst = true

	case levelTickMsg:
		if m.level != nil {
			m.peak = m.level()
		}
		return m, levelTick()
	}

	return m, nil
}

func (m MonitorModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("Tempo Monitor (target %.0f BPM ±%.0f)", m.target, m.tolerance)))
	sb.WriteString("\n\n")

	if m.haveEst && m.est.BPM > 0 {
		sb.WriteString(bpmStyle.Render(fmt.Sprintf("  %.1f BPM", m.est.BPM)))
		sb.WriteString("   ")
		if m.est.AtTarget {
			sb.WriteString(atTargetStyle.Render("AT TARGET"))
		} else {
			sb.WriteString(offTargetStyle.Render("OFF TARGET"))
		}
		sb.WriteString(fmt.Sprintf("\n\n  Beats tracked: %d\n", m.est.Beats))
	} else {
		sb.WriteString(listeningStyle.Render("  Listening..."))
		sb.WriteString("\n\n\n")
	}

	sb.WriteString(fmt.Sprintf("\n  Input %s\n", renderLevelMeter(m.peak)))
	sb.WriteString(fmt.Sprintf("  Uptime %s\n\n", time.Since(m.startTime).Round(time.Second)))
	sb.WriteString(infoStyle.Render("  q: Quit"))

	return sb.String()
}

// renderLevelMeter draws a fixed-width peak meter for a level in [0, 1].
func renderLevelMeter(level float32) string {
	filled := int(level * levelMeterWidth)
	if filled > levelMeterWidth {
		filled = levelMeterWidth
	}
	bar := meterFillStyle.Render(strings.Repeat("█", filled)) +
		strings.Repeat("░", levelMeterWidth-filled)
	return fmt.Sprintf("[%s]", bar)
}

// Monitor wraps the running Bubble Tea program so the detection pipeline
// can push estimates into it through the Transport interface.
type Monitor struct {
	program *tea.Program
}

// NewMonitor builds the live display program.
func NewMonitor(target, tolerance float64, level func() float32) *Monitor {
	return &Monitor{
		program: tea.NewProgram(
			NewMonitorModel(target, tolerance, level),
			tea.WithAltScreen(),
		),
	}
}

// Run blocks until the user quits the display.
func (m *Monitor) Run() error {
	_, err := m.program.Run()
	return err
}

// Quit asks the display to exit.
func (m *Monitor) Quit() {
	m.program.Quit()
}

// Sink returns a Transport that feeds estimates into the display.
func (m *Monitor) Sink() transport.Transport {
	return monitorSink{program: m.program}
}

type monitorSink struct {
	program *tea.Program
}

func (s monitorSink) Send(v any) error {
	if est, ok := v.(analysis.Estimate); ok {
		s.program.Send(estimateMsg{est: est})
	}
	return nil
}

func (s monitorSink) Close() error { return nil }

var _ transport.Transport = monitorSink{}
