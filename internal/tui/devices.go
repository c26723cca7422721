// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bpmdetect/internal/audio"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

// DeviceListModel is the Bubble Tea model for browsing capture devices and
// picking an input.
type DeviceListModel struct {
	devices       []audio.CaptureDevice
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error

	// chosen holds the picked input device ID, or -1 when the user quit
	// without selecting.
	chosen int
}

// NewDeviceListModel creates a new device list model.
func NewDeviceListModel() DeviceListModel {
	return DeviceListModel{
		selectedIndex: 0,
		chosen:        -1,
	}
}

// Init initializes the Bubble Tea model
func (m DeviceListModel) Init() tea.Cmd {
	return fetchDevices
}

// fetchDevices gets the available capture devices
func fetchDevices() tea.Msg {
	devices, err := audio.CaptureDevices()
	if err != nil {
		return errMsg{err}
	}
	return devicesMsg{devices}
}

type devicesMsg struct {
	devices []audio.CaptureDevice
}

type errMsg struct {
	err error
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true

			if len(m.devices) > 0 {
				m.viewport.SetContent(m.renderDevices())
			}
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}

	case devicesMsg:
		m.devices = msg.devices
		if m.ready {
			m.viewport.SetContent(m.renderDevices())
		}

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))):
			return m, tea.Quit

		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			// Every listed device is capture-capable, so any pick is valid.
			if len(m.devices) > 0 {
				m.chosen = m.devices[m.selectedIndex].ID
				return m, tea.Quit
			}
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the UI
func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	title := titleStyle.Render("Select Input Device")
	help := infoStyle.Render("↑/↓: Navigate • Enter: Use Device • q: Quit")

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderDevices formats the device list
func (m DeviceListModel) renderDevices() string {
	var sb strings.Builder

	if len(m.devices) == 0 {
		return "No capture devices found."
	}

	for i, device := range m.devices {
		marker := ""
		if device.Default {
			marker = " (default)"
		}

		deviceInfo := fmt.Sprintf("[%d] %s%s\n", device.ID, device.Name, marker)
		deviceInfo += fmt.Sprintf("    Channels: %d, sample rate: %.0f Hz, latency: %.2f ms\n",
			device.Channels, device.SampleRate, device.LatencyMs)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}

	return sb.String()
}

// PickInputDevice launches the device browser and returns the selected
// input device ID, or -1 if the user quit without choosing.
func PickInputDevice() (int, error) {
	p := tea.NewProgram(
		NewDeviceListModel(),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		return -1, err
	}

	model, ok := final.(DeviceListModel)
	if !ok {
		return -1, fmt.Errorf("unexpected final model type %T", final)
	}
	return model.chosen, nil
}
