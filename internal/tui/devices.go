package tui

import (
	"fmt"
	"strings"

	"dsoscope/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
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

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// Selection is the device and sample rate picked in the device list.
type Selection struct {
	DeviceID   int
	SampleRate float64
}

// DeviceListModel lets the user pick an input device and a sample rate.
// Only devices with input channels are listed.
type DeviceListModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType
	chosen        *Selection

	selectedSampleRate   float64
	availableSampleRates []float64
	sampleRateIndex      int
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

var (
	quitKeys   = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	upKeys     = key.NewBinding(key.WithKeys("up", "k"))
	downKeys   = key.NewBinding(key.WithKeys("down", "j"))
	enterKeys  = key.NewBinding(key.WithKeys("enter"))
	escapeKeys = key.NewBinding(key.WithKeys("esc"))
)

// NewDeviceListModel creates a device list fed by fetch.
func NewDeviceListModel(fetch func() ([]audio.Device, error)) DeviceListModel {
	return DeviceListModel{
		fetch:        fetch,
		activeScreen: ListScreen,
	}
}

// Init initializes the Bubble Tea model
func (m DeviceListModel) Init() tea.Cmd {
	return m.fetchDevices
}

func (m DeviceListModel) fetchDevices() tea.Msg {
	devices, err := m.fetch()
	if err != nil {
		return errMsg{err}
	}
	inputs := devices[:0:0]
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}
	return devicesMsg{inputs}
}

// Selected returns the confirmed selection, if any.
func (m DeviceListModel) Selected() (Selection, bool) {
	if m.chosen == nil {
		return Selection{}, false
	}
	return *m.chosen, true
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			return m, tea.Quit
		}

		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, upKeys):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, downKeys):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, enterKeys):
				if len(m.devices) > 0 {
					m.openConfig()
				}
			}

		case ConfigScreen:
			switch {
			case key.Matches(msg, escapeKeys):
				m.activeScreen = ListScreen
			case key.Matches(msg, upKeys):
				if m.sampleRateIndex > 0 {
					m.sampleRateIndex--
				}
			case key.Matches(msg, downKeys):
				if m.sampleRateIndex < len(m.availableSampleRates)-1 {
					m.sampleRateIndex++
				}
			case key.Matches(msg, enterKeys):
				m.chosen = &Selection{
					DeviceID:   m.devices[m.selectedIndex].ID,
					SampleRate: m.availableSampleRates[m.sampleRateIndex],
				}
				return m, tea.Quit
			}
			m.selectedSampleRate = m.availableSampleRates[m.sampleRateIndex]
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *DeviceListModel) openConfig() {
	m.activeScreen = ConfigScreen
	m.availableSampleRates = []float64{44100, 48000, 88200, 96000}
	m.selectedSampleRate = m.devices[m.selectedIndex].DefaultSampleRate

	m.sampleRateIndex = 0
	for i, rate := range m.availableSampleRates {
		if rate == m.selectedSampleRate {
			m.sampleRateIndex = i
			break
		}
	}
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
	} else {
		m.viewport.SetContent(m.renderDevices())
	}
}

// View renders the UI
func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Input Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Capture Configuration")
		help = infoStyle.Render("↑/↓: Change Value • Enter: Start • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		deviceInfo := fmt.Sprintf("[%d] %s\n", device.ID, device.Name)
		deviceInfo += fmt.Sprintf("    Input channels: %d\n", device.MaxInputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}
		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	device := m.devices[m.selectedIndex]

	sb.WriteString(fmt.Sprintf("Capture from: %s\n\n", device.Name))
	sb.WriteString("Sample Rate:\n")
	for i, rate := range m.availableSampleRates {
		marker := " "
		if i == m.sampleRateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", marker, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// PickDevice runs the device list and returns the confirmed selection.
// ok is false when the user quit without choosing.
func PickDevice(fetch func() ([]audio.Device, error)) (sel Selection, ok bool, err error) {
	p := tea.NewProgram(NewDeviceListModel(fetch), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, false, err
	}
	sel, ok = final.(DeviceListModel).Selected()
	return sel, ok, nil
}
