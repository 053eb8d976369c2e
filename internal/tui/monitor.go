// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"dsoscope/internal/analysis"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Snapshot is the part of a snapshot the monitor observes and controls.
// *snapshot.ScopeSnapshot implements it.
type Snapshot interface {
	Size() uint64
	TotalSampleCount() uint64
	ChannelCount() int
	EnvelopeEnabled() bool
	EnvelopeDone() bool
	EnableEnvelope(enable bool)
	MemoryFailed() bool
	LastEnded() bool
	Clear()
}

// MeasurementSource provides per-channel readouts. *analysis.Meter implements it.
type MeasurementSource interface {
	Measure() []analysis.Measurement
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5534B")).Bold(true)
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
)

type monitorKeys struct {
	envelope key.Binding
	clear    key.Binding
	quit     key.Binding
}

var defaultMonitorKeys = monitorKeys{
	envelope: key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "envelope")),
	clear:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
	quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

// MonitorModel polls a snapshot and its meter and renders per-channel
// statistics.
type MonitorModel struct {
	snap     Snapshot
	meter    MeasurementSource
	interval time.Duration
	keys     monitorKeys

	measurements []analysis.Measurement
	size, total  uint64
	envelope     bool
	envelopeDone bool
	memoryFailed bool
	ended        bool
	width        int
}

// NewMonitorModel returns a monitor refreshing every interval.
func NewMonitorModel(snap Snapshot, meter MeasurementSource, interval time.Duration) MonitorModel {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return MonitorModel{snap: snap, meter: meter, interval: interval, keys: defaultMonitorKeys, width: 80}
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MonitorModel) Init() tea.Cmd {
	return m.tick()
}

func (m *MonitorModel) poll() {
	m.size = m.snap.Size()
	m.total = m.snap.TotalSampleCount()
	m.envelope = m.snap.EnvelopeEnabled()
	m.envelopeDone = m.snap.EnvelopeDone()
	m.memoryFailed = m.snap.MemoryFailed()
	m.ended = m.snap.LastEnded()
	m.measurements = m.meter.Measure()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.poll()
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.envelope):
			m.snap.EnableEnvelope(!m.snap.EnvelopeEnabled())
			m.poll()
		case key.Matches(msg, m.keys.clear):
			m.snap.Clear()
			m.poll()
		}
	}
	return m, nil
}

func (m MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("dsoscope monitor"))
	sb.WriteString("\n\n")

	fill := 0.0
	if m.total > 0 {
		fill = float64(m.size) / float64(m.total)
	}
	env := "off"
	if m.envelope {
		env = "on"
		if !m.envelopeDone {
			env = "on (incomplete)"
		}
	}
	state := "running"
	if m.ended {
		state = "ended"
	}
	fmt.Fprintf(&sb, "%s %d / %d (%.0f%%)   %s %s   %s %s\n",
		labelStyle.Render("samples"), m.size, m.total, fill*100,
		labelStyle.Render("envelope"), env,
		labelStyle.Render("capture"), state)
	if m.memoryFailed {
		sb.WriteString(warnStyle.Render("memory allocation failed"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(m.measurements) == 0 {
		sb.WriteString(infoStyle.Render("no data"))
		sb.WriteString("\n")
	}
	barWidth := max(m.width-60, 10)
	for _, ms := range m.measurements {
		n := int(ms.PeakToPeak) * barWidth / 255
		fmt.Fprintf(&sb, "ch%-2d rms %7.2f  mean %6.2f  min %3d  max %3d  %s\n",
			ms.Channel, ms.RMS, ms.Mean, ms.Min, ms.Max,
			barStyle.Render(strings.Repeat("█", n)))
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("%s: %s • %s: %s • %s: %s",
		m.keys.envelope.Help().Key, m.keys.envelope.Help().Desc,
		m.keys.clear.Help().Key, m.keys.clear.Help().Desc,
		m.keys.quit.Help().Key, m.keys.quit.Help().Desc)))
	return sb.String()
}

// RunMonitor blocks until the user quits or done is closed.
func RunMonitor(snap Snapshot, meter MeasurementSource, interval time.Duration, done <-chan struct{}) error {
	p := tea.NewProgram(NewMonitorModel(snap, meter, interval), tea.WithAltScreen())
	go func() {
		<-done
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
