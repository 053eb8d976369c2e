package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"dsoscope/internal/analysis"
	"dsoscope/internal/audio"
	"dsoscope/internal/snapshot"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func testDevices() ([]audio.Device, error) {
	return []audio.Device{
		{ID: 0, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{ID: 1, Name: "Line In", MaxInputChannels: 2, DefaultSampleRate: 44100},
		{ID: 2, Name: "Interface", MaxInputChannels: 8, DefaultSampleRate: 96000},
	}, nil
}

func step(t *testing.T, m tea.Model, msg tea.Msg) (tea.Model, tea.Cmd) {
	t.Helper()
	return m.Update(msg)
}

func TestDeviceListPicksInputDevice(t *testing.T) {
	var m tea.Model = NewDeviceListModel(testDevices)
	m, _ = step(t, m, m.Init()())
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	assert.Contains(t, m.View(), "Line In")
	assert.NotContains(t, m.View(), "Speakers", "output-only devices hidden")

	m, _ = step(t, m, keyMsg("down"))
	m, _ = step(t, m, keyMsg("enter"))
	assert.Contains(t, m.View(), "Capture from: Interface")

	// default 96000 is the last rate; moving down stays there
	m, _ = step(t, m, keyMsg("down"))
	m, cmd := step(t, m, keyMsg("enter"))
	assert.True(t, isQuit(cmd))

	sel, ok := m.(DeviceListModel).Selected()
	require.True(t, ok)
	assert.Equal(t, Selection{DeviceID: 2, SampleRate: 96000}, sel)
}

func TestDeviceListEscapeAndQuit(t *testing.T) {
	var m tea.Model = NewDeviceListModel(testDevices)
	m, _ = step(t, m, m.Init()())
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = step(t, m, keyMsg("enter"))
	m, _ = step(t, m, keyMsg("esc"))
	assert.Contains(t, m.View(), "Input Devices")

	m, cmd := step(t, m, keyMsg("q"))
	assert.True(t, isQuit(cmd))
	_, ok := m.(DeviceListModel).Selected()
	assert.False(t, ok)
}

func TestDeviceListError(t *testing.T) {
	var m tea.Model = NewDeviceListModel(func() ([]audio.Device, error) {
		return nil, errors.New("no host api")
	})
	m, _ = step(t, m, m.Init()())
	assert.Contains(t, m.View(), "no host api")
}

func newMonitor(t *testing.T) (*snapshot.ScopeSnapshot, tea.Model) {
	t.Helper()
	s := snapshot.NewScopeSnapshot(nil)
	data := []byte{10, 200, 20, 190, 30, 180, 40, 170}
	require.NoError(t, s.FirstPayload(snapshot.Payload{Data: data, NumSamples: 4}, 8, map[int]bool{0: true, 1: true}, true))
	return s, NewMonitorModel(s, analysis.NewMeter(s, 128), time.Millisecond)
}

func TestMonitorTick(t *testing.T) {
	_, m := newMonitor(t)
	assert.Contains(t, m.View(), "no data")

	m, cmd := step(t, m, tickMsg(time.Now()))
	require.NotNil(t, cmd, "keeps ticking")
	view := m.View()
	assert.Contains(t, view, "4 / 8 (50%)")
	assert.Contains(t, view, "min  10")
	assert.Contains(t, view, "max 200")
}

func TestMonitorKeys(t *testing.T) {
	s, m := newMonitor(t)

	m, _ = step(t, m, keyMsg("e"))
	assert.True(t, s.EnvelopeEnabled())
	assert.Contains(t, m.View(), "envelope on")

	m, _ = step(t, m, keyMsg("c"))
	assert.Zero(t, s.Size())
	assert.True(t, strings.Contains(m.View(), "no data"))

	_, cmd := step(t, m, keyMsg("q"))
	assert.True(t, isQuit(cmd))
}
