// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/fiuctl/pkg/driver"
	"github.com/Thermoquad/fiuctl/pkg/fiu"
	"github.com/Thermoquad/fiuctl/pkg/simulator"
)

func newTestControlModel(t *testing.T) (controlModel, *driver.Driver, *simulator.Bus) {
	t.Helper()
	bus := simulator.NewBus(0, 1)
	d, err := driver.New(context.Background(), []int{0, 1}, bus,
		driver.WithResponseTimeout(50*time.Millisecond), driver.WithInitialSync())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return initialControlModel(d, "Simulator"), d, bus
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

// press feeds keys to the model, running any driver command they start to
// completion the way the bubbletea runtime would.
func press(t *testing.T, m controlModel, keys ...string) controlModel {
	t.Helper()
	for _, k := range keys {
		next, cmd := m.Update(keyMsg(k))
		m = next.(controlModel)
		if cmd == nil {
			continue
		}
		if done, ok := cmd().(commandDoneMsg); ok {
			next, _ = m.Update(done)
			m = next.(controlModel)
		}
	}
	return m
}

func lastLog(m controlModel) errorLogEntry {
	return m.errorLog[len(m.errorLog)-1]
}

func TestControlModel_Initial(t *testing.T) {
	m, _, _ := newTestControlModel(t)

	assert.Equal(t, []int{0, 1}, m.modules)
	assert.Equal(t, fiu.MinChannel, m.channel)
	assert.Equal(t, fiu.StateConnected, m.states[1][23], "initial sync reads the simulator")

	view := m.View()
	assert.Contains(t, view, "FIU CONTROL")
	assert.Contains(t, view, "Module 0")
}

func TestControlModel_GridNavigation(t *testing.T) {
	m, _, _ := newTestControlModel(t)

	// Arrows move the module list until the grid has focus
	m = press(t, m, "right")
	assert.Equal(t, 1, m.channel)

	m = press(t, m, "tab", "right", "right", "down")
	assert.Equal(t, 3+gridColumns, m.channel)

	m = press(t, m, "up", "up", "left", "left", "left", "left")
	assert.Equal(t, fiu.MinChannel, m.channel, "clamped at the first channel")

	m = press(t, m, "down", "down", "down")
	assert.Equal(t, fiu.MaxChannel-gridColumns+1, m.channel)
	m = press(t, m, "down")
	assert.Equal(t, fiu.MaxChannel, m.channel, "clamped at the last channel")
	m = press(t, m, "up", "left", "left", "left", "left", "left")
	assert.Equal(t, fiu.MaxChannel-2*gridColumns+1, m.channel)
	m = press(t, m, "right", "right", "right", "right", "right", "right")
	assert.Equal(t, fiu.MaxChannel-gridColumns+1, m.channel, "right runs on into the next row")
}

func TestControlModel_RelayCommands(t *testing.T) {
	m, d, bus := newTestControlModel(t)

	m = press(t, m, "tab", "right", "right", "v")
	assert.Equal(t, 0, m.pending)
	assert.Equal(t, fiu.StateVoltMeasurement, m.states[0][2])
	assert.False(t, lastLog(m).isError)

	// A second hazardous channel on the same module is refused locally
	bus.ResetFrames()
	m = press(t, m, "right", "i")
	assert.True(t, lastLog(m).isError)
	assert.Contains(t, lastLog(m).message, "Current module 0 channel 4")
	assert.Empty(t, bus.Frames())
	assert.Equal(t, fiu.StateConnected, m.states[0][3])

	// Other modules have their own DMM unless shared mode is on
	m = press(t, m, "tab", "down", "i")
	assert.Equal(t, fiu.StateCurrMeasurement, m.states[1][3])

	m = press(t, m, "s")
	assert.Equal(t, fiu.StateFaultToGround, m.states[1][3])

	m = press(t, m, "o")
	assert.Equal(t, fiu.StateDisconnected, m.states[1][3])

	states, err := d.ModuleStates(1)
	require.NoError(t, err)
	assert.Equal(t, states, m.states[1])
	assert.Positive(t, m.stats.Transactions)
}

func TestControlModel_BusWideAndSettings(t *testing.T) {
	m, d, bus := newTestControlModel(t)

	m = press(t, m, "O")
	for _, id := range []int{0, 1} {
		for _, s := range m.states[id] {
			assert.Equal(t, fiu.StateDisconnected, s)
		}
	}

	m = press(t, m, "C")
	assert.Equal(t, fiu.StateConnected, m.states[0][0])

	m = press(t, m, "m")
	assert.True(t, d.SharedDMM())
	assert.True(t, m.sharedDMM)

	bus.ResetFrames()
	m = press(t, m, "x")
	assert.True(t, m.overrides[0])
	assert.Equal(t, []string{"O01"}, bus.Frames())

	bus.SetInterlock(0, true)
	m = press(t, m, "r")
	active, known := m.interlock[0]
	assert.True(t, known)
	assert.True(t, active)
}

func TestControlModel_StateChangeLogged(t *testing.T) {
	m, _, _ := newTestControlModel(t)

	next, _ := m.Update(stateChangeMsg{Module: 1, Channel: 7, State: fiu.StateFaultToGround})
	m = next.(controlModel)
	assert.Equal(t, "Module 1 channel 7: FAULT_TO_GND", lastLog(m).message)

	next, _ = m.Update(stateChangeMsg{Module: 0, State: fiu.StateDisconnected})
	m = next.(controlModel)
	assert.Equal(t, "Module 0: all channels DISCONNECTED", lastLog(m).message)
}

func TestControlModel_LogIsBounded(t *testing.T) {
	m, _, _ := newTestControlModel(t)
	for i := 0; i < maxLogEntries+20; i++ {
		m.addLogEntry("event", false)
	}
	assert.Len(t, m.errorLog, maxLogEntries)
}

func TestControlModel_Quit(t *testing.T) {
	m, _, _ := newTestControlModel(t)

	next, cmd := m.Update(keyMsg("q"))
	m = next.(controlModel)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "Releasing all channels...\n", m.View())
}
