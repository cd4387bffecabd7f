// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/fiuctl/pkg/driver"
	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	gridColumns   = 6
	maxLogEntries = 100
	eventLogLines = 8
	listWidth     = 24
)

// Focus states
const (
	focusModuleList = iota
	focusGrid
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// moduleItem is one FIU module in the list
type moduleItem struct {
	id        int
	hazardous int
}

// Implement list.Item interface
func (i moduleItem) Title() string { return fmt.Sprintf("Module %d", i.id) }
func (i moduleItem) Description() string {
	switch i.hazardous {
	case 0:
		return "no hazardous channel"
	case 1:
		return "1 hazardous channel"
	default:
		return fmt.Sprintf("%d hazardous channels", i.hazardous)
	}
}
func (i moduleItem) FilterValue() string { return fmt.Sprint(i.id) }

type controlKeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Left       key.Binding
	Right      key.Binding
	Tab        key.Binding
	Open       key.Binding
	Connect    key.Binding
	Short      key.Binding
	Volt       key.Binding
	Curr       key.Binding
	OpenAll    key.Binding
	ConnectAll key.Binding
	Sync       key.Binding
	Shared     key.Binding
	Override   key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultControlKeys() controlKeyMap {
	return controlKeyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Left:       key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "left")),
		Right:      key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "right")),
		Tab:        key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "switch panel")),
		Open:       key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open circuit")),
		Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		Short:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "short to gnd")),
		Volt:       key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "voltage bus")),
		Curr:       key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "current bus")),
		OpenAll:    key.NewBinding(key.WithKeys("O"), key.WithHelp("O", "open all")),
		ConnectAll: key.NewBinding(key.WithKeys("C"), key.WithHelp("C", "connect all")),
		Sync:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "re-read module")),
		Shared:     key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "shared DMM")),
		Override:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "interlock override")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap
func (k controlKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Open, k.Connect, k.Short, k.Volt, k.Curr, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k controlKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right, k.Tab},
		{k.Open, k.Connect, k.Short, k.Volt, k.Curr},
		{k.OpenAll, k.ConnectAll, k.Sync, k.Shared, k.Override},
		{k.Help, k.Quit},
	}
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	driver   *driver.Driver
	connInfo string
	started  time.Time

	// Modules
	modules    []int
	moduleList list.Model
	states     map[int][fiu.ChannelsPerModule]fiu.ChannelState
	interlock  map[int]bool
	overrides  map[int]bool
	sharedDMM  bool

	// Grid selection, 1-24
	channel int

	// Monitoring
	stats    driver.Statistics
	errorLog []errorLogEntry
	pending  int

	// UI state
	keys         controlKeyMap
	help         help.Model
	focusedField int
	width        int
	height       int
	quitting     bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

// stateChangeMsg carries a change committed by the driver
type stateChangeMsg driver.Change

// commandDoneMsg reports a finished driver call. apply runs on success.
type commandDoneMsg struct {
	desc  string
	err   error
	apply func(m *controlModel)
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(d *driver.Driver, connInfo string) controlModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	moduleList := list.New([]list.Item{}, delegate, listWidth, 10)
	moduleList.Title = "Modules"
	moduleList.SetShowStatusBar(false)
	moduleList.SetShowHelp(false)
	moduleList.SetFilteringEnabled(false)

	m := controlModel{
		driver:       d,
		connInfo:     connInfo,
		started:      time.Now(),
		modules:      d.Modules(),
		moduleList:   moduleList,
		states:       make(map[int][fiu.ChannelsPerModule]fiu.ChannelState),
		interlock:    make(map[int]bool),
		overrides:    make(map[int]bool),
		channel:      fiu.MinChannel,
		keys:         defaultControlKeys(),
		help:         help.New(),
		focusedField: focusModuleList,
		width:        80,
		height:       24,
	}
	m.refresh()
	m.addLogEntry(fmt.Sprintf("Connected: %s", connInfo), false)
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.updateListSize()

	case controlTickMsg:
		m.refresh()
		return m, controlTickCmd()

	case stateChangeMsg:
		if msg.Channel == 0 {
			m.addLogEntry(fmt.Sprintf("Module %d: all channels %s", msg.Module, msg.State), false)
		} else {
			m.addLogEntry(fmt.Sprintf("Module %d channel %d: %s", msg.Module, msg.Channel, msg.State), false)
		}
		m.refresh()

	case commandDoneMsg:
		if m.pending > 0 {
			m.pending--
		}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.desc, msg.err), true)
		} else if msg.apply != nil {
			msg.apply(&m)
		}
		m.refresh()
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	module, ok := m.selectedModule()
	channel := m.channel

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		if m.focusedField == focusModuleList {
			m.focusedField = focusGrid
		} else {
			m.focusedField = focusModuleList
		}
		return m, nil

	case key.Matches(msg, m.keys.Up, m.keys.Down, m.keys.Left, m.keys.Right):
		return m.handleNavigation(msg)

	case key.Matches(msg, m.keys.OpenAll):
		return m.run("Open all", nil, func(ctx context.Context) error {
			return m.driver.SetOpenCircuitFaultAll(ctx, true)
		})

	case key.Matches(msg, m.keys.ConnectAll):
		return m.run("Connect all", nil, func(ctx context.Context) error {
			return m.driver.SetOpenCircuitFaultAll(ctx, false)
		})

	case key.Matches(msg, m.keys.Shared):
		shared := !m.sharedDMM
		return m.run(fmt.Sprintf("Shared DMM %s", onOff(shared)), func(m *controlModel) {
			m.addLogEntry(fmt.Sprintf("Shared DMM mode %s", onOff(shared)), false)
		}, func(ctx context.Context) error {
			m.driver.Configure(shared)
			return nil
		})
	}

	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Open):
		return m.runChannel("Open", module, channel, func(ctx context.Context) error {
			return m.driver.SetOpenCircuitFault(ctx, module, channel, true)
		})

	case key.Matches(msg, m.keys.Connect):
		return m.runChannel("Connect", module, channel, func(ctx context.Context) error {
			return m.driver.SetOpenCircuitFault(ctx, module, channel, false)
		})

	case key.Matches(msg, m.keys.Short):
		return m.runChannel("Short", module, channel, func(ctx context.Context) error {
			return m.driver.SetShortCircuitFault(ctx, module, channel)
		})

	case key.Matches(msg, m.keys.Volt):
		return m.runChannel("Voltage", module, channel, func(ctx context.Context) error {
			return m.driver.SetVoltageMeasurement(ctx, module, channel)
		})

	case key.Matches(msg, m.keys.Curr):
		return m.runChannel("Current", module, channel, func(ctx context.Context) error {
			return m.driver.SetCurrentMeasurement(ctx, module, channel)
		})

	case key.Matches(msg, m.keys.Sync):
		var active bool
		return m.run(fmt.Sprintf("Re-read module %d", module), func(m *controlModel) {
			m.interlock[module] = active
			m.addLogEntry(fmt.Sprintf("Module %d re-read, interlock %s", module, activeInactive(active)), false)
		}, func(ctx context.Context) error {
			if _, err := m.driver.SyncStates(ctx, module); err != nil {
				return err
			}
			var err error
			active, err = m.driver.InterlockState(ctx, module)
			return err
		})

	case key.Matches(msg, m.keys.Override):
		enable := !m.overrides[module]
		return m.run(fmt.Sprintf("Interlock override module %d", module), func(m *controlModel) {
			m.overrides[module] = enable
			m.addLogEntry(fmt.Sprintf("Module %d interlock override %s", module, onOff(enable)), false)
		}, func(ctx context.Context) error {
			return m.driver.InterlockOverride(ctx, module, enable)
		})
	}

	return m, nil
}

func (m controlModel) handleNavigation(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.focusedField == focusModuleList {
		if key.Matches(msg, m.keys.Up, m.keys.Down) {
			m.moduleList, _ = m.moduleList.Update(msg)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Left):
		m.channel--
	case key.Matches(msg, m.keys.Right):
		m.channel++
	case key.Matches(msg, m.keys.Up):
		m.channel -= gridColumns
	case key.Matches(msg, m.keys.Down):
		m.channel += gridColumns
	}
	m.channel = min(max(m.channel, fiu.MinChannel), fiu.MaxChannel)
	return m, nil
}

func (m controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	// Only the module list takes clicks
	m.moduleList, _ = m.moduleList.Update(msg)
	return m, nil
}

// run wraps a driver call in a tea.Cmd so the UI never waits on the bus
func (m controlModel) run(desc string, apply func(m *controlModel), fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	m.pending++
	return m, func() tea.Msg {
		return commandDoneMsg{desc: desc, err: fn(context.Background()), apply: apply}
	}
}

func (m controlModel) runChannel(verb string, module, channel int, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	return m.run(fmt.Sprintf("%s module %d channel %d", verb, module, channel), nil, fn)
}

func (m controlModel) View() string {
	if m.quitting {
		return "Releasing all channels...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("FIU CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | up %s", m.connInfo, formatUptime(time.Since(m.started)))))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf(" %s %s", statsLabelStyle.Render("Shared DMM:"), statsValueStyle.Render(onOff(m.sharedDMM))))
	if m.pending > 0 {
		s.WriteString("  ")
		s.WriteString(warningStyle.Render(fmt.Sprintf("busy (%d)", m.pending)))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderControlView())
	s.WriteString("\n\n")
	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")
	s.WriteString(m.renderEventLog())
	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlView() string {
	listStyle := boxStyle.Width(listWidth + 2)
	gridStyle := boxStyle
	if m.focusedField == focusModuleList {
		listStyle = focusedBoxStyle.Width(listWidth + 2)
	} else {
		gridStyle = focusedBoxStyle
	}

	modulePanel := listStyle.Render(m.moduleList.View())
	gridPanel := gridStyle.Render(m.renderGrid())

	return lipgloss.JoinHorizontal(lipgloss.Top, modulePanel, " ", gridPanel)
}

func (m controlModel) renderGrid() string {
	module, ok := m.selectedModule()
	if !ok {
		return headerStyle.Render("No module selected")
	}
	states := m.states[module]

	var s strings.Builder
	s.WriteString(fmt.Sprintf("%s %d", statsLabelStyle.Render("Module"), module))
	if active, known := m.interlock[module]; known {
		s.WriteString(fmt.Sprintf("  %s %s", statsLabelStyle.Render("Interlock:"), activeInactive(active)))
	}
	if m.overrides[module] {
		s.WriteString("  " + warningStyle.Render("OVERRIDE"))
	}
	s.WriteString("\n\n")

	for row := 0; row < fiu.ChannelsPerModule/gridColumns; row++ {
		cells := make([]string, 0, gridColumns)
		for col := 0; col < gridColumns; col++ {
			ch := row*gridColumns + col + 1
			state := states[ch-1]
			base := cellStyle
			if ch == m.channel {
				base = selectedCellStyle
			}
			label := fmt.Sprintf("%02d %c", ch, state.StatusCode())
			cells = append(cells, stateStyle(base, state).Render(label))
		}
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("%s %d  %s\n",
		statsLabelStyle.Render("Channel"), m.channel,
		stateStyle(lipgloss.NewStyle(), states[m.channel-1]).Render(states[m.channel-1].String())))
	s.WriteString(headerStyle.Render("C connected  D open  F short  V volt  I curr"))
	return s.String()
}

func (m controlModel) renderStatisticsBar() string {
	var ackPercent float64
	if m.stats.Transactions > 0 {
		ackPercent = float64(m.stats.Acknowledged) * 100.0 / float64(m.stats.Transactions)
	}

	errs := statsValueStyle.Render("0")
	if n := m.stats.Errors(); n > 0 {
		errs = errorStyle.Render(fmt.Sprintf("%d", n))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Tx:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Transactions)),
		statsLabelStyle.Render("Ack:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", ackPercent)),
		statsLabelStyle.Render("Errors:"), errs,
		statsLabelStyle.Render("Latency:"), statsValueStyle.Render(m.stats.AverageLatency().Round(time.Microsecond).String()),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tx/s", m.stats.TransactionRate)),
	)

	return boxStyle.Width(max(m.width-4, 20)).Render(content)
}

func (m controlModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	startIdx := max(len(m.errorLog)-eventLogLines, 0)

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.errorLog[startIdx:] {
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

	return boxStyle.Width(max(m.width-4, 20)).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxLogEntries:]
	}
}

// refresh copies the driver's model and statistics into the view state
func (m *controlModel) refresh() {
	for _, id := range m.modules {
		if states, err := m.driver.ModuleStates(id); err == nil {
			m.states[id] = states
		}
	}
	m.sharedDMM = m.driver.SharedDMM()
	m.stats = m.driver.Stats()
	m.updateModuleList()
}

func (m *controlModel) selectedModule() (int, bool) {
	idx := m.moduleList.Index()
	if idx < 0 || idx >= len(m.modules) {
		return 0, false
	}
	return m.modules[idx], true
}

func (m *controlModel) updateModuleList() {
	items := make([]list.Item, len(m.modules))
	for i, id := range m.modules {
		hazardous := 0
		for _, s := range m.states[id] {
			if s.IsHazardous() {
				hazardous++
			}
		}
		items[i] = moduleItem{id: id, hazardous: hazardous}
	}
	m.moduleList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := max(m.height/3, 5)
	m.moduleList.SetSize(listWidth, listHeight)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func activeInactive(b bool) string {
	if b {
		return "active"
	}
	return "inactive"
}
