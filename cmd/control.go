// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/fiuctl/pkg/driver"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for switching FIU channels",
	Long: `Control FIU modules via an interactive terminal UI.

Features:
  - Module list and a 24-channel relay grid per module
  - Open, connect, short and measurement routing per channel
  - Bus-wide open/connect
  - Shared DMM mode toggle and interlock override
  - Transaction statistics and event logging

Tab switches between the module list and the channel grid. Arrow keys move
the selection; press ? for the full key list. On exit every channel is
returned to open circuit.

Supports serial, WebSocket and simulated connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// programRelay forwards driver observer callbacks to the running program.
// Changes committed before the program starts are dropped; the model reads
// the full state when it starts.
type programRelay struct {
	mu sync.RWMutex
	p  *tea.Program
}

func (r *programRelay) set(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
}

func (r *programRelay) observe(c driver.Change) {
	r.mu.RLock()
	p := r.p
	r.mu.RUnlock()
	if p != nil {
		// Send blocks until the program reads the message
		go p.Send(stateChangeMsg(c))
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	relay := &programRelay{}

	s, err := openSession(commandContext(cmd), driver.WithObserver(relay.observe), driver.WithInitialSync())
	if err != nil {
		return err
	}

	m := initialControlModel(s.driver, s.connInfo)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	relay.set(p)

	_, runErr := p.Run()
	relay.set(nil)

	closeErr := s.Close()
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return closeErr
}
