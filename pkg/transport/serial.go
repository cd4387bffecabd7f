// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte links the FIU driver runs over: a
// local RS-485 adapter and a WebSocket serial bridge.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultPollWindow is how long a serial read waits for bytes before
// ReadAvailable gives up and returns what it has.
const DefaultPollWindow = 5 * time.Millisecond

// ErrNotOpen is returned by I/O on a transport that is not open
var ErrNotOpen = errors.New("transport: not open")

// PortSettings are the line parameters of a serial port
type PortSettings struct {
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O", "M" or "S"
	StopBits int    // 1 or 2
}

// DefaultPortSettings is 115200 8N1, the FIU factory setting
func DefaultPortSettings() PortSettings {
	return PortSettings{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
	}
}

// Mode converts the settings to a serial.Mode
func (s PortSettings) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
	}

	switch strings.ToUpper(s.Parity) {
	case "", "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("transport: invalid parity %q", s.Parity)
	}

	switch s.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("transport: invalid stop bits %d", s.StopBits)
	}

	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	return mode, nil
}

// String formats the settings the usual way, e.g. "115200 8N1"
func (s PortSettings) String() string {
	parity := strings.ToUpper(s.Parity)
	if parity == "" {
		parity = "N"
	}
	return fmt.Sprintf("%d %d%s%d", s.BaudRate, s.DataBits, parity, s.StopBits)
}

// openFunc matches serial.Open
type openFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Serial is a local serial port
type Serial struct {
	name       string
	settings   PortSettings
	pollWindow time.Duration
	open       openFunc

	mu   sync.Mutex
	port serial.Port
	buf  []byte
}

// NewSerial creates a serial transport. The port is opened by Open.
func NewSerial(name string, settings PortSettings) *Serial {
	return &Serial{
		name:       name,
		settings:   settings,
		pollWindow: DefaultPollWindow,
		open:       serial.Open,
		buf:        make([]byte, 256),
	}
}

// SetPollWindow changes how long ReadAvailable waits for the first byte
func (s *Serial) SetPollWindow(d time.Duration) {
	if d > 0 {
		s.pollWindow = d
	}
}

// Open opens and configures the port
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mode, err := s.settings.Mode()
	if err != nil {
		return err
	}

	port, err := s.open(s.name, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.name, err)
	}
	if err := port.SetReadTimeout(s.pollWindow); err != nil {
		_ = port.Close()
		return fmt.Errorf("setting read timeout on %s: %w", s.name, err)
	}

	s.port = port
	return nil
}

// Close closes the port. Closing a closed transport is a no-op.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Write writes p to the port
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return 0, ErrNotOpen
	}
	return port.Write(p)
}

// ReadAvailable returns the bytes that arrive within one poll window
func (s *Serial) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, ErrNotOpen
	}

	n, err := port.Read(s.buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return append([]byte(nil), s.buf[:n]...), nil
}

// String describes the transport for logs and the UI
func (s *Serial) String() string {
	return fmt.Sprintf("Serial: %s @ %s", s.name, s.settings)
}
