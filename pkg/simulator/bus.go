// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator provides an in-memory FIU bus that answers commands the
// way real modules do. It satisfies the driver's transport contract and is
// used by tests and by the CLI's --simulate mode.
package simulator

import (
	"bytes"
	"errors"
	"sync"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

// DefaultVersion is the firmware version reported by simulated modules
const DefaultVersion = "FIU-SIM 1.0.0"

// Sentinel errors
var (
	ErrClosed = errors.New("simulator: bus is closed")
)

// Fault is a misbehaviour the bus applies to the next command it receives
type Fault int

// Injectable faults
const (
	FaultNone     Fault = iota
	FaultReject         // reply with code 2
	FaultConflict       // reply with code 3
	FaultCorrupt        // reply with an unknown response code
	FaultSilent         // do not reply at all
	FaultTruncate       // reply with a data code but no payload or checksum
)

var faultNames = map[Fault]string{
	FaultNone:     "none",
	FaultReject:   "reject",
	FaultConflict: "conflict",
	FaultCorrupt:  "corrupt",
	FaultSilent:   "silent",
	FaultTruncate: "truncate",
}

// String returns the fault name
func (f Fault) String() string {
	if name, ok := faultNames[f]; ok {
		return name
	}
	return "unknown"
}

type module struct {
	states    [fiu.ChannelsPerModule]fiu.ChannelState
	counts    [fiu.ChannelsPerModule]fiu.RelayCounts
	interlock bool
	override  bool
}

// Bus is a virtual RS-485 bus with a set of FIU modules attached.
// Commands addressed to a module that is not attached get no reply.
type Bus struct {
	mu      sync.Mutex
	open    bool
	version string
	modules map[int]*module
	faults  []Fault
	in      []byte
	out     []byte
	frames  []string

	// StrictConflicts makes modules refuse a second hazardous channel with
	// a code 3 reply, the way firmware guarding its own relays would.
	StrictConflicts bool

	// OpenErr, when set, is returned by Open.
	OpenErr error
}

// NewBus creates a bus with the given module ids attached. All channels start
// connected, as real modules do after power-up.
func NewBus(modules ...int) *Bus {
	b := &Bus{
		version: DefaultVersion,
		modules: make(map[int]*module, len(modules)),
	}
	for _, id := range modules {
		m := &module{}
		for i := range m.states {
			m.states[i] = fiu.StateConnected
		}
		b.modules[id] = m
	}
	return b
}

// Open implements the transport contract
func (b *Bus) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return b.OpenErr
	}
	b.open = true
	return nil
}

// Close implements the transport contract
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.in = nil
	b.out = nil
	return nil
}

// IsOpen reports whether the bus is open
func (b *Bus) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Write accepts command bytes. Every complete frame is answered immediately;
// the reply becomes visible to ReadAvailable.
func (b *Bus) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return 0, ErrClosed
	}

	b.in = append(b.in, p...)
	for {
		idx := bytes.IndexByte(b.in, fiu.Terminator)
		if idx < 0 {
			break
		}
		frame := append([]byte(nil), b.in[:idx+1]...)
		b.in = b.in[idx+1:]
		b.handleFrame(frame)
	}
	return len(p), nil
}

// ReadAvailable returns every reply byte not yet read
func (b *Bus) ReadAvailable() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil, ErrClosed
	}
	out := b.out
	b.out = nil
	return out, nil
}

// Inject queues faults, applied one per received command in order
func (b *Bus) Inject(faults ...Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, faults...)
}

// PushReply queues raw bytes as if a module had sent them unprompted
func (b *Bus) PushReply(raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = append(b.out, raw...)
}

// Frames returns the bodies of every command frame received so far
func (b *Bus) Frames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.frames...)
}

// ResetFrames clears the received frame log
func (b *Bus) ResetFrames() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}

// SetVersion changes the firmware version string modules report
func (b *Bus) SetVersion(v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = v
}

// SetInterlock drives the 24V interlock input of a module
func (b *Bus) SetInterlock(id int, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.modules[id]; ok {
		m.interlock = active
	}
}

// SetChannel changes a relay behind the driver's back, as a power cycle or a
// second controller would.
func (b *Bus) SetChannel(id, channel int, state fiu.ChannelState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.modules[id]; ok && fiu.ValidChannel(channel) {
		m.states[channel-1] = state
	}
}

// ModuleStates returns the relay states of a module as the hardware holds them
func (b *Bus) ModuleStates(id int) ([fiu.ChannelsPerModule]fiu.ChannelState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.modules[id]
	if !ok {
		return [fiu.ChannelsPerModule]fiu.ChannelState{}, false
	}
	return m.states, true
}

// Counts returns the relay cycle counters of a channel
func (b *Bus) Counts(id, channel int) fiu.RelayCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.modules[id]
	if !ok || !fiu.ValidChannel(channel) {
		return fiu.RelayCounts{}
	}
	return m.counts[channel-1]
}
