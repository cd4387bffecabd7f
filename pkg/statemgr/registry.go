// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package statemgr tracks the relay state of every channel of every module
// and decides whether a requested transition keeps the bus safe.
//
// A Registry is not safe for concurrent use. The driver guards it with its
// bus mutex, which already serialises every reader and writer.
package statemgr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

// Sentinel errors
var (
	ErrUnknownModule = errors.New("statemgr: unknown module")
	ErrInvalidIndex  = errors.New("statemgr: channel out of range")
)

// Registry maps module ids to the states of their 24 channels. Index i of a
// module's array holds channel i+1.
type Registry struct {
	modules []int
	states  map[int]*[fiu.ChannelsPerModule]fiu.ChannelState
}

// New creates a registry for the given modules with no channel entries.
// Call SetAllState to seed the initial state.
func New(modules []int) *Registry {
	ids := append([]int(nil), modules...)
	sort.Ints(ids)
	return &Registry{
		modules: ids,
		states:  make(map[int]*[fiu.ChannelsPerModule]fiu.ChannelState, len(ids)),
	}
}

// Modules returns the module ids the registry was created with, ascending
func (r *Registry) Modules() []int {
	return append([]int(nil), r.modules...)
}

// SetModuleState overwrites all channels of module with state, creating the
// module's entry if it has none.
func (r *Registry) SetModuleState(module int, state fiu.ChannelState) {
	entry, ok := r.states[module]
	if !ok {
		entry = new([fiu.ChannelsPerModule]fiu.ChannelState)
		r.states[module] = entry
	}
	for i := range entry {
		entry[i] = state
	}
}

// SetModuleStates replaces all channel states of an existing module, as
// read back from the device.
func (r *Registry) SetModuleStates(module int, states [fiu.ChannelsPerModule]fiu.ChannelState) error {
	entry, ok := r.states[module]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownModule, module)
	}
	*entry = states
	return nil
}

// SetChannelState replaces the state of one channel. The module must already
// have an entry.
func (r *Registry) SetChannelState(module, channel int, state fiu.ChannelState) error {
	entry, ok := r.states[module]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownModule, module)
	}
	if !fiu.ValidChannel(channel) {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, channel)
	}
	entry[channel-1] = state
	return nil
}

// SetAllState sets every channel of each listed module to state
func (r *Registry) SetAllState(modules []int, state fiu.ChannelState) {
	for _, m := range modules {
		r.SetModuleState(m, state)
	}
}

// ChannelState returns the stored state of one channel
func (r *Registry) ChannelState(module, channel int) (fiu.ChannelState, error) {
	entry, ok := r.states[module]
	if !ok {
		return fiu.StateReset, fmt.Errorf("%w: %d", ErrUnknownModule, module)
	}
	if !fiu.ValidChannel(channel) {
		return fiu.StateReset, fmt.Errorf("%w: %d", ErrInvalidIndex, channel)
	}
	return entry[channel-1], nil
}

// ModuleStates returns a copy of the channel states of module
func (r *Registry) ModuleStates(module int) ([fiu.ChannelsPerModule]fiu.ChannelState, bool) {
	entry, ok := r.states[module]
	if !ok {
		return [fiu.ChannelsPerModule]fiu.ChannelState{}, false
	}
	return *entry, true
}

// CheckTransition reports whether channel of module may move to next while
// keeping at most one hazardous channel in the module. Non-hazardous targets
// are always allowed. The target channel itself is not considered.
func (r *Registry) CheckTransition(module, channel int, next fiu.ChannelState) bool {
	if !next.IsHazardous() {
		return true
	}
	entry, ok := r.states[module]
	if !ok {
		return false
	}
	for i, s := range entry {
		if i == channel-1 {
			continue
		}
		if s.IsHazardous() {
			return false
		}
	}
	return true
}

// CheckSharedTransition reports whether any channel may move to next while
// keeping at most one hazardous channel across every module. Every channel is
// scanned, including the one being changed.
func (r *Registry) CheckSharedTransition(next fiu.ChannelState) bool {
	if !next.IsHazardous() {
		return true
	}
	for _, entry := range r.states {
		for _, s := range entry {
			if s.IsHazardous() {
				return false
			}
		}
	}
	return true
}

// Channel addresses one relay channel on the bus
type Channel struct {
	Module  int
	Channel int
	State   fiu.ChannelState
}

// HazardousChannels lists every channel currently in a hazardous state,
// ordered by module then channel.
func (r *Registry) HazardousChannels() []Channel {
	var out []Channel
	for _, m := range r.modules {
		entry, ok := r.states[m]
		if !ok {
			continue
		}
		for i, s := range entry {
			if s.IsHazardous() {
				out = append(out, Channel{Module: m, Channel: i + 1, State: s})
			}
		}
	}
	return out
}
