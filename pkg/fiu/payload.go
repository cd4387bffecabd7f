// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRelayStates maps the first 24 characters of a status payload to
// channel states. Index i holds channel i+1.
func ParseRelayStates(payload string) ([ChannelsPerModule]ChannelState, error) {
	var states [ChannelsPerModule]ChannelState
	if len(payload) < ChannelsPerModule {
		e := newError(CodeMalformedResponse,
			fmt.Sprintf("status payload has %d codes, want %d", len(payload), ChannelsPerModule))
		e.Raw = []byte(payload)
		return states, e
	}
	for i := range states {
		states[i] = StateFromCode(payload[i])
	}
	return states, nil
}

// FormatRelayStates renders states as a status payload, the inverse of
// ParseRelayStates.
func FormatRelayStates(states [ChannelsPerModule]ChannelState) string {
	b := make([]byte, ChannelsPerModule)
	for i, s := range states {
		b[i] = s.StatusCode()
	}
	return string(b)
}

// ParseRelayCounts decodes the five relay cycle counters of a channel.
// Fields K1..K4 are seven characters wide on an eight-character stride;
// K5 runs to the end of the payload.
func ParseRelayCounts(payload string) (RelayCounts, error) {
	minLen := countFieldStride*(countFields-1) + 1
	if len(payload) < minLen {
		e := newError(CodeMalformedResponse,
			fmt.Sprintf("cycle count payload too short (%d bytes, want at least %d)", len(payload), minLen))
		e.Raw = []byte(payload)
		return RelayCounts{}, e
	}

	var vals [countFields]uint64
	for i := range vals {
		start := i * countFieldStride
		end := start + countFieldWidth
		if i == countFields-1 {
			end = len(payload)
		}
		field := strings.TrimSpace(payload[start:end])
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			e := newError(CodeMalformedResponse, fmt.Sprintf("cycle count K%d: %v", i+1, err))
			e.Raw = []byte(payload)
			return RelayCounts{}, e
		}
		vals[i] = v
	}

	return RelayCounts{K1: vals[0], K2: vals[1], K3: vals[2], K4: vals[3], K5: vals[4]}, nil
}

// FormatRelayCounts renders counts in the module's fixed-width layout
func FormatRelayCounts(c RelayCounts) string {
	return fmt.Sprintf("%07d,%07d,%07d,%07d,%07d", c.K1, c.K2, c.K3, c.K4, c.K5)
}

// ParseInterlock reports the interlock input as active for anything but "0"
func ParseInterlock(payload string) bool {
	return payload != "0"
}
