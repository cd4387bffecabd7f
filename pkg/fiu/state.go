// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

// ChannelState is the electrical state of a single relay channel
type ChannelState int

// Channel state values. StateReset is never commanded; it stands for a
// status code the driver did not recognise.
const (
	StateReset ChannelState = iota
	StateConnected
	StateDisconnected
	StateVoltMeasurement
	StateCurrMeasurement
	StateFaultToGround
)

var stateNames = map[ChannelState]string{
	StateReset:           "RESET",
	StateConnected:       "CONNECTED",
	StateDisconnected:    "DISCONNECTED",
	StateVoltMeasurement: "VOLT_MEASUREMENT",
	StateCurrMeasurement: "CURR_MEASUREMENT",
	StateFaultToGround:   "FAULT_TO_GND",
}

// String returns the state name
func (s ChannelState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsHazardous reports whether the state routes the channel to the shared
// measurement path or shorts it to ground. At most one channel in scope may
// hold a hazardous state.
func (s ChannelState) IsHazardous() bool {
	switch s {
	case StateVoltMeasurement, StateCurrMeasurement, StateFaultToGround:
		return true
	default:
		return false
	}
}

// StatusCode returns the single-character code a module uses for the state
// in its status report, or '?' for StateReset.
func (s ChannelState) StatusCode() byte {
	switch s {
	case StateConnected:
		return 'C'
	case StateDisconnected:
		return 'D'
	case StateVoltMeasurement:
		return 'V'
	case StateCurrMeasurement:
		return 'I'
	case StateFaultToGround:
		return 'F'
	default:
		return '?'
	}
}

// StateFromCode maps a status character to a ChannelState.
// Unrecognised codes map to StateReset.
func StateFromCode(c byte) ChannelState {
	switch c {
	case 'C':
		return StateConnected
	case 'D':
		return StateDisconnected
	case 'V':
		return StateVoltMeasurement
	case 'I':
		return StateCurrMeasurement
	case 'F':
		return StateFaultToGround
	default:
		return StateReset
	}
}

// ValidModule reports whether id can address a module on the bus
func ValidModule(id int) bool {
	return id >= MinModuleID && id <= MaxModuleID
}

// ValidChannel reports whether ch is a relay channel number
func ValidChannel(ch int) bool {
	return ch >= MinChannel && ch <= MaxChannel
}

// RelayCounts holds the cycle counters of the five relay contacts behind a channel
type RelayCounts struct {
	K1 uint64
	K2 uint64
	K3 uint64
	K4 uint64
	K5 uint64
}
