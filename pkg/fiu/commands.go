// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

import "fmt"

// Command builder functions create Command values ready for Encode.
// Channel fields are always two zero-padded digits. Builders do not
// validate ranges; the driver does that before anything is built.

// ChannelArg renders a channel number as the two-digit wire field
func ChannelArg(channel int) string {
	return fmt.Sprintf("%02d", channel)
}

// OpenCircuitCommand enables (D) or disables (C) an open-circuit fault on one channel
func OpenCircuitCommand(module, channel int, enable bool) Command {
	return Command{Mnemonic: openCircuitMnemonic(enable), Module: module, Args: ChannelArg(channel)}
}

// OpenCircuitAllCommand enables (D) or disables (C) open-circuit faults on
// every channel of a module.
func OpenCircuitAllCommand(module int, enable bool) Command {
	return Command{Mnemonic: openCircuitMnemonic(enable), Module: module, Args: ChannelArg(AllChannels)}
}

func openCircuitMnemonic(enable bool) byte {
	if enable {
		return MnemonicDisconnect
	}
	return MnemonicConnect
}

// ShortCircuitCommand shorts a channel to ground (F)
func ShortCircuitCommand(module, channel int) Command {
	return Command{Mnemonic: MnemonicFaultToGnd, Module: module, Args: ChannelArg(channel)}
}

// VoltageMeasurementCommand routes a channel to the DMM voltage input (V)
func VoltageMeasurementCommand(module, channel int) Command {
	return Command{Mnemonic: MnemonicVoltMeasure, Module: module, Args: ChannelArg(channel)}
}

// CurrentMeasurementCommand routes a channel through the DMM current bypass (I)
func CurrentMeasurementCommand(module, channel int) Command {
	return Command{Mnemonic: MnemonicCurrMeasure, Module: module, Args: ChannelArg(channel)}
}

// StatusCommand requests the 24-character relay state report (S)
func StatusCommand(module int) Command {
	return Command{Mnemonic: MnemonicStatus, Module: module}
}

// CycleCountCommand requests the relay contact cycle counts of a channel (N)
func CycleCountCommand(module, channel int) Command {
	return Command{Mnemonic: MnemonicCycleCount, Module: module, Args: ChannelArg(channel)}
}

// VersionCommand requests the firmware version (H)
func VersionCommand(module int) Command {
	return Command{Mnemonic: MnemonicVersion, Module: module}
}

// InterlockStateCommand requests the 24V interlock input state (L)
func InterlockStateCommand(module int) Command {
	return Command{Mnemonic: MnemonicInterlock, Module: module}
}

// InterlockOverrideCommand forces the interlock input active or inactive (O)
func InterlockOverrideCommand(module int, enable bool) Command {
	flag := "0"
	if enable {
		flag = "1"
	}
	return Command{Mnemonic: MnemonicOverride, Module: module, Args: flag}
}

// TargetState returns the channel state a command drives its channel to,
// and false for commands that do not change relay state.
func (c Command) TargetState() (ChannelState, bool) {
	switch c.Mnemonic {
	case MnemonicDisconnect:
		return StateDisconnected, true
	case MnemonicConnect:
		return StateConnected, true
	case MnemonicFaultToGnd:
		return StateFaultToGround, true
	case MnemonicVoltMeasure:
		return StateVoltMeasurement, true
	case MnemonicCurrMeasure:
		return StateCurrMeasurement, true
	default:
		return StateReset, false
	}
}
