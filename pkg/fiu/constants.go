// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fiu implements the ASCII command/response protocol spoken by
// Fault Insertion Unit modules on a shared RS-485 bus.
//
// Outbound frames have the shape
//
//	<mnemonic><module><args><checksum>\r
//
// where the checksum is the byte sum of everything before it, modulo 256,
// rendered as lower-case hex without padding. Inbound frames have the shape
//
//	<code>[payload]<checksum:2>\r
//
// with a payload only for codes '1' and '3'.
//
// This package is pure: it never touches a port. See package driver for the
// controller that owns the bus.
package fiu

// Frame terminator
const Terminator = '\r'

// Module and channel limits
const (
	MinModuleID       = 0
	MaxModuleID       = 7
	MinChannel        = 1
	MaxChannel        = 24
	ChannelsPerModule = 24

	// AllChannels is the channel field that addresses every channel of a module
	AllChannels = 99
)

// Command mnemonics (controller -> module)
const (
	MnemonicDisconnect  = 'D' // open-circuit fault enable
	MnemonicConnect     = 'C' // open-circuit fault disable
	MnemonicFaultToGnd  = 'F'
	MnemonicVoltMeasure = 'V'
	MnemonicCurrMeasure = 'I'
	MnemonicStatus      = 'S'
	MnemonicCycleCount  = 'N'
	MnemonicVersion     = 'H'
	MnemonicInterlock   = 'L'
	MnemonicOverride    = 'O'
)

// Response codes (module -> controller)
const (
	RespAck       = '0'
	RespAckData   = '1'
	RespError     = '2'
	RespErrorData = '3'
)

// Shortest data-carrying response: code + 2 checksum chars + CR
const minDataFrame = 4

// Relay cycle count layout: five fields on an 8-character stride
const (
	countFieldWidth  = 7
	countFieldStride = 8
	countFields      = 5
)
