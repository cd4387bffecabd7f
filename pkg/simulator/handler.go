// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

// handleFrame answers one complete command frame. Caller holds b.mu.
func (b *Bus) handleFrame(frame []byte) {
	cmd, err := fiu.ParseCommand(frame)
	if err != nil {
		// Modules cannot tell who a garbled frame was for, so nobody answers
		return
	}
	b.frames = append(b.frames, cmd.Body())

	m, ok := b.modules[cmd.Module]
	if !ok {
		return
	}

	fault := FaultNone
	if len(b.faults) > 0 {
		fault = b.faults[0]
		b.faults = b.faults[1:]
	}
	switch fault {
	case FaultReject:
		b.reply(fiu.ResponseDeviceError, "Command rejected")
		return
	case FaultConflict:
		b.reply(fiu.ResponseDeviceErrorWithData, "Conflict")
		return
	case FaultCorrupt:
		b.out = append(b.out, '7', 'x', 'x', fiu.Terminator)
		return
	case FaultSilent:
		return
	case FaultTruncate:
		b.out = append(b.out, fiu.RespAckData, fiu.Terminator)
		return
	}

	switch cmd.Mnemonic {
	case fiu.MnemonicDisconnect, fiu.MnemonicConnect, fiu.MnemonicFaultToGnd,
		fiu.MnemonicVoltMeasure, fiu.MnemonicCurrMeasure:
		b.handleRelay(m, cmd)

	case fiu.MnemonicStatus:
		b.reply(fiu.ResponsePayload, fiu.FormatRelayStates(m.states))

	case fiu.MnemonicCycleCount:
		ch := cmd.Channel()
		if !fiu.ValidChannel(ch) {
			b.reply(fiu.ResponseDeviceError, "Invalid channel")
			return
		}
		b.reply(fiu.ResponsePayload, fiu.FormatRelayCounts(m.counts[ch-1]))

	case fiu.MnemonicVersion:
		b.reply(fiu.ResponsePayload, b.version)

	case fiu.MnemonicInterlock:
		active := "0"
		if m.interlock || m.override {
			active = "1"
		}
		b.reply(fiu.ResponsePayload, active)

	case fiu.MnemonicOverride:
		switch cmd.Args {
		case "0":
			m.override = false
		case "1":
			m.override = true
		default:
			b.reply(fiu.ResponseDeviceError, "Invalid argument")
			return
		}
		b.reply(fiu.ResponseEmpty, "")

	default:
		b.reply(fiu.ResponseDeviceError, "Unknown command")
	}
}

func (b *Bus) handleRelay(m *module, cmd fiu.Command) {
	target, _ := cmd.TargetState()
	ch := cmd.Channel()

	if ch == fiu.AllChannels {
		if target.IsHazardous() {
			b.reply(fiu.ResponseDeviceError, "Invalid channel")
			return
		}
		for i := range m.states {
			setRelay(m, i, target)
		}
		b.reply(fiu.ResponseEmpty, "")
		return
	}

	if !fiu.ValidChannel(ch) {
		b.reply(fiu.ResponseDeviceError, "Invalid channel")
		return
	}

	if b.StrictConflicts && target.IsHazardous() {
		for i, s := range m.states {
			if i != ch-1 && s.IsHazardous() {
				b.reply(fiu.ResponseDeviceErrorWithData, "Conflict")
				return
			}
		}
	}

	setRelay(m, ch-1, target)
	b.reply(fiu.ResponseEmpty, "")
}

// setRelay moves a channel to state and counts one cycle on the contact that
// state energises.
func setRelay(m *module, idx int, state fiu.ChannelState) {
	if m.states[idx] == state {
		return
	}
	m.states[idx] = state

	c := &m.counts[idx]
	switch state {
	case fiu.StateDisconnected:
		c.K1++
	case fiu.StateFaultToGround:
		c.K2++
	case fiu.StateVoltMeasurement:
		c.K3++
	case fiu.StateCurrMeasurement:
		c.K4++
	case fiu.StateConnected:
		c.K5++
	}
}

func (b *Bus) reply(kind fiu.ResponseKind, data string) {
	b.out = append(b.out, fiu.EncodeResponse(kind, data)...)
}
