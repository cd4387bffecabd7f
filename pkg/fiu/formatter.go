// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

import (
	"fmt"
	"strings"
	"time"
)

// FormatMnemonic returns the human-readable name for a command mnemonic
func FormatMnemonic(m byte) string {
	switch m {
	case MnemonicDisconnect:
		return "OPEN_CIRCUIT"
	case MnemonicConnect:
		return "CONNECT"
	case MnemonicFaultToGnd:
		return "FAULT_TO_GND"
	case MnemonicVoltMeasure:
		return "VOLT_MEASUREMENT"
	case MnemonicCurrMeasure:
		return "CURR_MEASUREMENT"
	case MnemonicStatus:
		return "RELAY_STATUS"
	case MnemonicCycleCount:
		return "CYCLE_COUNT"
	case MnemonicVersion:
		return "SOFTWARE_VERSION"
	case MnemonicInterlock:
		return "INTERLOCK_STATE"
	case MnemonicOverride:
		return "INTERLOCK_OVERRIDE"
	default:
		return "UNKNOWN"
	}
}

// FormatCommand formats a decoded command for display
func FormatCommand(c Command) string {
	s := fmt.Sprintf("%s mod=%d", FormatMnemonic(c.Mnemonic), c.Module)
	if ch := c.Channel(); ch == AllChannels {
		s += " ch=ALL"
	} else if ch >= 0 {
		s += fmt.Sprintf(" ch=%d", ch)
	} else if c.Args != "" {
		s += fmt.Sprintf(" arg=%s", c.Args)
	}
	return s
}

// FormatResponse formats a decoded response for display
func FormatResponse(r *Response) string {
	if r.Data == "" {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s %q", r.Kind, r.Data)
}

// FormatFrame classifies a raw bus frame as a command or a response and
// formats it with a timestamp. Frames that are neither are shown as hex.
func FormatFrame(ts time.Time, frame []byte) string {
	stamp := ts.Format("15:04:05.000")
	if len(frame) == 0 {
		return fmt.Sprintf("[%s] (empty frame)\n", stamp)
	}

	if frame[0] >= 'A' && frame[0] <= 'Z' {
		cmd, err := ParseCommand(frame)
		if err != nil {
			return fmt.Sprintf("[%s] >> ERROR %v\n", stamp, err)
		}
		return fmt.Sprintf("[%s] >> %s  (%s)\n", stamp, FormatCommand(cmd), cmd.Body())
	}

	resp, err := Decode(frame)
	if err != nil {
		return fmt.Sprintf("[%s] ?? % X\n", stamp, frame)
	}
	return fmt.Sprintf("[%s] << %s\n", stamp, FormatResponse(resp))
}

// FormatStates lays out 24 channel states in two columns, channels 1-12
// on the left and 13-24 on the right.
func FormatStates(states [ChannelsPerModule]ChannelState) string {
	var b strings.Builder
	half := ChannelsPerModule / 2
	for i := 0; i < half; i++ {
		fmt.Fprintf(&b, "Channel %2d: %-18s Channel %2d: %s\n",
			i+1, states[i], i+1+half, states[i+half])
	}
	return b.String()
}
