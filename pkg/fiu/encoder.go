// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

import (
	"bytes"
	"fmt"
	"strconv"
)

// Command is an outbound FIU command before framing
type Command struct {
	Mnemonic byte
	Module   int
	Args     string
}

// Body returns the command string the checksum is computed over
func (c Command) Body() string {
	return string(c.Mnemonic) + strconv.Itoa(c.Module) + c.Args
}

// String returns the command body, for logs and error reports
func (c Command) String() string {
	return c.Body()
}

// Channel returns the channel addressed by the command, or -1 when the
// arguments do not start with a two-digit channel field.
func (c Command) Channel() int {
	switch c.Mnemonic {
	case MnemonicDisconnect, MnemonicConnect, MnemonicFaultToGnd,
		MnemonicVoltMeasure, MnemonicCurrMeasure, MnemonicCycleCount:
	default:
		return -1
	}
	if len(c.Args) < 2 {
		return -1
	}
	ch, err := strconv.Atoi(c.Args[:2])
	if err != nil {
		return -1
	}
	return ch
}

// Encode builds the wire frame for c: body, checksum, carriage return
func Encode(c Command) []byte {
	body := c.Body()
	sum := Checksum([]byte(body))

	frame := make([]byte, 0, len(body)+len(sum)+1)
	frame = append(frame, body...)
	frame = append(frame, sum...)
	frame = append(frame, Terminator)
	return frame
}

// ParseCommand decodes an outbound frame back into a Command and verifies
// its checksum. The module id is taken as the single digit after the
// mnemonic, which covers every id a bus can address.
func ParseCommand(frame []byte) (Command, error) {
	frame = bytes.TrimRight(frame, "\r\n")
	if len(frame) < 3 {
		return Command{}, fmt.Errorf("fiu: command frame too short: %q", frame)
	}

	mnemonic := frame[0]
	if mnemonic < 'A' || mnemonic > 'Z' {
		return Command{}, fmt.Errorf("fiu: invalid mnemonic %q", mnemonic)
	}
	if frame[1] < '0' || frame[1] > '9' {
		return Command{}, fmt.Errorf("fiu: invalid module id %q", frame[1])
	}

	// The checksum is one or two hex digits; try the two-digit split first.
	for _, width := range []int{2, 1} {
		if len(frame)-width < 2 {
			continue
		}
		body := frame[:len(frame)-width]
		if Checksum(body) == string(frame[len(frame)-width:]) {
			return Command{
				Mnemonic: mnemonic,
				Module:   int(frame[1] - '0'),
				Args:     string(body[2:]),
			}, nil
		}
	}

	return Command{}, fmt.Errorf("fiu: checksum mismatch in command frame %q", frame)
}
