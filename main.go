// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// fiuctl - RS-485 Fault Insertion Unit control tool
//
// A CLI for switching FIU relay channels, reading module status and
// watching bus traffic, over a local serial adapter or a WebSocket bridge.

package main

import (
	"os"

	"github.com/Thermoquad/fiuctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
