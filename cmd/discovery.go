// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find which module ids answer on the bus",
	Long: `Send a version query to every module id from 0 to 7 and list the ones
that answer.

Unlike probe, discovery does not need --modules to match the bus: only the
version query is sent to unconfigured ids, and it switches no relays.

Examples:
  # Scan a local adapter
  fiuctl discovery --port /dev/ttyUSB0

  # Scan through a WebSocket bridge
  fiuctl discovery --url ws://bench.local/rs485

Exit codes:
  0 - Discovery successful (at least one module found)
  1 - Discovery failed (no module answered)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
}

type discoveredModule struct {
	id      int
	version string
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	s, err := openSession(commandContext(cmd))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("fiuctl - Module Discovery\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Timeout: %v per id\n\n", settings.ResponseTimeout())

	var found []discoveredModule
	for id := fiu.MinModuleID; id <= fiu.MaxModuleID; id++ {
		version, err := s.driver.SoftwareVersion(commandContext(cmd), id)
		if err != nil {
			if !errors.Is(err, fiu.ErrResponseTimeout) {
				fmt.Printf("  Module %d: %v\n", id, err)
			}
			continue
		}
		found = append(found, discoveredModule{id: id, version: version})
		fmt.Printf("  Module %d: %s\n", id, version)
	}

	_ = s.Close()

	fmt.Println()
	if len(found) == 0 {
		fmt.Fprintf(os.Stderr, "FAILED: no module answered\n")
		os.Exit(1)
	}

	ids := make([]int, len(found))
	for i, m := range found {
		ids[i] = m.id
	}
	fmt.Printf("Found %d module(s): %v\n", len(found), ids)
	return nil
}
