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

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the bus by asking every module for its firmware version",
	Long: `Send a version query to each configured module and report which answer.

No relay is switched by the probe itself; closing the session still returns
every answering module to open circuit.

Exit codes:
  0 - Every module answered
  1 - One or more modules did not answer or answered with an error
  2 - Connection error

Useful for checking wiring, termination and module addressing.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	s, err := openSession(commandContext(cmd))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("fiuctl - Bus Probe\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Timeout: %v per module\n\n", settings.ResponseTimeout())

	failed := 0
	for _, m := range s.driver.Modules() {
		version, err := s.driver.SoftwareVersion(commandContext(cmd), m)
		switch {
		case err == nil:
			fmt.Printf("  Module %d: %s\n", m, version)
		case errors.Is(err, fiu.ErrResponseTimeout):
			fmt.Printf("  Module %d: no response\n", m)
			failed++
		default:
			fmt.Printf("  Module %d: %v\n", m, err)
			failed++
		}
	}

	// Absent modules make the release fail too; that is already reported
	_ = s.Close()

	stats := s.driver.Stats()
	fmt.Println()
	fmt.Print(stats.String())

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "FAILED: %d of %d module(s) did not answer\n", failed, len(s.driver.Modules()))
		os.Exit(1)
	}
	fmt.Printf("SUCCESS: all modules answered\n")
	return nil
}
