// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fiuctl/pkg/driver"
	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

var stateCmd = &cobra.Command{
	Use:   "state [module...]",
	Short: "Read the relay state of every channel",
	Long: `Query the status of each module and print its 24 channels.

With no arguments every configured module is read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, func(ctx context.Context, d *driver.Driver) error {
			modules, err := modulesFromArgs(d, args)
			if err != nil {
				return err
			}

			for i, m := range modules {
				states, err := d.SyncStates(ctx, m)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Println()
				}
				fmt.Printf("Module %d\n", m)
				fmt.Print(fiu.FormatStates(states))
			}
			return nil
		})
	},
}

var countsCmd = &cobra.Command{
	Use:   "counts <module> <channel>",
	Short: "Read the relay cycle counters of a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		module, channel, err := parseModuleChannel(args)
		if err != nil {
			return err
		}
		return runOnce(cmd, func(ctx context.Context, d *driver.Driver) error {
			counts, err := d.RelayCycleCount(ctx, module, channel)
			if err != nil {
				return err
			}
			fmt.Printf("Module %d channel %d relay cycles\n", module, channel)
			fmt.Printf("  K1 (open circuit):  %d\n", counts.K1)
			fmt.Printf("  K2 (short to gnd):  %d\n", counts.K2)
			fmt.Printf("  K3 (voltage bus):   %d\n", counts.K3)
			fmt.Printf("  K4 (current bus):   %d\n", counts.K4)
			fmt.Printf("  K5 (connect):       %d\n", counts.K5)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version [module...]",
	Short: "Read the firmware version of each module",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, func(ctx context.Context, d *driver.Driver) error {
			modules, err := modulesFromArgs(d, args)
			if err != nil {
				return err
			}
			for _, m := range modules {
				v, err := d.SoftwareVersion(ctx, m)
				if err != nil {
					return err
				}
				fmt.Printf("Module %d: %s\n", m, v)
			}
			return nil
		})
	},
}

var interlockCmd = &cobra.Command{
	Use:   "interlock [module...]",
	Short: "Read the 24V interlock input of each module",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, func(ctx context.Context, d *driver.Driver) error {
			modules, err := modulesFromArgs(d, args)
			if err != nil {
				return err
			}
			for _, m := range modules {
				active, err := d.InterlockState(ctx, m)
				if err != nil {
					return err
				}
				status := "inactive"
				if active {
					status = "active"
				}
				fmt.Printf("Module %d: interlock %s\n", m, status)
			}
			return nil
		})
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override <module> <on|off>",
	Short: "Force the interlock input of a module on, or release it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		module, err := parseModule(args[0])
		if err != nil {
			return err
		}
		enable, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		return runOnce(cmd, func(ctx context.Context, d *driver.Driver) error {
			if err := d.InterlockOverride(ctx, module, enable); err != nil {
				return err
			}
			fmt.Printf("Module %d: interlock override %s\n", module, args[1])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(interlockCmd)
	rootCmd.AddCommand(overrideCmd)
}

// runOnce opens a session, runs fn and closes the session
func runOnce(cmd *cobra.Command, fn func(ctx context.Context, d *driver.Driver) error) error {
	ctx := commandContext(cmd)
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, s.driver), s.Close())
}

func modulesFromArgs(d *driver.Driver, args []string) ([]int, error) {
	if len(args) == 0 {
		return d.Modules(), nil
	}
	modules := make([]int, 0, len(args))
	for _, a := range args {
		m, err := parseModule(a)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func parseOnOff(arg string) (bool, error) {
	switch arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(arg)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", arg)
	}
	return b, nil
}
