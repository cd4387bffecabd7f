// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fiuctl/pkg/driver"
	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

var holdDuration time.Duration

// relayAction applies one channel-addressed relay command
type relayAction func(ctx context.Context, d *driver.Driver, module, channel int) error

func newRelayCmd(use, short string, action relayAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <module> <channel>",
		Short: short,
		Long: short + `.

The command is held until Ctrl+C (or --hold elapses). On exit every channel
of every configured module is returned to open circuit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, channel, err := parseModuleChannel(args)
			if err != nil {
				return err
			}
			return runHeld(cmd, func(ctx context.Context, d *driver.Driver) error {
				if err := action(ctx, d, module, channel); err != nil {
					return err
				}
				state, _ := d.ModuleStates(module)
				fmt.Printf("Module %d channel %d: %s\n", module, channel, state[channel-1])
				return nil
			})
		},
	}
}

func newRelayAllCmd(use, short string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeld(cmd, func(ctx context.Context, d *driver.Driver) error {
				if err := d.SetOpenCircuitFaultAll(ctx, enable); err != nil {
					return err
				}
				state := fiu.StateConnected
				if enable {
					state = fiu.StateDisconnected
				}
				fmt.Printf("Modules %v: all channels %s\n", d.Modules(), state)
				return nil
			})
		},
	}
}

func init() {
	relayCmds := []*cobra.Command{
		newRelayCmd("open", "Open circuit one channel",
			func(ctx context.Context, d *driver.Driver, m, ch int) error {
				return d.SetOpenCircuitFault(ctx, m, ch, true)
			}),
		newRelayCmd("connect", "Reconnect one channel",
			func(ctx context.Context, d *driver.Driver, m, ch int) error {
				return d.SetOpenCircuitFault(ctx, m, ch, false)
			}),
		newRelayCmd("short", "Short one channel to ground",
			func(ctx context.Context, d *driver.Driver, m, ch int) error {
				return d.SetShortCircuitFault(ctx, m, ch)
			}),
		newRelayCmd("volt", "Route one channel to the DMM voltage input",
			func(ctx context.Context, d *driver.Driver, m, ch int) error {
				return d.SetVoltageMeasurement(ctx, m, ch)
			}),
		newRelayCmd("curr", "Route one channel through the DMM current bypass",
			func(ctx context.Context, d *driver.Driver, m, ch int) error {
				return d.SetCurrentMeasurement(ctx, m, ch)
			}),
		newRelayAllCmd("open-all", "Open circuit every channel of every module", true),
		newRelayAllCmd("connect-all", "Reconnect every channel of every module", false),
	}

	for _, c := range relayCmds {
		c.Flags().DurationVar(&holdDuration, "hold", 0, "Release after this long instead of waiting for Ctrl+C")
		rootCmd.AddCommand(c)
	}
}

// runHeld opens a session, applies fn, then waits for a signal or the hold
// duration before closing the session.
func runHeld(cmd *cobra.Command, fn func(ctx context.Context, d *driver.Driver) error) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}

	if err := fn(ctx, s.driver); err != nil {
		return errors.Join(err, s.Close())
	}

	waitHold(ctx, holdDuration)
	fmt.Println("Releasing: all channels open circuit")
	return s.Close()
}

// waitHold blocks until ctx is done or, when hold is positive, hold elapses
func waitHold(ctx context.Context, hold time.Duration) {
	if hold <= 0 {
		fmt.Println("Holding. Press Ctrl+C to release")
		<-ctx.Done()
		return
	}

	fmt.Printf("Holding for %v\n", hold)
	timer := time.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func parseModuleChannel(args []string) (int, int, error) {
	module, err := parseModule(args[0])
	if err != nil {
		return 0, 0, err
	}
	channel, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid channel %q", args[1])
	}
	return module, channel, nil
}

func parseModule(arg string) (int, error) {
	module, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid module %q", arg)
	}
	return module, nil
}
