// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"fmt"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

// SetOpenCircuitFault opens (enable) or reconnects (disable) one channel
func (d *Driver) SetOpenCircuitFault(ctx context.Context, module, channel int, enable bool) error {
	return d.setChannel(ctx, "set_open_circuit_fault", module, channel, func() fiu.Command {
		return fiu.OpenCircuitCommand(module, channel, enable)
	})
}

// SetShortCircuitFault shorts one channel to ground
func (d *Driver) SetShortCircuitFault(ctx context.Context, module, channel int) error {
	return d.setChannel(ctx, "set_short_circuit_fault", module, channel, func() fiu.Command {
		return fiu.ShortCircuitCommand(module, channel)
	})
}

// SetVoltageMeasurement routes one channel to the DMM voltage input
func (d *Driver) SetVoltageMeasurement(ctx context.Context, module, channel int) error {
	return d.setChannel(ctx, "set_voltage_measurement", module, channel, func() fiu.Command {
		return fiu.VoltageMeasurementCommand(module, channel)
	})
}

// SetCurrentMeasurement routes one channel through the DMM current bypass
func (d *Driver) SetCurrentMeasurement(ctx context.Context, module, channel int) error {
	return d.setChannel(ctx, "set_current_measurement", module, channel, func() fiu.Command {
		return fiu.CurrentMeasurementCommand(module, channel)
	})
}

// setChannel runs the validate, check, transact, commit sequence shared by
// every channel-addressed relay command.
func (d *Driver) setChannel(ctx context.Context, op string, module, channel int, build func() fiu.Command) error {
	return d.run(func() error {
		if err := d.checkChannel(op, module, channel); err != nil {
			return err
		}

		cmd := build()
		target, _ := cmd.TargetState()
		if err := d.checkSafety(op, module, channel, target); err != nil {
			return err
		}

		if _, err := d.transact(ctx, op, module, channel, cmd); err != nil {
			return err
		}
		d.commitChannel(module, channel, target)
		return nil
	})
}

func (d *Driver) checkSafety(op string, module, channel int, target fiu.ChannelState) error {
	var ok bool
	if d.sharedDMM {
		ok = d.registry.CheckSharedTransition(target)
	} else {
		ok = d.registry.CheckTransition(module, channel, target)
	}
	if ok {
		return nil
	}

	d.stats.UnsafeRejections++
	msg := fmt.Sprintf("%s requested", target)
	if held := d.registry.HazardousChannels(); len(held) > 0 {
		msg = fmt.Sprintf("%s requested while module %d channel %d is %s",
			target, held[0].Module, held[0].Channel, held[0].State)
	}
	d.logger.Warn("unsafe transition refused", "op", op, "module", module, "channel", channel,
		"target", target.String(), "shared_dmm", d.sharedDMM)
	return &fiu.Error{Code: fiu.CodeUnsafeTransition, Op: op, Module: module, Channel: channel, Message: msg}
}

// SetOpenCircuitFaultAll opens (enable) or reconnects (disable) every channel
// of every module, one frame per module in ascending order. Each module is
// committed as its frame is acknowledged; the first failure stops the loop.
func (d *Driver) SetOpenCircuitFaultAll(ctx context.Context, enable bool) error {
	const op = "set_open_circuit_fault_all"
	return d.run(func() error {
		if d.closed {
			return ErrClosed
		}
		for _, m := range d.modules {
			cmd := fiu.OpenCircuitAllCommand(m, enable)
			target, _ := cmd.TargetState()
			if _, err := d.transact(ctx, op, m, -1, cmd); err != nil {
				return err
			}
			d.commitModule(m, target)
		}
		return nil
	})
}

// RelayStates reads the relay states of a module from the device. The
// driver's model is not changed; see SyncStates.
func (d *Driver) RelayStates(ctx context.Context, module int) ([fiu.ChannelsPerModule]fiu.ChannelState, error) {
	var states [fiu.ChannelsPerModule]fiu.ChannelState
	err := d.run(func() error {
		var err error
		states, err = d.readStates(ctx, "relay_states", module)
		return err
	})
	return states, err
}

// SyncStates reads the relay states of a module and replaces the driver's
// model with them. Use it to recover after a timeout left the device state
// unknown.
func (d *Driver) SyncStates(ctx context.Context, module int) ([fiu.ChannelsPerModule]fiu.ChannelState, error) {
	const op = "sync_states"
	var states [fiu.ChannelsPerModule]fiu.ChannelState
	err := d.run(func() error {
		var err error
		states, err = d.readStates(ctx, op, module)
		if err != nil {
			return err
		}

		before, _ := d.registry.ModuleStates(module)
		if err := d.registry.SetModuleStates(module, states); err != nil {
			return err
		}
		for i := range states {
			if before[i] != states[i] {
				d.commitChannel(module, i+1, states[i])
			}
		}
		if held := d.registry.HazardousChannels(); len(held) > 1 {
			d.logger.Warn("device reports more than one hazardous channel", "module", module, "count", len(held))
		}
		return nil
	})
	return states, err
}

func (d *Driver) readStates(ctx context.Context, op string, module int) ([fiu.ChannelsPerModule]fiu.ChannelState, error) {
	var states [fiu.ChannelsPerModule]fiu.ChannelState
	if err := d.checkModule(op, module); err != nil {
		return states, err
	}
	cmd := fiu.StatusCommand(module)
	resp, err := d.transact(ctx, op, module, -1, cmd)
	if err != nil {
		return states, err
	}
	states, err = fiu.ParseRelayStates(resp.Data)
	if fe := asFIUError(err); fe != nil {
		annotate(fe, op, module, -1, cmd)
	}
	return states, err
}

// RelayCycleCount reads the five relay contact counters of a channel
func (d *Driver) RelayCycleCount(ctx context.Context, module, channel int) (fiu.RelayCounts, error) {
	const op = "relay_cycle_count"
	var counts fiu.RelayCounts
	err := d.run(func() error {
		if err := d.checkChannel(op, module, channel); err != nil {
			return err
		}
		cmd := fiu.CycleCountCommand(module, channel)
		resp, err := d.transact(ctx, op, module, channel, cmd)
		if err != nil {
			return err
		}
		counts, err = fiu.ParseRelayCounts(resp.Data)
		if fe := asFIUError(err); fe != nil {
			annotate(fe, op, module, channel, cmd)
		}
		return err
	})
	return counts, err
}

// SoftwareVersion reads the firmware version of a module. The module id is
// not checked against the configured set, so any module on the bus can be
// probed.
func (d *Driver) SoftwareVersion(ctx context.Context, module int) (string, error) {
	const op = "software_version"
	var version string
	err := d.run(func() error {
		if d.closed {
			return ErrClosed
		}
		resp, err := d.transact(ctx, op, module, -1, fiu.VersionCommand(module))
		if err != nil {
			return err
		}
		version = resp.Data
		return nil
	})
	return version, err
}

// InterlockState reports whether the module's 24V interlock input is active
func (d *Driver) InterlockState(ctx context.Context, module int) (bool, error) {
	const op = "interlock_state"
	var active bool
	err := d.run(func() error {
		if err := d.checkModule(op, module); err != nil {
			return err
		}
		resp, err := d.transact(ctx, op, module, -1, fiu.InterlockStateCommand(module))
		if err != nil {
			return err
		}
		active = fiu.ParseInterlock(resp.Data)
		return nil
	})
	return active, err
}

// InterlockOverride forces the module's interlock input on or releases it
func (d *Driver) InterlockOverride(ctx context.Context, module int, enable bool) error {
	const op = "interlock_override"
	return d.run(func() error {
		if err := d.checkModule(op, module); err != nil {
			return err
		}
		_, err := d.transact(ctx, op, module, -1, fiu.InterlockOverrideCommand(module, enable))
		if err == nil {
			d.logger.Info("interlock override", "module", module, "enabled", enable)
		}
		return err
	})
}
