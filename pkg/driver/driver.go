// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package driver implements the FIU controller: it validates requests,
// enforces the relay safety rules, runs one command/response transaction at a
// time over a shared bus and commits state only when a module acknowledges.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
	"github.com/Thermoquad/fiuctl/pkg/statemgr"
)

// Defaults
const (
	DefaultResponseTimeout = 500 * time.Millisecond
	DefaultPollInterval    = 2 * time.Millisecond
)

// ErrClosed is returned by operations on a closed driver
var ErrClosed = errors.New("driver: closed")

// Transport is the byte link to the bus. ReadAvailable must return promptly
// with whatever bytes have arrived, possibly none.
type Transport interface {
	Open() error
	Close() error
	Write(p []byte) (int, error)
	ReadAvailable() ([]byte, error)
}

// Change describes a committed state change. Channel is 0 when every channel
// of the module changed together.
type Change struct {
	Module  int
	Channel int
	State   fiu.ChannelState
	Time    time.Time
}

// Observer is called after each committed state change, outside the bus lock
type Observer func(Change)

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithResponseTimeout bounds how long a transaction waits for the terminator
func WithResponseTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithPollInterval sets the pause between empty reads while waiting for a reply
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithObserver registers a callback for committed state changes
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// WithSharedDMM starts the driver in shared-DMM mode
func WithSharedDMM(shared bool) Option {
	return func(d *Driver) {
		d.sharedDMM = shared
	}
}

// WithInitialSync reads the relay states of every module from the device
// after opening the transport, instead of assuming all channels are open.
func WithInitialSync() Option {
	return func(d *Driver) {
		d.initialSync = true
	}
}

// Driver controls the FIU modules on one bus. It is safe for concurrent use;
// every operation holds the bus lock from validation to commit.
type Driver struct {
	mu        sync.Mutex
	transport Transport
	registry  *statemgr.Registry
	modules   []int
	sharedDMM bool
	closed    bool
	stats     *Statistics
	pending   []Change

	timeout      time.Duration
	pollInterval time.Duration
	initialSync  bool
	logger       *slog.Logger
	observers    []Observer
}

// New validates the module ids, seeds every channel as Disconnected and opens
// the transport. Module ids are sorted and duplicates dropped.
func New(ctx context.Context, modules []int, t Transport, opts ...Option) (*Driver, error) {
	if len(modules) == 0 {
		return nil, &fiu.Error{Code: fiu.CodeInvalidModule, Op: "new", Module: -1, Channel: -1,
			Message: "no modules configured"}
	}
	for _, m := range modules {
		if !fiu.ValidModule(m) {
			return nil, &fiu.Error{Code: fiu.CodeInvalidModule, Op: "new", Module: m, Channel: -1,
				Message: fmt.Sprintf("module %d outside %d-%d", m, fiu.MinModuleID, fiu.MaxModuleID)}
		}
	}
	if t == nil {
		return nil, errors.New("driver: nil transport")
	}

	ids := slices.Clone(modules)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	d := &Driver{
		transport:    t,
		registry:     statemgr.New(ids),
		modules:      ids,
		stats:        NewStatistics(),
		timeout:      DefaultResponseTimeout,
		pollInterval: DefaultPollInterval,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.registry.SetAllState(ids, fiu.StateDisconnected)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.Open(); err != nil {
		return nil, fmt.Errorf("driver: opening transport: %w", err)
	}
	d.logger.Info("driver opened", "modules", ids, "shared_dmm", d.sharedDMM, "timeout", d.timeout)

	if d.initialSync {
		for _, m := range ids {
			if _, err := d.SyncStates(ctx, m); err != nil {
				_ = t.Close()
				return nil, fmt.Errorf("driver: initial sync: %w", err)
			}
		}
	}
	return d, nil
}

// Modules returns the configured module ids, ascending
func (d *Driver) Modules() []int {
	return slices.Clone(d.modules)
}

// Configure switches shared-DMM mode. In shared mode at most one channel on
// the whole bus may be hazardous; otherwise one per module.
func (d *Driver) Configure(sharedDMM bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sharedDMM != sharedDMM {
		d.logger.Info("shared DMM mode changed", "shared_dmm", sharedDMM)
	}
	d.sharedDMM = sharedDMM
}

// SharedDMM reports whether shared-DMM mode is on
func (d *Driver) SharedDMM() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sharedDMM
}

// ModuleStates returns the driver's model of a module's channels
func (d *Driver) ModuleStates(module int) ([fiu.ChannelsPerModule]fiu.ChannelState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	states, ok := d.registry.ModuleStates(module)
	if !ok {
		return states, d.invalidModule("module_states", module)
	}
	return states, nil
}

// HazardousChannels lists the channels the model holds in a hazardous state
func (d *Driver) HazardousChannels() []statemgr.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.HazardousChannels()
}

// Stats returns a snapshot of the transaction statistics
func (d *Driver) Stats() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.CalculateRates()
	return *d.stats
}

// Close returns every channel of every module to Disconnected and then closes
// the transport. Failures are joined; the transport is closed regardless.
func (d *Driver) Close() error {
	var errs []error
	err := d.run(func() error {
		if d.closed {
			return nil
		}
		for _, m := range d.modules {
			cmd := fiu.OpenCircuitAllCommand(m, true)
			if _, err := d.transact(context.Background(), "close", m, -1, cmd); err != nil {
				errs = append(errs, err)
				continue
			}
			d.commitModule(m, fiu.StateDisconnected)
		}
		if err := d.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("driver: closing transport: %w", err))
		}
		d.closed = true
		d.logger.Info("driver closed", "errors", len(errs))
		return errors.Join(errs...)
	})
	return err
}

// run executes fn under the bus lock and notifies observers of the changes it
// committed once the lock is released.
func (d *Driver) run(fn func() error) error {
	d.mu.Lock()
	err := fn()
	changes := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, c := range changes {
		for _, o := range d.observers {
			o(c)
		}
	}
	return err
}

func (d *Driver) commitChannel(module, channel int, state fiu.ChannelState) {
	// Module and channel were validated before the transaction
	_ = d.registry.SetChannelState(module, channel, state)
	d.pending = append(d.pending, Change{Module: module, Channel: channel, State: state, Time: time.Now()})
}

func (d *Driver) commitModule(module int, state fiu.ChannelState) {
	d.registry.SetModuleState(module, state)
	d.pending = append(d.pending, Change{Module: module, State: state, Time: time.Now()})
}

func (d *Driver) checkModule(op string, module int) error {
	if d.closed {
		return ErrClosed
	}
	if !slices.Contains(d.modules, module) {
		return d.invalidModule(op, module)
	}
	return nil
}

func (d *Driver) checkChannel(op string, module, channel int) error {
	if err := d.checkModule(op, module); err != nil {
		return err
	}
	if !fiu.ValidChannel(channel) {
		d.stats.ValidationErrors++
		return &fiu.Error{Code: fiu.CodeInvalidChannel, Op: op, Module: module, Channel: channel,
			Message: fmt.Sprintf("channel %d outside %d-%d", channel, fiu.MinChannel, fiu.MaxChannel)}
	}
	return nil
}

func (d *Driver) invalidModule(op string, module int) error {
	d.stats.ValidationErrors++
	return &fiu.Error{Code: fiu.CodeInvalidModule, Op: op, Module: module, Channel: -1,
		Message: fmt.Sprintf("module %d is not configured %v", module, d.modules)}
}
