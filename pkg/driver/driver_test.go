// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
	"github.com/Thermoquad/fiuctl/pkg/simulator"
)

func newTestDriver(t *testing.T, modules []int, opts ...Option) (*Driver, *simulator.Bus) {
	t.Helper()
	bus := simulator.NewBus(modules...)
	opts = append([]Option{WithResponseTimeout(50 * time.Millisecond), WithPollInterval(time.Millisecond)}, opts...)
	d, err := New(context.Background(), modules, bus, opts...)
	require.NoError(t, err)
	return d, bus
}

func requireCode(t *testing.T, err error, code fiu.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, fiu.CodeOf(err), "error: %v", err)
}

func TestNew_SeedsDisconnected(t *testing.T) {
	d, bus := newTestDriver(t, []int{2, 0, 2})

	assert.Equal(t, []int{0, 2}, d.Modules())
	assert.True(t, bus.IsOpen())
	for _, m := range d.Modules() {
		states, err := d.ModuleStates(m)
		require.NoError(t, err)
		for _, s := range states {
			assert.Equal(t, fiu.StateDisconnected, s)
		}
	}
	assert.Empty(t, bus.Frames(), "construction sends nothing")
}

func TestNew_InvalidModules(t *testing.T) {
	for _, modules := range [][]int{nil, {8}, {0, -1}} {
		_, err := New(context.Background(), modules, simulator.NewBus(0))
		requireCode(t, err, fiu.CodeInvalidModule)
	}
}

func TestNew_OpenFailure(t *testing.T) {
	bus := simulator.NewBus(0)
	bus.OpenErr = errors.New("no such port")

	_, err := New(context.Background(), []int{0}, bus)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such port")
}

func TestNew_InitialSync(t *testing.T) {
	bus := simulator.NewBus(0)
	d, err := New(context.Background(), []int{0}, bus, WithInitialSync())
	require.NoError(t, err)

	states, _ := d.ModuleStates(0)
	assert.Equal(t, fiu.StateConnected, states[0], "powered-up modules report connected")
	assert.Equal(t, []string{"S0"}, bus.Frames())
}

func TestSetOpenCircuitFault(t *testing.T) {
	d, bus := newTestDriver(t, []int{0})
	ctx := context.Background()

	require.NoError(t, d.SetOpenCircuitFault(ctx, 0, 1, false))
	require.NoError(t, d.SetOpenCircuitFault(ctx, 0, 2, true))

	states, _ := d.ModuleStates(0)
	assert.Equal(t, fiu.StateConnected, states[0])
	assert.Equal(t, fiu.StateDisconnected, states[1])
	assert.Equal(t, []string{"C001", "D002"}, bus.Frames())
}

func TestChannelBoundaries(t *testing.T) {
	d, bus := newTestDriver(t, []int{0})
	ctx := context.Background()

	for _, ch := range []int{0, 25, -1, 99} {
		requireCode(t, d.SetVoltageMeasurement(ctx, 0, ch), fiu.CodeInvalidChannel)
		requireCode(t, d.SetOpenCircuitFault(ctx, 0, ch, true), fiu.CodeInvalidChannel)
		_, err := d.RelayCycleCount(ctx, 0, ch)
		requireCode(t, err, fiu.CodeInvalidChannel)
	}
	assert.Empty(t, bus.Frames(), "validation failures never reach the bus")

	require.NoError(t, d.SetOpenCircuitFault(ctx, 0, 1, false))
	require.NoError(t, d.SetOpenCircuitFault(ctx, 0, 24, false))
	assert.Equal(t, []string{"C001", "C024"}, bus.Frames())
}

func TestInvalidModule(t *testing.T) {
	d, bus := newTestDriver(t, []int{0, 2})
	ctx := context.Background()

	requireCode(t, d.SetShortCircuitFault(ctx, 1, 1), fiu.CodeInvalidModule)
	_, err := d.RelayStates(ctx, 3)
	requireCode(t, err, fiu.CodeInvalidModule)
	_, err = d.InterlockState(ctx, 7)
	requireCode(t, err, fiu.CodeInvalidModule)
	requireCode(t, d.InterlockOverride(ctx, 1, true), fiu.CodeInvalidModule)
	_, err = d.ModuleStates(5)
	requireCode(t, err, fiu.CodeInvalidModule)

	assert.Empty(t, bus.Frames())
}

func TestHazardExclusivity_PerModule(t *testing.T) {
	d, bus := newTestDriver(t, []int{0, 2})
	ctx := context.Background()

	require.NoError(t, d.SetVoltageMeasurement(ctx, 0, 3))

	err := d.SetCurrentMeasurement(ctx, 0, 5)
	requireCode(t, err, fiu.CodeUnsafeTransition)
	assert.ErrorIs(t, err, fiu.ErrUnsafeTransition)

	require.NoError(t, d.SetCurrentMeasurement(ctx, 2, 5))

	assert.Equal(t, []string{"V003", "I205"}, bus.Frames(), "unsafe request never leaves the driver")

	s0, _ := d.ModuleStates(0)
	s2, _ := d.ModuleStates(2)
	assert.Equal(t, fiu.StateVoltMeasurement, s0[2])
	assert.Equal(t, fiu.StateDisconnected, s0[4])
	assert.Equal(t, fiu.StateCurrMeasurement, s2[4])
}

func TestHazardExclusivity_SameChannelRetarget(t *testing.T) {
	d, _ := newTestDriver(t, []int{0})
	ctx := context.Background()

	require.NoError(t, d.SetVoltageMeasurement(ctx, 0, 3))
	require.NoError(t, d.SetShortCircuitFault(ctx, 0, 3))

	states, _ := d.ModuleStates(0)
	assert.Equal(t, fiu.StateFaultToGround, states[2])
}

func TestHazardExclusivity_Shared(t *testing.T) {
	d, bus := newTestDriver(t, []int{0, 2}, WithSharedDMM(true))
	ctx := context.Background()
	assert.True(t, d.SharedDMM())

	require.NoError(t, d.SetVoltageMeasurement(ctx, 0, 3))
	requireCode(t, d.SetCurrentMeasurement(ctx, 2, 5), fiu.CodeUnsafeTransition)
	requireCode(t, d.SetShortCircuitFault(ctx, 0, 3), fiu.CodeUnsafeTransition)

	// Safe targets are always allowed, and clear the way
	require.NoError(t, d.SetOpenCircuitFault(ctx, 0, 3, false))
	require.NoError(t, d.SetCurrentMeasurement(ctx, 2, 5))

	d.Configure(false)
	assert.False(t, d.SharedDMM())
	require.NoError(t, d.SetVoltageMeasurement(ctx, 0, 1))

	assert.Equal(t, []string{"V003", "C003", "I205", "V001"}, bus.Frames())
}

func TestSetOpenCircuitFaultAll(t *testing.T) {
	d, bus := newTestDriver(t, []int{1, 0})
	ctx := context.Background()

	require.NoError(t, d.SetVoltageMeasurement(ctx, 0, 4))
	bus.ResetFrames()

	require.NoError(t, d.SetOpenCircuitFaultAll(ctx, true))
	assert.Equal(t, []string{"D099", "D199"}, bus.Frames())

	for _, m := range []int{0, 1} {
		states, _ := d.ModuleStates(m)
		for ch, s := range states {
			assert.Equal(t, fiu.StateDisconnected, s, "module %d channel %d", m, ch+1)
		}
		dev, _ := bus.ModuleStates(m)
		assert.Equal(t, states, dev)
	}

	require.NoError(t, d.SetOpenCircuitFaultAll(ctx, false))
	states, _ := d.ModuleStates(1)
	assert.Equal(t, fiu.StateConnected, states[23])
}

func TestSetOpenCircuitFaultAll_StopsAtFirstFailure(t *testing.T) {
	d, bus := newTestDriver(t, []int{0, 1, 2})
	ctx := context.Background()

	bus.Inject(simulator.FaultNone, simulator.FaultReject)
	err := d.SetOpenCircuitFaultAll(ctx, false)
	requireCode(t, err, fiu.CodeDeviceRejected)

	assert.Equal(t, []string{"C099", "C199"}, bus.Frames())
	s0, _ := d.ModuleStates(0)
	s1, _ := d.ModuleStates(1)
	s2, _ := d.ModuleStates(2)
	assert.Equal(t, fiu.StateConnected, s0[0], "acknowledged module committed")
	assert.Equal(t, fiu.StateDisconnected, s1[0], "rejected module unchanged")
	assert.Equal(t, fiu.StateDisconnected, s2[0], "later module untouched")
}

func TestDeviceErrors_LeaveModelUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		fault simulator.Fault
		code  fiu.Code
	}{
		{"reject", simulator.FaultReject, fiu.CodeDeviceRejected},
		{"conflict", simulator.FaultConflict, fiu.CodeConflictingRequest},
		{"corrupt", simulator.FaultCorrupt, fiu.CodeMalformedResponse},
		{"truncate", simulator.FaultTruncate, fiu.CodeMalformedResponse},
		{"silent", simulator.FaultSilent, fiu.CodeResponseTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, bus := newTestDriver(t, []int{0})
			bus.Inject(tt.fault)

			err := d.SetShortCircuitFault(context.Background(), 0, 7)
			requireCode(t, err, tt.code)

			var fe *fiu.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "set_short_circuit_fault", fe.Op)
			assert.Equal(t, 0, fe.Module)
			assert.Equal(t, 7, fe.Channel)
			assert.Equal(t, "F007", fe.Command)

			states, _ := d.ModuleStates(0)
			assert.Equal(t, fiu.StateDisconnected, states[6])
			assert.Empty(t, d.HazardousChannels())
		})
	}
}

func TestTimeout_ThenSyncRecovers(t *testing.T) {
	d, bus := newTestDriver(t, []int{0})
	ctx := context.Background()

	bus.Inject(simulator.FaultSilent)
	start := time.Now()
	err := d.SetVoltageMeasurement(ctx, 0, 2)
	assert.ErrorIs(t, err, fiu.ErrResponseTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// The device acted on the frame even though it never answered
	bus.SetChannel(0, 2, fiu.StateVoltMeasurement)

	states, err := d.SyncStates(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, fiu.StateVoltMeasurement, states[1])

	model, _ := d.ModuleStates(0)
	assert.Equal(t, states, model)
	requireCode(t, d.SetCurrentMeasurement(ctx, 0, 9), fiu.CodeUnsafeTransition)
}

func TestStaleBytesDrained(t *testing.T) {
	d, bus := newTestDriver(t, []int{0})

	bus.PushReply(fiu.EncodeResponse(fiu.ResponseDeviceError, "late"))
	require.NoError(t, d.SetOpenCircuitFault(context.Background(), 0, 1, false))

	assert.Positive(t, d.Stats().StaleBytes)
}

func TestContextCancelledBeforeWrite(t *testing.T) {
	d, bus := newTestDriver(t, []int{0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.SetVoltageMeasurement(ctx, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, bus.Frames())
}

func TestQueries(t *testing.T) {
	d, bus := newTestDriver(t, []int{3})
	ctx := context.Background()
	bus.SetVersion("V1.04")

	version, err := d.SoftwareVersion(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "V1.04", version)

	active, err := d.InterlockState(ctx, 3)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, d.InterlockOverride(ctx, 3, true))
	active, err = d.InterlockState(ctx, 3)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, d.SetShortCircuitFault(ctx, 3, 10))
	counts, err := d.RelayCycleCount(ctx, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counts.K2)

	states, err := d.RelayStates(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, fiu.StateFaultToGround, states[9])
	assert.Equal(t, fiu.StateConnected, states[0], "query does not touch the model")
	model, _ := d.ModuleStates(3)
	assert.Equal(t, fiu.StateDisconnected, model[0])

	assert.Equal(t, []string{"H3", "L3", "O31", "L3", "F310", "N310", "S3"}, bus.Frames())
}

func TestSoftwareVersion_SkipsModuleCheck(t *testing.T) {
	d, bus := newTestDriver(t, []int{0})

	// Module 6 is not configured and not attached: the frame goes out and
	// nobody answers.
	_, err := d.SoftwareVersion(context.Background(), 6)
	requireCode(t, err, fiu.CodeResponseTimeout)
	assert.Equal(t, []string{"H6"}, bus.Frames())
}

func TestClose(t *testing.T) {
	d, bus := newTestDriver(t, []int{0, 1})
	ctx := context.Background()

	require.NoError(t, d.SetShortCircuitFault(ctx, 0, 5))
	require.NoError(t, d.SetOpenCircuitFault(ctx, 1, 2, false))
	bus.ResetFrames()

	require.NoError(t, d.Close())
	assert.Equal(t, []string{"D099", "D199"}, bus.Frames())
	assert.False(t, bus.IsOpen())

	for _, m := range []int{0, 1} {
		dev, _ := bus.ModuleStates(m)
		for _, s := range dev {
			assert.Equal(t, fiu.StateDisconnected, s)
		}
	}

	assert.ErrorIs(t, d.SetOpenCircuitFault(ctx, 0, 1, true), ErrClosed)
	assert.NoError(t, d.Close(), "second close is a no-op")
}

func TestClose_ReportsFailuresAndStillCloses(t *testing.T) {
	d, bus := newTestDriver(t, []int{0, 1})
	bus.Inject(simulator.FaultReject)

	err := d.Close()
	requireCode(t, err, fiu.CodeDeviceRejected)
	assert.Equal(t, []string{"D099", "D199"}, bus.Frames())
	assert.False(t, bus.IsOpen())
}

func TestObserver(t *testing.T) {
	var mu sync.Mutex
	var changes []Change
	d, bus := newTestDriver(t, []int{0, 1}, WithObserver(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	}))
	ctx := context.Background()

	require.NoError(t, d.SetVoltageMeasurement(ctx, 1, 8))
	bus.Inject(simulator.FaultReject)
	require.Error(t, d.SetOpenCircuitFault(ctx, 0, 1, false))
	require.NoError(t, d.SetOpenCircuitFaultAll(ctx, true))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)
	assert.Equal(t, Change{Module: 1, Channel: 8, State: fiu.StateVoltMeasurement}, withoutTime(changes[0]))
	assert.Equal(t, Change{Module: 0, State: fiu.StateDisconnected}, withoutTime(changes[1]))
	assert.Equal(t, Change{Module: 1, State: fiu.StateDisconnected}, withoutTime(changes[2]))
}

func withoutTime(c Change) Change {
	c.Time = time.Time{}
	return c
}

func TestStats(t *testing.T) {
	d, bus := newTestDriver(t, []int{0})
	ctx := context.Background()

	require.NoError(t, d.SetVoltageMeasurement(ctx, 0, 1))
	requireCode(t, d.SetVoltageMeasurement(ctx, 0, 2), fiu.CodeUnsafeTransition)
	requireCode(t, d.SetVoltageMeasurement(ctx, 0, 30), fiu.CodeInvalidChannel)
	bus.Inject(simulator.FaultConflict)
	require.Error(t, d.SetOpenCircuitFault(ctx, 0, 1, false))

	s := d.Stats()
	assert.Equal(t, uint64(2), s.Transactions)
	assert.Equal(t, uint64(1), s.Acknowledged)
	assert.Equal(t, uint64(1), s.Conflicts)
	assert.Equal(t, uint64(1), s.UnsafeRejections)
	assert.Equal(t, uint64(1), s.ValidationErrors)
	assert.Contains(t, s.String(), "Transactions:")
}

// Concurrent callers must never interleave frames on the bus. A torn frame
// would fail its checksum in the simulator and be dropped.
func TestConcurrentCallers(t *testing.T) {
	d, bus := newTestDriver(t, []int{0, 1})
	ctx := context.Background()

	const workers = 8
	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			module, channel := w%2, w+1
			for i := 0; i < rounds; i++ {
				if err := d.SetOpenCircuitFault(ctx, module, channel, i%2 == 0); err != nil {
					errs <- fmt.Errorf("worker %d round %d: %w", w, i, err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Len(t, bus.Frames(), workers*rounds)
	for _, m := range []int{0, 1} {
		model, _ := d.ModuleStates(m)
		dev, _ := bus.ModuleStates(m)
		for w := m; w < workers; w += 2 {
			assert.Equal(t, dev[w], model[w], "module %d channel %d", m, w+1)
		}
	}
}

// Concurrent hazardous requests on one module: exactly one may win
func TestConcurrentHazardousRequests(t *testing.T) {
	d, _ := newTestDriver(t, []int{0})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for ch := 1; ch <= fiu.MaxChannel; ch++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			if err := d.SetShortCircuitFault(ctx, 0, ch); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, fiu.ErrUnsafeTransition) {
				t.Errorf("channel %d: %v", ch, err)
			}
		}(ch)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Len(t, d.HazardousChannels(), 1)
}

type failingTransport struct {
	writeErr error
	readErr  error
}

func (f *failingTransport) Open() error { return nil }

func (f *failingTransport) Close() error { return nil }

func (f *failingTransport) Write(p []byte) (int, error) { return len(p), f.writeErr }

func (f *failingTransport) ReadAvailable() ([]byte, error) { return nil, f.readErr }

func TestTransportErrors(t *testing.T) {
	ctx := context.Background()
	errWire := errors.New("wire cut")

	d, err := New(ctx, []int{0}, &failingTransport{writeErr: errWire})
	require.NoError(t, err)
	err = d.SetOpenCircuitFault(ctx, 0, 1, true)
	assert.ErrorIs(t, err, errWire)
	assert.Equal(t, fiu.Code(0), fiu.CodeOf(err), "transport failures carry no device code")

	d, err = New(ctx, []int{0}, &failingTransport{readErr: errWire})
	require.NoError(t, err)
	err = d.SetOpenCircuitFault(ctx, 0, 1, true)
	assert.ErrorIs(t, err, errWire)

	assert.Equal(t, uint64(1), d.Stats().TransportErrors)
	states, _ := d.ModuleStates(0)
	assert.Equal(t, fiu.StateDisconnected, states[0])
}
