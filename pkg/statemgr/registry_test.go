// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package statemgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

var hazardous = []fiu.ChannelState{
	fiu.StateVoltMeasurement,
	fiu.StateCurrMeasurement,
	fiu.StateFaultToGround,
}

var safe = []fiu.ChannelState{
	fiu.StateConnected,
	fiu.StateDisconnected,
}

func seeded(modules ...int) *Registry {
	r := New(modules)
	r.SetAllState(modules, fiu.StateDisconnected)
	return r
}

func TestNew_Empty(t *testing.T) {
	r := New([]int{2, 0})

	assert.Equal(t, []int{0, 2}, r.Modules())
	_, ok := r.ModuleStates(0)
	assert.False(t, ok, "modules have no entry until seeded")
}

func TestSetAllState_SeedsEveryChannel(t *testing.T) {
	r := seeded(0, 2)

	for _, m := range []int{0, 2} {
		states, ok := r.ModuleStates(m)
		require.True(t, ok)
		for i, s := range states {
			assert.Equal(t, fiu.StateDisconnected, s, "module %d channel %d", m, i+1)
		}
	}
}

func TestSetChannelState_UnknownModule(t *testing.T) {
	r := seeded(0)

	err := r.SetChannelState(3, 1, fiu.StateConnected)
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestSetChannelState_InvalidChannel(t *testing.T) {
	r := seeded(0)

	assert.ErrorIs(t, r.SetChannelState(0, 0, fiu.StateConnected), ErrInvalidIndex)
	assert.ErrorIs(t, r.SetChannelState(0, 25, fiu.StateConnected), ErrInvalidIndex)
}

func TestSetChannelState_ReplacesOneChannel(t *testing.T) {
	r := seeded(0)

	require.NoError(t, r.SetChannelState(0, 7, fiu.StateConnected))

	states, _ := r.ModuleStates(0)
	for i, s := range states {
		want := fiu.StateDisconnected
		if i == 6 {
			want = fiu.StateConnected
		}
		assert.Equal(t, want, s, "channel %d", i+1)
	}
}

func TestModuleStates_ReturnsCopy(t *testing.T) {
	r := seeded(0)

	states, _ := r.ModuleStates(0)
	states[0] = fiu.StateFaultToGround

	got, err := r.ChannelState(0, 1)
	require.NoError(t, err)
	assert.Equal(t, fiu.StateDisconnected, got)
}

func TestSetModuleStates(t *testing.T) {
	r := seeded(1)

	var states [fiu.ChannelsPerModule]fiu.ChannelState
	states[4] = fiu.StateVoltMeasurement
	require.NoError(t, r.SetModuleStates(1, states))
	assert.ErrorIs(t, r.SetModuleStates(5, states), ErrUnknownModule)

	got, _ := r.ChannelState(1, 5)
	assert.Equal(t, fiu.StateVoltMeasurement, got)
}

// At most one hazardous channel per module: with c1 hazardous, every
// hazardous target on any other channel of the module is refused.
func TestCheckTransition_OneHazardPerModule(t *testing.T) {
	for _, held := range hazardous {
		for c1 := fiu.MinChannel; c1 <= fiu.MaxChannel; c1++ {
			r := seeded(0)
			require.NoError(t, r.SetChannelState(0, c1, held))

			for c2 := fiu.MinChannel; c2 <= fiu.MaxChannel; c2++ {
				for _, next := range hazardous {
					got := r.CheckTransition(0, c2, next)
					if c2 == c1 {
						assert.True(t, got, "same channel %d %s -> %s", c1, held, next)
					} else {
						assert.False(t, got, "c1=%d %s, c2=%d -> %s", c1, held, c2, next)
					}
				}
			}
		}
	}
}

func TestCheckTransition_SafeAlwaysAllowed(t *testing.T) {
	r := seeded(0)
	require.NoError(t, r.SetChannelState(0, 3, fiu.StateVoltMeasurement))
	require.NoError(t, r.SetChannelState(0, 4, fiu.StateFaultToGround))

	for ch := fiu.MinChannel; ch <= fiu.MaxChannel; ch++ {
		for _, next := range safe {
			assert.True(t, r.CheckTransition(0, ch, next))
		}
	}
	for _, next := range safe {
		assert.True(t, r.CheckTransition(6, 1, next), "unknown module, safe target")
		assert.True(t, r.CheckSharedTransition(next))
	}
}

func TestCheckTransition_OtherModuleIgnored(t *testing.T) {
	r := seeded(0, 2)
	require.NoError(t, r.SetChannelState(0, 3, fiu.StateVoltMeasurement))

	assert.False(t, r.CheckTransition(0, 5, fiu.StateCurrMeasurement))
	assert.True(t, r.CheckTransition(2, 5, fiu.StateCurrMeasurement))
}

func TestCheckTransition_UnknownModuleHazardous(t *testing.T) {
	r := seeded(0)
	assert.False(t, r.CheckTransition(4, 1, fiu.StateFaultToGround))
}

func TestCheckSharedTransition(t *testing.T) {
	modules := []int{0, 1, 7}

	r := seeded(modules...)
	for _, next := range hazardous {
		assert.True(t, r.CheckSharedTransition(next), "all disconnected -> %s", next)
	}

	for _, m := range modules {
		for ch := fiu.MinChannel; ch <= fiu.MaxChannel; ch++ {
			r := seeded(modules...)
			require.NoError(t, r.SetChannelState(m, ch, fiu.StateCurrMeasurement))
			for _, next := range hazardous {
				assert.False(t, r.CheckSharedTransition(next), "module %d channel %d held", m, ch)
			}
		}
	}
}

func TestHazardousChannels(t *testing.T) {
	r := seeded(2, 0)
	require.NoError(t, r.SetChannelState(2, 9, fiu.StateFaultToGround))
	require.NoError(t, r.SetChannelState(0, 3, fiu.StateVoltMeasurement))

	assert.Equal(t, []Channel{
		{Module: 0, Channel: 3, State: fiu.StateVoltMeasurement},
		{Module: 2, Channel: 9, State: fiu.StateFaultToGround},
	}, r.HazardousChannels())
}
