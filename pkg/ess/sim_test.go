package ess

import (
	"context"
	"testing"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimAdvanceState(t *testing.T) {
	loc := time.UTC
	s := NewSim(nil, loc)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, loc)

	t.Run("NightDischarge", func(t *testing.T) {
		state := types.ESSMockState{Timestamp: start, BatterySOC: 60}
		s.advanceState(&state, start.Add(4*time.Hour))
		assert.Less(t, state.BatterySOC, 60.0)
		assert.GreaterOrEqual(t, state.BatterySOC, simMinSOC)
		assert.Len(t, state.Hours, 4)
		for _, h := range state.Hours {
			assert.Greater(t, h.LoadWH, 0.0)
			assert.Equal(t, 0.0, h.SolarWH)
		}
	})

	t.Run("NeverBelowMinSOC", func(t *testing.T) {
		state := types.ESSMockState{Timestamp: start, BatterySOC: 21}
		s.advanceState(&state, start.Add(6*time.Hour))
		assert.InDelta(t, simMinSOC, state.BatterySOC, 1e-9)
	})

	t.Run("TimeOfUseCharges", func(t *testing.T) {
		state := types.ESSMockState{
			Timestamp:        start,
			BatterySOC:       30,
			TimeOfUseEnabled: true,
			Window:           types.BoostWindow{Start: types.ClockTime{Hour: 0}, End: types.ClockTime{Hour: 6}},
			BoostSOC:         80,
		}
		s.advanceState(&state, start.Add(6*time.Hour))
		assert.InDelta(t, 80, state.BatterySOC, 0.5)
	})

	t.Run("SolarCharges", func(t *testing.T) {
		noon := start.Add(11 * time.Hour)
		state := types.ESSMockState{Timestamp: noon, BatterySOC: 50}
		s.advanceState(&state, noon.Add(2*time.Hour))
		assert.Greater(t, state.BatterySOC, 50.0)
	})

	t.Run("Retention", func(t *testing.T) {
		state := types.ESSMockState{Timestamp: start, BatterySOC: 50}
		s.advanceState(&state, start.Add(5*24*time.Hour))
		assert.LessOrEqual(t, len(state.Hours), int(simRetention/time.Hour)+1)
	})
}

// simStore keeps the sim state in memory.
type simStore struct {
	mockStorage
	state types.ESSMockState
}

func (s *simStore) GetESSMockState(context.Context) (types.ESSMockState, error) {
	return s.state, nil
}

func (s *simStore) UpdateESSMockState(_ context.Context, state types.ESSMockState) error {
	s.state = state
	return nil
}

func TestSim(t *testing.T) {
	ctx := context.Background()
	loc := time.UTC
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, loc)

	db := &simStore{state: types.ESSMockState{Timestamp: now.Add(-3 * time.Hour), BatterySOC: 70}}
	s := NewSim(db, loc)
	s.now = func() time.Time { return now }

	st, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, st.Timestamp)
	assert.Less(t, st.BatterySOC, 70.0)
	assert.Equal(t, simCapacityWH, st.BatteryCapacityWH)
	assert.False(t, st.TimeOfUseEnabled)

	require.NoError(t, s.SetBoostWindow(ctx, types.ClockTime{Hour: 3}, types.ClockTime{Hour: 6}, 90))
	assert.True(t, db.state.TimeOfUseEnabled)
	assert.Equal(t, 90, db.state.BoostSOC)

	now = now.Add(3 * time.Hour)
	st, err = s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Greater(t, st.BatterySOC, 70.0)

	u, err := s.HourlyUsage(ctx, types.DayOf(now), loc)
	require.NoError(t, err)
	assert.Equal(t, 6, u.Load.Len())
	assert.InDelta(t, simLoadW(0.5), u.Load.At(0), 50)
	v, ok := u.MaxSOC.Get(5)
	require.True(t, ok)
	assert.Greater(t, v, 70.0)

	require.NoError(t, s.DisableTimeOfUse(ctx))
	assert.False(t, db.state.TimeOfUseEnabled)
}
