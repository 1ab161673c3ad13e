package controller

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gridboost/gridboost/pkg/history"
	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockForecaster struct {
	mock.Mock
}

func (m *mockForecaster) Forecast(ctx context.Context, day types.Day, loc *time.Location) (hourly.Series, error) {
	args := m.Called(ctx, day, loc)
	return args.Get(0).(hourly.Series), args.Error(1)
}

// 1 kWh is 10% of the battery
func testSettings() types.Settings {
	return types.Settings{
		Mode:               types.ModeAutomatic,
		ManualSOC:          50,
		BoostStart:         types.ClockTime{Hour: 0},
		BoostEnd:           types.ClockTime{Hour: 6},
		MinBatterySOC:      20,
		BatteryCapacityWH:  10000,
		InverterEfficiency: 100,
	}
}

func TestCalculate(t *testing.T) {
	c := NewController()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)

	t.Run("buffer only", func(t *testing.T) {
		pv := history.NewPVTracker(history.DefaultPVDays)
		load := history.NewLoadTracker(history.DefaultLoadDays)
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: hourly.Filled(0),
			Ratios:   pv.Ratios(),
			Load:     load.Averages(0),
			Settings: testSettings(),
		})
		require.NoError(t, err)
		assert.Equal(t, 20, sol.CalculatedSOC)
		assert.Equal(t, 0.0, sol.RequiredPct)
	})

	t.Run("flat load over the window", func(t *testing.T) {
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: hourly.Filled(0),
			Load:     hourly.Filled(1000),
			Settings: testSettings(),
		})
		require.NoError(t, err)
		assert.InDelta(t, 60.0, sol.RequiredPct, 1e-9)
		assert.Equal(t, 80, sol.CalculatedSOC)
		for h := range 6 {
			assert.Equal(t, 1000.0, sol.Deficits.At(h))
		}
		_, ok := sol.Deficits.Get(6)
		assert.False(t, ok)
	})

	t.Run("worst prefix not final hour", func(t *testing.T) {
		tomorrow := hourly.Filled(0)
		tomorrow.Set(3, 6000)
		tomorrow.Set(4, 6000)
		s := testSettings()
		s.MinBatterySOC = 10
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: tomorrow,
			Load:     hourly.Filled(1000),
			Settings: s,
		})
		require.NoError(t, err)
		// 3 kWh short after hours 0-2, then the surplus more than covers it
		assert.InDelta(t, 30.0, sol.RequiredPct, 1e-9)
		assert.Equal(t, 40, sol.CalculatedSOC)
		assert.Equal(t, 0.0, sol.Deficits.At(3))
	})

	t.Run("surplus never exceeds a full battery", func(t *testing.T) {
		tomorrow := hourly.Filled(0)
		tomorrow.Set(0, 30000)
		load := hourly.Filled(0)
		load.Set(1, 15000)
		s := testSettings()
		s.MinBatterySOC = 5
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: tomorrow,
			Load:     load,
			Settings: s,
		})
		require.NoError(t, err)
		assert.InDelta(t, 50.0, sol.RequiredPct, 1e-9)
		assert.Equal(t, 55, sol.CalculatedSOC)
	})

	t.Run("ratios adjust the forecast", func(t *testing.T) {
		pv := history.NewPVTracker(history.DefaultPVDays)
		day := types.DayOf(now)
		for i := range 5 {
			d := day - types.Day(i)
			require.NoError(t, pv.RecordForecast(d, 2, 250))
			require.NoError(t, pv.RecordActual(d, 2, 500))
		}
		tomorrow := hourly.Filled(0)
		tomorrow.Set(2, 500)
		s := testSettings()
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: tomorrow,
			Ratios:   pv.Ratios(),
			Load:     hourly.Filled(1000),
			Settings: s,
		})
		require.NoError(t, err)
		assert.Equal(t, 1000.0, sol.Adjusted.At(2))
		assert.Equal(t, 0.0, sol.Deficits.At(2))
		// two hours short, then even, then three more short
		assert.InDelta(t, 50.0, sol.RequiredPct, 1e-9)
	})

	t.Run("missing forecast hours count as zero", func(t *testing.T) {
		var partial hourly.Series
		partial.Set(12, 5000)
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: partial,
			Load:     hourly.Filled(1000),
			Settings: testSettings(),
		})
		require.NoError(t, err)
		assert.Equal(t, 80, sol.CalculatedSOC)
	})

	t.Run("efficiency scales load", func(t *testing.T) {
		s := testSettings()
		s.InverterEfficiency = 50
		s.MinBatterySOC = 5
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: hourly.Filled(0),
			Load:     hourly.Filled(500),
			Settings: s,
		})
		require.NoError(t, err)
		assert.InDelta(t, 60.0, sol.RequiredPct, 1e-9)
	})

	t.Run("clamped", func(t *testing.T) {
		sol, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: hourly.Filled(0),
			Load:     hourly.Filled(100000),
			Settings: testSettings(),
		})
		require.NoError(t, err)
		assert.Equal(t, types.MaxSOC, sol.CalculatedSOC)

		s := testSettings()
		s.MinBatterySOC = 0
		sol, err = c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: hourly.Filled(5000),
			Load:     hourly.Filled(0),
			Settings: s,
		})
		require.NoError(t, err)
		assert.Equal(t, types.MinSOC, sol.CalculatedSOC)
	})

	t.Run("monotonic in load and forecast", func(t *testing.T) {
		s := testSettings()
		s.MinBatterySOC = 5
		socFor := func(load, pv float64) int {
			sol, err := c.Calculate(ctx, Input{
				Now:      now,
				Tomorrow: hourly.Filled(pv),
				Load:     hourly.Filled(load),
				Settings: s,
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, sol.CalculatedSOC, types.MinSOC)
			assert.LessOrEqual(t, sol.CalculatedSOC, types.MaxSOC)
			return sol.CalculatedSOC
		}
		prev := 0
		for load := 0.0; load <= 3000; load += 250 {
			soc := socFor(load, 400)
			assert.GreaterOrEqual(t, soc, prev, "load %v", load)
			prev = soc
		}
		prev = 100
		for pv := 0.0; pv <= 3000; pv += 250 {
			soc := socFor(1200, pv)
			assert.LessOrEqual(t, soc, prev, "pv %v", pv)
			prev = soc
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		in := Input{
			Now:      now,
			Tomorrow: hourly.Filled(300),
			Load:     hourly.Filled(800),
			Status:   &types.SystemStatus{BatterySOC: 60},
			Settings: testSettings(),
		}
		a, err := c.Calculate(ctx, in)
		require.NoError(t, err)
		b, err := c.Calculate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("non-finite input fails", func(t *testing.T) {
		ratios := hourly.Filled(1)
		ratios.Set(3, math.NaN())
		_, err := c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: hourly.Filled(0),
			Ratios:   ratios,
			Load:     hourly.Filled(1000),
			Settings: testSettings(),
		})
		assert.Error(t, err)

		load := hourly.Filled(1000)
		load.Set(2, math.Inf(1))
		_, err = c.Calculate(ctx, Input{
			Now:      now,
			Tomorrow: hourly.Filled(0),
			Load:     load,
			Settings: testSettings(),
		})
		assert.Error(t, err)
	})

	t.Run("invalid settings", func(t *testing.T) {
		s := testSettings()
		s.BatteryCapacityWH = 0
		_, err := c.Calculate(ctx, Input{Now: now, Settings: s})
		assert.Error(t, err)

		s = testSettings()
		s.InverterEfficiency = 0
		_, err = c.Calculate(ctx, Input{Now: now, Settings: s})
		assert.Error(t, err)
	})
}

func TestBoostSOC(t *testing.T) {
	assert.Equal(t, 80, BoostSOC(60, 20))
	assert.Equal(t, 80, BoostSOC(60.0000000001, 20))
	assert.Equal(t, 81, BoostSOC(60.01, 20))
	assert.Equal(t, 5, BoostSOC(0, 0))
	assert.Equal(t, 99, BoostSOC(150, 20))
	assert.Equal(t, 99, BoostSOC(math.NaN(), 20))
	assert.Equal(t, 99, BoostSOC(math.Inf(1), 20))
	assert.Equal(t, 5, BoostSOC(math.Inf(-1), 20))
}

func TestSolve(t *testing.T) {
	c := NewController()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)
	today := types.DayOf(now)

	t.Run("no forecaster", func(t *testing.T) {
		_, err := c.Solve(ctx, nil, Input{Now: now, Settings: testSettings()})
		assert.ErrorIs(t, err, types.ErrNoForecastSource)
	})

	t.Run("forecast unavailable", func(t *testing.T) {
		fc := &mockForecaster{}
		fc.On("Forecast", mock.Anything, today+1, time.UTC).Return(hourly.Series{}, types.ErrUnavailable)
		_, err := c.Solve(ctx, fc, Input{Now: now, Settings: testSettings()})
		assert.ErrorIs(t, err, types.ErrUnavailable)
		fc.AssertExpectations(t)
	})

	t.Run("uses tomorrow's forecast", func(t *testing.T) {
		fc := &mockForecaster{}
		fc.On("Forecast", mock.Anything, today+1, time.UTC).Return(hourly.Filled(1000), nil)
		fc.On("Forecast", mock.Anything, today, time.UTC).Return(hourly.Series{}, errors.New("boom"))
		sol, err := c.Solve(ctx, fc, Input{
			Now:      now,
			Load:     hourly.Filled(1000),
			Settings: testSettings(),
		})
		require.NoError(t, err)
		assert.Equal(t, 20, sol.CalculatedSOC)
		assert.Equal(t, 24000.0, sol.Adjusted.Sum())
		fc.AssertExpectations(t)
	})
}
