package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, ModeTesting, s.Mode)
		assert.Equal(t, 50, s.ManualSOC)
		assert.Equal(t, ClockTime{}, s.BoostStart)
		assert.Equal(t, ClockTime{Hour: 6}, s.BoostEnd)
		assert.Equal(t, 22, s.UpdateHour)
		assert.Equal(t, 4, s.LoadDays)
		assert.Equal(t, 21, s.PVDays)
		assert.Equal(t, 20.0, s.MinBatterySOC)
		assert.Equal(t, 5620.0, s.BatteryCapacityWH)
		assert.Equal(t, 96.6, s.InverterEfficiency)
		assert.Equal(t, 1000.0, s.DefaultLoadW)
		assert.Equal(t, ClockTime{Hour: 23, Minute: 55}, s.RolloverTime)
		assert.Equal(t, 98.0, s.CurtailedSOC)
		require.NoError(t, s.Validate())
	})

	t.Run("v1 keeps user values", func(t *testing.T) {
		s, _, err := MigrateSettings(Settings{Mode: ModeAutomatic, LoadDays: 7}, 0)
		require.NoError(t, err)
		assert.Equal(t, ModeAutomatic, s.Mode)
		assert.Equal(t, 7, s.LoadDays)
	})

	t.Run("v2 only sets rollover", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{Mode: ModeOff}, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, ClockTime{Hour: 23, Minute: 55}, s.RolloverTime)
		assert.Equal(t, 0, s.LoadDays)
	})

	t.Run("no change: current version", func(t *testing.T) {
		current := Settings{Mode: ModeManual}
		s, changed, err := MigrateSettings(current, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, current, s)
	})
}

func TestSettingsClamp(t *testing.T) {
	s := Settings{
		ManualSOC:     150,
		MinBatterySOC: 1,
		LoadDays:      20,
		PVDays:        0,
		UpdateHour:    30,
	}.Clamp()
	assert.Equal(t, MaxSOC, s.ManualSOC)
	assert.Equal(t, float64(MinSOC), s.MinBatterySOC)
	assert.Equal(t, MaxLoadDays, s.LoadDays)
	assert.Equal(t, MinPVDays, s.PVDays)
	assert.Equal(t, 23, s.UpdateHour)
}

func TestSettingsValidate(t *testing.T) {
	base, _, err := MigrateSettings(Settings{}, 0)
	require.NoError(t, err)

	bad := base
	bad.Mode = "turbo"
	assert.ErrorContains(t, bad.Validate(), "invalid mode")

	bad = base
	bad.InverterEfficiency = 120
	assert.Error(t, bad.Validate())

	bad = base
	bad.BatteryCapacityWH = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Forecaster = "crystal_ball"
	assert.ErrorContains(t, bad.Validate(), "unknown forecaster")

	bad = base
	bad.Timezone = "Mars/Olympus_Mons"
	assert.ErrorContains(t, bad.Validate(), "invalid timezone")

	bad = base
	bad.CurtailedSOC = 0
	assert.ErrorContains(t, bad.Validate(), "curtailed SoC")

	bad = base
	bad.CurtailedSOC = 101
	assert.ErrorContains(t, bad.Validate(), "curtailed SoC")

	bad = base
	bad.LoadDays = 0
	assert.ErrorContains(t, bad.Validate(), "at least one day")

	ok := base
	ok.Timezone = "UTC"
	ok.Forecaster = ForecasterSolcast
	assert.NoError(t, ok.Validate())
}

func TestSolveWindow(t *testing.T) {
	s := Settings{BoostStart: ClockTime{Hour: 0}, BoostEnd: ClockTime{Hour: 6}}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, s.SolveWindow().Hours())

	s.SolveAfterBoost = true
	hours := s.SolveWindow().Hours()
	assert.Len(t, hours, 18)
	assert.Equal(t, 6, hours[0])
	assert.Equal(t, 23, hours[len(hours)-1])
}
