package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
		root:      "test-site",
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
		assert.Error(t, (&FirestoreProvider{}).Validate())
	})

	t.Run("SettingsMissing", func(t *testing.T) {
		empty := &FirestoreProvider{client: f.client, root: "missing-site"}
		s, version, err := empty.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Equal(t, types.Settings{}, s)
	})

	t.Run("Settings", func(t *testing.T) {
		settings := types.Settings{
			Mode:          types.ModeAutomatic,
			ManualSOC:     40,
			MinBatterySOC: 22.5,
		}
		require.NoError(t, f.SetSettings(ctx, settings, types.CurrentSettingsVersion))

		got, version, err := f.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, settings.Mode, got.Mode)
		assert.Equal(t, settings.ManualSOC, got.ManualSOC)
		assert.Equal(t, settings.MinBatterySOC, got.MinBatterySOC)
	})

	t.Run("PVHistory", func(t *testing.T) {
		actual := 1200.0
		h := types.PVHistory{Days: []types.PVDay{{
			Day: 20000,
			Samples: []types.ForecastSample{
				{Hour: 10, Forecast: 1000, Actual: &actual},
				{Hour: 11, Forecast: 1500},
			},
		}}}
		require.NoError(t, f.SetPVHistory(ctx, h, types.CurrentHistoryVersion))

		got, version, err := f.GetPVHistory(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentHistoryVersion, version)
		require.Len(t, got.Days, 1)
		assert.Equal(t, types.Day(20000), got.Days[0].Day)
		require.Len(t, got.Days[0].Samples, 2)
		require.NotNil(t, got.Days[0].Samples[0].Actual)
		assert.Equal(t, 1200.0, *got.Days[0].Samples[0].Actual)
		assert.Nil(t, got.Days[0].Samples[1].Actual)
	})

	t.Run("LoadHistory", func(t *testing.T) {
		h := types.LoadHistory{Days: []types.LoadDay{{
			Day:  20000,
			Load: hourly.FromMap(map[int]float64{0: 500, 23: 800}),
		}}}
		require.NoError(t, f.SetLoadHistory(ctx, h, types.CurrentHistoryVersion))

		got, _, err := f.GetLoadHistory(ctx)
		require.NoError(t, err)
		require.Len(t, got.Days, 1)
		assert.Equal(t, 500.0, got.Days[0].Load.At(0))
		assert.Equal(t, 800.0, got.Days[0].Load.At(23))
		_, ok := got.Days[0].Load.Get(12)
		assert.False(t, ok)
	})

	t.Run("Results", func(t *testing.T) {
		now := time.Now().Truncate(time.Second).UTC()
		r1 := types.BoostResult{Timestamp: now.Add(-2 * time.Hour), Day: 20000, CalculatedSOC: 30}
		r2 := types.BoostResult{Timestamp: now.Add(-time.Hour), Day: 20001, CalculatedSOC: 45}
		require.NoError(t, f.InsertResult(ctx, r1))
		require.NoError(t, f.InsertResult(ctx, r2))

		latest, err := f.GetLatestResult(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 45, latest.CalculatedSOC)

		results, err := f.GetResultHistory(ctx, now.Add(-3*time.Hour), now.Add(-90*time.Minute))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 30, results[0].CalculatedSOC)

		assert.Error(t, f.InsertResult(ctx, types.BoostResult{}))
	})

	t.Run("ESSMockState", func(t *testing.T) {
		state := types.ESSMockState{
			Timestamp:  time.Now().Truncate(time.Second).UTC(),
			BatterySOC: 61.5,
			BoostSOC:   35,
		}
		require.NoError(t, f.UpdateESSMockState(ctx, state))

		got, err := f.GetESSMockState(ctx)
		require.NoError(t, err)
		assert.Equal(t, 61.5, got.BatterySOC)
		assert.Equal(t, 35, got.BoostSOC)
		assert.True(t, state.Timestamp.Equal(got.Timestamp))
	})
}
