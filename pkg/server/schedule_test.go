package server

import (
	"context"
	"testing"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestNextTick(t *testing.T) {
	settings := testSettings()

	tests := []struct {
		name string
		now  time.Time
		at   time.Time
		kind string
	}{
		{
			name: "MorningWaitsForDaily",
			now:  time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC),
			at:   time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC),
			kind: tickDaily,
		},
		{
			name: "AtDailyMovesToRollover",
			now:  time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC),
			at:   time.Date(2025, 6, 10, 23, 55, 0, 0, time.UTC),
			kind: tickRollover,
		},
		{
			name: "AfterRolloverWaitsForTomorrow",
			now:  time.Date(2025, 6, 10, 23, 56, 0, 0, time.UTC),
			at:   time.Date(2025, 6, 11, 22, 0, 0, 0, time.UTC),
			kind: tickDaily,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, kind := nextTick(tt.now, settings)
			assert.True(t, tt.at.Equal(at), "got %v", at)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestNextTickTimezone(t *testing.T) {
	settings := testSettings()
	settings.Timezone = "America/Chicago"
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		t.Skip("tzdata not available")
	}

	at, kind := nextTick(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC), settings)
	assert.Equal(t, tickDaily, kind)
	assert.True(t, time.Date(2025, 6, 10, 22, 0, 0, 0, loc).Equal(at), "got %v", at)
}

func TestNextAt(t *testing.T) {
	now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	assert.True(t, time.Date(2025, 6, 11, 6, 0, 0, 0, time.UTC).Equal(nextAt(now, types.ClockTime{Hour: 6})))
	assert.True(t, time.Date(2025, 6, 10, 6, 30, 0, 0, time.UTC).Equal(nextAt(now, types.ClockTime{Hour: 6, Minute: 30})))
}

func TestRunSchedulerStops(t *testing.T) {
	ts := newTestServer(t, testSettings())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.runScheduler(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
