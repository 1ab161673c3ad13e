package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

// maxSchedulerSleep bounds how long the scheduler waits before looking at
// the settings again.
const maxSchedulerSleep = 15 * time.Minute

// nextAt returns the first instant of c strictly after now.
func nextAt(now time.Time, c types.ClockTime) time.Time {
	t := c.On(now)
	if !t.After(now) {
		t = c.On(now.AddDate(0, 0, 1))
	}
	return t
}

// nextTick returns when the next tick is due and which kind it is. The daily
// tick wins when both fall on the same minute.
func nextTick(now time.Time, settings types.Settings) (time.Time, string) {
	now = now.In(location(settings))
	daily := nextAt(now, types.ClockTime{Hour: settings.UpdateHour})
	rollover := nextAt(now, settings.RolloverTime)
	if rollover.Before(daily) {
		return rollover, tickRollover
	}
	return daily, tickDaily
}

// runScheduler runs the daily and rollover ticks in-process until ctx is
// done. Failed ticks are not retried until their next occurrence.
func (s *Server) runScheduler(ctx context.Context) {
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("component", "scheduler")))
	for {
		wait := time.Minute
		var due bool
		var kind string

		settings, err := s.getSettingsWithMigration(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		} else {
			var at time.Time
			at, kind = nextTick(s.now(), settings)
			wait = at.Sub(s.now())
			if wait > maxSchedulerSleep {
				wait = maxSchedulerSleep
			} else {
				due = true
				log.Ctx(ctx).DebugContext(ctx, "next tick", slog.String("kind", kind), slog.Time("at", at))
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !due {
			continue
		}

		switch kind {
		case tickDaily:
			_, _ = s.runDailyTick(ctx)
		case tickRollover:
			_, _ = s.runRollover(ctx)
		}
	}
}
