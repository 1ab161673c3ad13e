package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridboost/gridboost/pkg/controller"
	"github.com/gridboost/gridboost/pkg/history"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

const (
	tickDaily    = "daily"
	tickRollover = "rollover"
)

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := s.runDailyTick(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), tickErrorStatus(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, res)
}

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	day, err := s.runRollover(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), tickErrorStatus(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, struct {
		Day types.Day `json:"day"`
	}{Day: day})
}

// tickErrorStatus maps collaborator failures to 503 so schedulers retry.
func tickErrorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrUnavailable),
		errors.Is(err, types.ErrRateLimited),
		errors.Is(err, types.ErrNoForecastSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// priorSOC is the SoC committed by the last successful daily tick.
func (s *Server) priorSOC() int {
	if res := s.latest.Load(); res != nil {
		return res.AppliedSOC
	}
	return 0
}

// ingestActuals records the measured load of day and fills in the actual PV
// of every pending hour. Hours where the battery sat at or above
// CurtailedSOC are marked curtailed. The caller holds tickMu.
func (s *Server) ingestActuals(ctx context.Context, settings types.Settings, day types.Day, loc *time.Location) error {
	if s.ess == nil {
		return fmt.Errorf("%w: no inverter configured", types.ErrUnavailable)
	}
	usage, err := s.ess.HourlyUsage(ctx, day, loc)
	if err != nil {
		return fmt.Errorf("failed to get usage of %s: %w", day, err)
	}

	if err := s.loads.RecordLoadSeries(day, usage.Load); err != nil {
		if !errors.Is(err, history.ErrStaleDay) {
			return fmt.Errorf("failed to record load of %s: %w", day, err)
		}
		log.Ctx(ctx).DebugContext(ctx, "day left the load window", slog.String("day", day.String()))
	}

	var recorded, curtailed int
	for _, h := range s.pv.Pending(day) {
		actual, ok := usage.Solar.Get(h)
		if !ok {
			continue
		}
		if err := s.pv.RecordActual(day, h, actual); err != nil {
			return fmt.Errorf("failed to record pv of %s hour %d: %w", day, h, err)
		}
		recorded++
		if soc, ok := usage.MaxSOC.Get(h); ok && settings.CurtailedSOC > 0 && soc >= settings.CurtailedSOC {
			if err := s.pv.MarkCurtailed(day, h); err != nil {
				return fmt.Errorf("failed to mark %s hour %d curtailed: %w", day, h, err)
			}
			curtailed++
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "ingested actuals",
		slog.String("day", day.String()),
		slog.Int("loadHours", usage.Load.Len()),
		slog.Int("pvHours", recorded),
		slog.Int("curtailedHours", curtailed),
	)
	return nil
}

// forecaster resolves the provider selected in settings. A nil Forecaster
// makes the solver fail with types.ErrNoForecastSource.
func (s *Server) forecaster(ctx context.Context, settings types.Settings) (controller.Forecaster, string) {
	if s.forecasts == nil {
		return nil, ""
	}
	p, err := s.forecasts.Provider(settings.Forecaster)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "no forecast provider", slog.String("forecaster", settings.Forecaster), slog.Any("error", err))
		return nil, ""
	}
	return p, p.Name()
}

// runDailyTick ingests yesterday's and today's actuals, solves tomorrow's
// boost and commits it to the inverter according to the mode. The latest
// result only changes once the whole tick succeeded.
func (s *Server) runDailyTick(ctx context.Context) (types.BoostResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	ctx, tickID := log.WithTick(ctx, tickDaily)
	start := time.Now()
	res, err := s.dailyTick(ctx, tickID)
	if err != nil {
		s.metrics.RecordTickFailure(tickDaily)
		log.Ctx(ctx).ErrorContext(ctx, "daily tick failed", slog.Any("error", err))
		return types.BoostResult{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "daily tick complete",
		slog.Int("calculatedSOC", res.CalculatedSOC),
		slog.Int("appliedSOC", res.AppliedSOC),
		slog.String("mode", string(res.Mode)),
		slog.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (s *Server) dailyTick(ctx context.Context, tickID string) (types.BoostResult, error) {
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		return types.BoostResult{}, fmt.Errorf("failed to get settings: %w", err)
	}
	s.resizeTrackers(ctx, settings)
	loc := location(settings)
	now := s.now().In(loc)
	today := types.DayOf(now)

	// yesterday first so a one day load window ends up holding today
	for _, day := range []types.Day{today - 1, today} {
		if err := s.ingestActuals(ctx, settings, day, loc); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping ingestion", slog.String("day", day.String()), slog.Any("error", err))
		}
	}
	if err := s.saveHistories(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save histories", slog.Any("error", err))
	}

	var status *types.SystemStatus
	if s.ess != nil {
		st, err := s.ess.GetStatus(ctx)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get battery status", slog.Any("error", err))
		} else {
			status = &st
		}
	}

	fc, forecasterName := s.forecaster(ctx, settings)
	ratios := s.pv.Ratios()
	load := s.loads.Averages(settings.DefaultLoadW)
	sol, err := s.controller.Solve(ctx, fc, controller.Input{
		Now:      now,
		Ratios:   ratios,
		Load:     load,
		Status:   status,
		Settings: settings,
	})
	if err != nil {
		return types.BoostResult{}, fmt.Errorf("failed to solve boost: %w", err)
	}

	res := types.BoostResult{
		TickID:                tickID,
		Timestamp:             now,
		Day:                   today + 1,
		Forecaster:            forecasterName,
		CalculatedSOC:         sol.CalculatedSOC,
		RequiredPct:           sol.RequiredPct,
		BatteryHoursRemaining: sol.BatteryHoursRemaining,
		PVRatio:               ratios,
		RawForecast:           sol.Raw,
		AdjustedForecast:      sol.Adjusted,
		LoadAverage:           load,
		Deficits:              sol.Deficits,
	}
	prior := s.priorSOC()
	res, intent := controller.Plan(res, prior, settings)

	// nothing has been committed yet, so a cancelled tick leaves no trace
	if err := ctx.Err(); err != nil {
		return types.BoostResult{}, fmt.Errorf("tick cancelled: %w", err)
	}
	res = controller.Apply(ctx, s.ess, res, prior, intent)

	if err := s.storage.InsertResult(ctx, res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to store result", slog.Any("error", err))
	}
	s.latest.Store(&res)
	s.metrics.RecordResult(res)
	return res, nil
}

// rolloverDay is the day whose forecast a rollover at now records. Rollovers
// scheduled just after midnight record the day that just started.
func rolloverDay(now time.Time) types.Day {
	today := types.DayOf(now)
	if now.Hour() < 12 {
		return today
	}
	return today + 1
}

// runRollover records the raw forecast of the coming day into the PV history
// without solving.
func (s *Server) runRollover(ctx context.Context) (types.Day, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	ctx, _ = log.WithTick(ctx, tickRollover)
	day, err := s.rollover(ctx)
	if err != nil {
		s.metrics.RecordTickFailure(tickRollover)
		log.Ctx(ctx).ErrorContext(ctx, "rollover failed", slog.Any("error", err))
		return 0, err
	}
	log.Ctx(ctx).InfoContext(ctx, "rollover complete", slog.String("day", day.String()))
	return day, nil
}

func (s *Server) rollover(ctx context.Context) (types.Day, error) {
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get settings: %w", err)
	}
	s.resizeTrackers(ctx, settings)
	loc := location(settings)
	now := s.now().In(loc)
	day := rolloverDay(now)

	// pick up the last hours of the day that is ending
	if err := s.ingestActuals(ctx, settings, day-1, loc); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "skipping ingestion", slog.String("day", (day - 1).String()), slog.Any("error", err))
	}

	fc, _ := s.forecaster(ctx, settings)
	if fc == nil {
		if err := s.saveHistories(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save histories", slog.Any("error", err))
		}
		return 0, types.ErrNoForecastSource
	}
	raw, err := fc.Forecast(ctx, day, loc)
	if err != nil {
		if err := s.saveHistories(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save histories", slog.Any("error", err))
		}
		return 0, fmt.Errorf("failed to get forecast for %s: %w", day, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("rollover cancelled: %w", err)
	}
	if err := s.pv.RecordForecastSeries(day, raw); err != nil {
		return 0, fmt.Errorf("failed to record forecast for %s: %w", day, err)
	}
	if err := s.saveHistories(ctx); err != nil {
		return 0, err
	}
	return day, nil
}
