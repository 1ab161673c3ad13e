package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

// Forecaster supplies the raw hourly PV forecast of a day.
type Forecaster interface {
	Forecast(ctx context.Context, day types.Day, loc *time.Location) (hourly.Series, error)
}

// Input is everything a boost calculation depends on.
type Input struct {
	Now time.Time
	// Raw forecasts, Solve fills these in from the Forecaster
	Tomorrow hourly.Series
	Today    hourly.Series
	// Correction ratio per hour, an empty series means no correction
	Ratios hourly.Series
	// Average load per hour
	Load hourly.Series
	// Current battery state, nil skips the remaining time projection
	Status   *types.SystemStatus
	Settings types.Settings
}

// Solution is the output of a boost calculation.
type Solution struct {
	CalculatedSOC int
	// Worst shortfall in percent of capacity before the buffer
	RequiredPct           float64
	Raw                   hourly.Series
	Adjusted              hourly.Series
	Deficits              hourly.Series
	BatteryHoursRemaining float64
	Simulation            []SimHour
}

// Controller computes the daily boost.
type Controller struct {
}

// NewController creates a new Controller.
func NewController() *Controller {
	return &Controller{}
}

// Solve fetches today's and tomorrow's forecast from fc and calculates the
// boost. It fails with types.ErrNoForecastSource when fc is nil.
func (c *Controller) Solve(ctx context.Context, fc Forecaster, in Input) (Solution, error) {
	if fc == nil {
		return Solution{}, types.ErrNoForecastSource
	}
	loc := in.Now.Location()
	today := types.DayOf(in.Now)

	tomorrow, err := fc.Forecast(ctx, today+1, loc)
	if err != nil {
		return Solution{}, fmt.Errorf("failed to get forecast for %s: %w", today+1, err)
	}
	in.Tomorrow = tomorrow

	// today's forecast only feeds the remaining time projection
	todayFc, err := fc.Forecast(ctx, today, loc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get today's forecast", slog.Any("error", err))
		todayFc = hourly.Series{}
	}
	in.Today = todayFc

	return c.Calculate(ctx, in)
}

// BoostSOC turns the worst shortfall into the SoC target: the buffer is added,
// the result rounded up to a whole percent and clamped to [MinSOC, MaxSOC].
// A NaN input charges to MaxSOC.
func BoostSOC(requiredPct, buffer float64) int {
	if math.IsNaN(requiredPct) || math.IsNaN(buffer) {
		return types.MaxSOC
	}
	// tolerate float noise so that 80.0000000001 does not become 81
	soc := math.Ceil(requiredPct + buffer - 1e-9)
	return int(min(max(soc, types.MinSOC), types.MaxSOC))
}

// Calculate runs the boost calculation on fully populated inputs. It has no
// side effects and returns the same Solution for the same Input.
func (c *Controller) Calculate(ctx context.Context, in Input) (Solution, error) {
	s := in.Settings
	capacity := s.BatteryCapacityWH
	if capacity <= 0 {
		return Solution{}, fmt.Errorf("invalid battery capacity: %v", capacity)
	}
	efficiency := s.InverterEfficiency
	if efficiency <= 0 || efficiency > 100 {
		return Solution{}, fmt.Errorf("invalid inverter efficiency: %v", efficiency)
	}

	ratios := in.Ratios
	if ratios.Len() == 0 {
		ratios = hourly.Filled(1)
	}
	adjusted := in.Tomorrow.Scale(ratios)

	log.Ctx(ctx).DebugContext(ctx, "calculating boost",
		slog.Float64("forecastWH", in.Tomorrow.Sum()),
		slog.Float64("adjustedWH", adjusted.Sum()),
		slog.Float64("loadWH", in.Load.Sum()),
		slog.Float64("capacityWH", capacity),
		slog.Float64("buffer", s.MinBatterySOC),
	)

	// running is how far below the starting charge the battery has been
	// drawn. Surplus hours recharge it, but never beyond a full battery.
	var deficits hourly.Series
	var running, worst float64
	for _, h := range s.SolveWindow().Hours() {
		load := in.Load.At(h) * 100 / efficiency
		pv := adjusted.At(h)
		need := load - pv
		deficits.Set(h, max(0, need))
		running = max(running+need, -capacity)
		worst = max(worst, running)
		log.Ctx(ctx).DebugContext(ctx, "boost hour",
			slog.Int("hour", h),
			slog.Float64("loadWH", load),
			slog.Float64("pvWH", pv),
			slog.Float64("shortfallWH", running),
		)
	}

	if math.IsNaN(worst) || math.IsInf(worst, 0) {
		return Solution{}, fmt.Errorf("non-finite shortfall over the solve window: %v", worst)
	}
	required := worst / capacity * 100
	sol := Solution{
		CalculatedSOC: BoostSOC(required, s.MinBatterySOC),
		RequiredPct:   required,
		Raw:           in.Tomorrow,
		Adjusted:      adjusted,
		Deficits:      deficits,
	}

	if in.Status != nil {
		today := in.Today.Scale(ratios)
		sol.BatteryHoursRemaining, sol.Simulation = c.SimulateBattery(ctx, in.Now, *in.Status, capacity, efficiency, in.Load, today, adjusted)
	}

	log.Ctx(ctx).DebugContext(ctx, "boost calculated",
		slog.Int("soc", sol.CalculatedSOC),
		slog.Float64("requiredPct", required),
		slog.Float64("batteryHoursRemaining", sol.BatteryHoursRemaining),
	)
	return sol, nil
}
