package history

import (
	"fmt"
	"math"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// Correction ratio bounds. A ratio never leaves this range no matter how far
// off a single day was.
const (
	MinRatio     = 0.1
	MaxRatio     = 3.0
	DefaultRatio = 1.0
)

// DefaultPVDays is the default length of the PV accuracy window.
const DefaultPVDays = 21

type pvSample struct {
	forecast    float64
	actual      float64
	hasForecast bool
	hasActual   bool
	curtailed   bool
}

func (s pvSample) valid() bool {
	return s.hasForecast && s.hasActual && !s.curtailed && s.forecast > 0
}

type pvDay [hourly.Hours]pvSample

// PVTracker remembers forecast and measured PV per hour over a rolling window
// and derives how far off the forecast tends to be for each hour.
type PVTracker struct {
	r *ring[pvDay]
}

// NewPVTracker returns an empty tracker holding days days.
func NewPVTracker(days int) *PVTracker {
	return &PVTracker{r: newRing[pvDay](days)}
}

// Capacity is the number of days retained.
func (t *PVTracker) Capacity() int {
	return t.r.capacity()
}

// Days lists the retained days, oldest first.
func (t *PVTracker) Days() []types.Day {
	return t.r.days()
}

func checkSample(hour int, power float64) error {
	if !hourly.Valid(hour) {
		return fmt.Errorf("invalid hour: %d", hour)
	}
	if power < 0 || math.IsNaN(power) || math.IsInf(power, 0) {
		return fmt.Errorf("invalid power for hour %d: %v", hour, power)
	}
	return nil
}

// RecordForecast sets the forecast of day and hour, overwriting any earlier
// forecast. Recording a newer day evicts the days that fall out of the window.
func (t *PVTracker) RecordForecast(day types.Day, hour int, power float64) error {
	if err := checkSample(hour, power); err != nil {
		return err
	}
	d, err := t.r.slot(day)
	if err != nil {
		return err
	}
	d[hour].forecast = power
	d[hour].hasForecast = true
	return nil
}

// RecordForecastSeries records every set hour of a forecast for day.
func (t *PVTracker) RecordForecastSeries(day types.Day, forecast hourly.Series) error {
	for _, h := range forecast.Hours() {
		if err := t.RecordForecast(day, h, forecast.At(h)); err != nil {
			return err
		}
	}
	return nil
}

func (t *PVTracker) sample(day types.Day, hour int) (*pvSample, error) {
	d, ok := t.r.get(day)
	if !ok || !d[hour].hasForecast {
		return nil, fmt.Errorf("%w: %s hour %d", types.ErrUnknownSample, day, hour)
	}
	return &d[hour], nil
}

// RecordActual fills in the measured PV of a sample. It fails with
// types.ErrUnknownSample when no forecast was recorded for that day and hour.
func (t *PVTracker) RecordActual(day types.Day, hour int, power float64) error {
	if err := checkSample(hour, power); err != nil {
		return err
	}
	s, err := t.sample(day, hour)
	if err != nil {
		return err
	}
	s.actual = power
	s.hasActual = true
	return nil
}

// MarkCurtailed excludes a sample from the ratio. Used for hours where the
// battery was full and PV output was throttled.
func (t *PVTracker) MarkCurtailed(day types.Day, hour int) error {
	if !hourly.Valid(hour) {
		return fmt.Errorf("invalid hour: %d", hour)
	}
	s, err := t.sample(day, hour)
	if err != nil {
		return err
	}
	s.curtailed = true
	return nil
}

// RatioForHour is mean(actual)/mean(forecast) across the valid samples of
// hour, clamped to [MinRatio, MaxRatio]. It is DefaultRatio when there are no
// valid samples.
func (t *PVTracker) RatioForHour(hour int) float64 {
	if !hourly.Valid(hour) {
		return DefaultRatio
	}
	var forecasts, actuals []float64
	t.r.each(func(_ types.Day, d *pvDay) {
		if s := d[hour]; s.valid() {
			forecasts = append(forecasts, s.forecast)
			actuals = append(actuals, s.actual)
		}
	})
	if len(forecasts) == 0 {
		return DefaultRatio
	}
	ratio := stat.Mean(actuals, nil) / stat.Mean(forecasts, nil)
	if math.IsNaN(ratio) {
		return DefaultRatio
	}
	return min(max(ratio, MinRatio), MaxRatio)
}

// Ratios returns RatioForHour for all 24 hours.
func (t *PVTracker) Ratios() hourly.Series {
	var out hourly.Series
	for h := range hourly.Hours {
		out.Set(h, t.RatioForHour(h))
	}
	return out
}

// Adjust applies the per-hour ratios to a raw forecast. Hours missing from
// raw are zero in the result.
func (t *PVTracker) Adjust(raw hourly.Series) hourly.Series {
	return raw.Scale(t.Ratios())
}

// Pending returns the hours of day that have a forecast but no actual yet.
func (t *PVTracker) Pending(day types.Day) []int {
	d, ok := t.r.get(day)
	if !ok {
		return nil
	}
	var hours []int
	for h, s := range d {
		if s.hasForecast && !s.hasActual {
			hours = append(hours, h)
		}
	}
	return hours
}

// Forecast returns what was recorded as the forecast for day.
func (t *PVTracker) Forecast(day types.Day) (hourly.Series, bool) {
	var out hourly.Series
	d, ok := t.r.get(day)
	if !ok {
		return out, false
	}
	for h, s := range d {
		if s.hasForecast {
			out.Set(h, s.forecast)
		}
	}
	return out, true
}

// Resize changes the window length, dropping the oldest days that no longer
// fit.
func (t *PVTracker) Resize(days int) {
	if days == t.Capacity() {
		return
	}
	t.r = t.r.resized(days)
}

// Snapshot returns the persisted form of the tracker.
func (t *PVTracker) Snapshot() types.PVHistory {
	var h types.PVHistory
	t.r.each(func(day types.Day, d *pvDay) {
		pd := types.PVDay{Day: day}
		for hour, s := range d {
			if !s.hasForecast {
				continue
			}
			fs := types.ForecastSample{
				Hour:      hour,
				Forecast:  s.forecast,
				Curtailed: s.curtailed,
			}
			if s.hasActual {
				a := s.actual
				fs.Actual = &a
			}
			pd.Samples = append(pd.Samples, fs)
		}
		h.Days = append(h.Days, pd)
	})
	return h
}

// RestorePV rebuilds a tracker of the given size from a snapshot. Samples
// that cannot be placed are skipped and counted in the returned int.
func RestorePV(h types.PVHistory, days int) (*PVTracker, int) {
	t := NewPVTracker(days)
	var skipped int
	for _, pd := range h.Days {
		for _, fs := range pd.Samples {
			if err := t.RecordForecast(pd.Day, fs.Hour, fs.Forecast); err != nil {
				skipped++
				continue
			}
			if fs.Actual != nil {
				if err := t.RecordActual(pd.Day, fs.Hour, *fs.Actual); err != nil {
					skipped++
					continue
				}
			}
			if fs.Curtailed {
				_ = t.MarkCurtailed(pd.Day, fs.Hour)
			}
		}
	}
	return t, skipped
}
