package history

import (
	"fmt"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/types"
)

// DefaultLoadDays is the default length of the load window.
const DefaultLoadDays = 4

// LoadTracker remembers measured hourly load over a rolling window.
type LoadTracker struct {
	r *ring[hourly.Series]
}

// NewLoadTracker returns an empty tracker holding days days.
func NewLoadTracker(days int) *LoadTracker {
	return &LoadTracker{r: newRing[hourly.Series](days)}
}

// Capacity is the number of days retained.
func (t *LoadTracker) Capacity() int {
	return t.r.capacity()
}

// Days lists the retained days, oldest first.
func (t *LoadTracker) Days() []types.Day {
	return t.r.days()
}

// RecordLoad stores the load of day and hour.
func (t *LoadTracker) RecordLoad(day types.Day, hour int, power float64) error {
	if err := checkSample(hour, power); err != nil {
		return err
	}
	s, err := t.r.slot(day)
	if err != nil {
		return err
	}
	s.Set(hour, power)
	return nil
}

// RecordLoadSeries records every set hour of load for day.
func (t *LoadTracker) RecordLoadSeries(day types.Day, load hourly.Series) error {
	for _, h := range load.Hours() {
		if err := t.RecordLoad(day, h, load.At(h)); err != nil {
			return err
		}
	}
	return nil
}

// AverageForHour is the mean load of hour across the retained days, or
// fallback when nothing was recorded for that hour.
func (t *LoadTracker) AverageForHour(hour int, fallback float64) float64 {
	if !hourly.Valid(hour) {
		return fallback
	}
	var days []hourly.Series
	t.r.each(func(_ types.Day, s *hourly.Series) {
		days = append(days, *s)
	})
	v, ok := hourly.Average(days...).Get(hour)
	if !ok {
		return fallback
	}
	return v
}

// Averages returns AverageForHour for all 24 hours.
func (t *LoadTracker) Averages(fallback float64) hourly.Series {
	var days []hourly.Series
	t.r.each(func(_ types.Day, s *hourly.Series) {
		days = append(days, *s)
	})
	avg := hourly.Average(days...)
	return hourly.Filled(fallback).Merge(avg)
}

// Resize changes the window length. Days beyond the new length are evicted
// immediately, oldest first.
func (t *LoadTracker) Resize(days int) error {
	if days < types.MinLoadDays || days > types.MaxLoadDays {
		return fmt.Errorf("load days must be between %d and %d: %d", types.MinLoadDays, types.MaxLoadDays, days)
	}
	if days != t.Capacity() {
		t.r = t.r.resized(days)
	}
	return nil
}

// Snapshot returns the persisted form of the tracker.
func (t *LoadTracker) Snapshot() types.LoadHistory {
	var h types.LoadHistory
	t.r.each(func(day types.Day, s *hourly.Series) {
		h.Days = append(h.Days, types.LoadDay{Day: day, Load: *s})
	})
	return h
}

// RestoreLoad rebuilds a tracker of the given size from a snapshot. Values
// that cannot be placed are skipped and counted in the returned int.
func RestoreLoad(h types.LoadHistory, days int) (*LoadTracker, int) {
	t := NewLoadTracker(days)
	var skipped int
	for _, ld := range h.Days {
		for _, hour := range ld.Load.Hours() {
			if err := t.RecordLoad(ld.Day, hour, ld.Load.At(hour)); err != nil {
				skipped++
			}
		}
	}
	return t, skipped
}
