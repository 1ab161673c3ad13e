package ess

import (
	"math"
	"sync"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
)

// Reading identifies a metered quantity.
type Reading int

const (
	ReadingLoad Reading = iota
	ReadingSolar
	ReadingSOC

	numReadings
)

const (
	defaultMeterRetention = 72 * time.Hour
	// a reading is assumed to hold at most this long without a new one
	defaultMaxHold = 15 * time.Minute
)

type meterSample struct {
	at    time.Time
	value float64
}

// Meter turns instantaneous readings into hourly energy. Each reading is held
// until the next one (or maxHold) and the hour's value is the time weighted
// mean, which for power in W is the energy in Wh.
type Meter struct {
	mu      sync.Mutex
	samples [numReadings][]meterSample
	retain  time.Duration
	maxHold time.Duration
	now     func() time.Time
}

// NewMeter returns a Meter keeping readings for the retain duration.
func NewMeter(retain time.Duration) *Meter {
	if retain <= 0 {
		retain = defaultMeterRetention
	}
	return &Meter{
		retain:  retain,
		maxHold: defaultMaxHold,
		now:     time.Now,
	}
}

// Record adds a reading taken at t. Readings older than the latest one for
// the same quantity are dropped.
func (m *Meter) Record(r Reading, t time.Time, value float64) {
	if r < 0 || r >= numReadings || math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.samples[r]
	if n := len(s); n > 0 && !t.After(s[n-1].at) {
		return
	}
	s = append(s, meterSample{at: t, value: value})

	cutoff := t.Add(-m.retain)
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	m.samples[r] = s[i:]
}

// Latest returns the most recent reading.
func (m *Meter) Latest(r Reading) (float64, time.Time, bool) {
	if r < 0 || r >= numReadings {
		return 0, time.Time{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.samples[r]
	if len(s) == 0 {
		return 0, time.Time{}, false
	}
	last := s[len(s)-1]
	return last.value, last.at, true
}

// Usage buckets the readings of day into hours in loc. Only hours that have
// ended and have at least one reading covering them are present.
func (m *Meter) Usage(day types.Day, loc *time.Location) types.HourlyUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	start := day.Start(loc)
	u := types.HourlyUsage{Day: day}
	for h := range 24 {
		a := time.Date(start.Year(), start.Month(), start.Day(), h, 0, 0, 0, loc)
		b := a.Add(time.Hour)
		if b.After(now) {
			break
		}
		if v, ok := m.weightedMean(ReadingLoad, a, b); ok {
			u.Load.Set(h, v)
		}
		if v, ok := m.weightedMean(ReadingSolar, a, b); ok {
			u.Solar.Set(h, v)
		}
		if v, ok := m.maxOver(ReadingSOC, a, b); ok {
			u.MaxSOC.Set(h, v)
		}
	}
	return u
}

// segments calls fn for every held reading overlapping [a, b) with the
// overlap duration.
func (m *Meter) segments(r Reading, a, b time.Time, fn func(v float64, d time.Duration)) {
	s := m.samples[r]
	for i, cur := range s {
		end := cur.at.Add(m.maxHold)
		if i+1 < len(s) && s[i+1].at.Before(end) {
			end = s[i+1].at
		}
		lo := cur.at
		if lo.Before(a) {
			lo = a
		}
		hi := end
		if hi.After(b) {
			hi = b
		}
		if hi.After(lo) {
			fn(cur.value, hi.Sub(lo))
		}
	}
}

func (m *Meter) weightedMean(r Reading, a, b time.Time) (float64, bool) {
	var sum float64
	var total time.Duration
	m.segments(r, a, b, func(v float64, d time.Duration) {
		sum += v * d.Hours()
		total += d
	})
	if total <= 0 {
		return 0, false
	}
	return sum / total.Hours(), true
}

func (m *Meter) maxOver(r Reading, a, b time.Time) (float64, bool) {
	var out float64
	var found bool
	m.segments(r, a, b, func(v float64, _ time.Duration) {
		if !found || v > out {
			out = v
		}
		found = true
	})
	return out, found
}
