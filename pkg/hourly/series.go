// Package hourly holds the fixed 24-bucket series used for forecasts, load
// profiles and correction ratios. Values are average power over the hour in
// watts, which is numerically the energy of that hour in watt-hours.
package hourly

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Hours is the number of buckets in every series.
const Hours = 24

// ErrEmptySeries is returned when a mean is requested over zero samples.
var ErrEmptySeries = errors.New("empty series")

// Series maps each hour of the day to a value. Hours that were never set are
// absent and are skipped by Mean and treated as zero by Scale and Sum.
type Series struct {
	values  [Hours]float64
	present [Hours]bool
}

// Valid reports whether hour is a usable bucket index.
func Valid(hour int) bool {
	return hour >= 0 && hour < Hours
}

// Filled returns a series with every hour set to v.
func Filled(v float64) Series {
	var s Series
	for h := range Hours {
		s.values[h] = v
		s.present[h] = true
	}
	return s
}

// FromMap builds a series from an hour keyed map. Keys outside [0,23] are
// ignored.
func FromMap(m map[int]float64) Series {
	var s Series
	for h, v := range m {
		if Valid(h) {
			s.Set(h, v)
		}
	}
	return s
}

// Get returns the value of hour and whether it was set.
func (s Series) Get(hour int) (float64, bool) {
	if !Valid(hour) || !s.present[hour] {
		return 0, false
	}
	return s.values[hour], true
}

// At returns the value of hour or zero when it is absent.
func (s Series) At(hour int) float64 {
	v, _ := s.Get(hour)
	return v
}

// Set stores v for hour. Out of range hours are ignored.
func (s *Series) Set(hour int, v float64) {
	if !Valid(hour) {
		return
	}
	s.values[hour] = v
	s.present[hour] = true
}

// Add accumulates v into hour, treating an absent hour as zero.
func (s *Series) Add(hour int, v float64) {
	if !Valid(hour) {
		return
	}
	s.values[hour] += v
	s.present[hour] = true
}

// Unset removes hour from the series.
func (s *Series) Unset(hour int) {
	if !Valid(hour) {
		return
	}
	s.values[hour] = 0
	s.present[hour] = false
}

// Len is the number of hours that are set.
func (s Series) Len() int {
	var n int
	for _, p := range s.present {
		if p {
			n++
		}
	}
	return n
}

// Complete reports whether all 24 hours are set.
func (s Series) Complete() bool {
	return s.Len() == Hours
}

// Hours returns the set hours in ascending order.
func (s Series) Hours() []int {
	hours := make([]int, 0, Hours)
	for h, p := range s.present {
		if p {
			hours = append(hours, h)
		}
	}
	return hours
}

// Values returns all 24 values, zero for absent hours.
func (s Series) Values() []float64 {
	out := make([]float64, Hours)
	copy(out, s.values[:])
	return out
}

// Mean is the arithmetic mean of the set hours accepted by pred. A nil pred
// accepts every set hour.
func (s Series) Mean(pred func(hour int, v float64) bool) (float64, error) {
	vals := make([]float64, 0, Hours)
	for h := range Hours {
		if !s.present[h] {
			continue
		}
		if pred != nil && !pred(h, s.values[h]) {
			continue
		}
		vals = append(vals, s.values[h])
	}
	if len(vals) == 0 {
		return 0, ErrEmptySeries
	}
	return stat.Mean(vals, nil), nil
}

// Sum adds up every set hour.
func (s Series) Sum() float64 {
	return floats.Sum(s.values[:])
}

// Merge overlays the set hours of other on top of s.
func (s Series) Merge(other Series) Series {
	for h := range Hours {
		if other.present[h] {
			s.values[h] = other.values[h]
			s.present[h] = true
		}
	}
	return s
}

// Scale multiplies each hour of s by the same hour of factors. The result has
// all 24 hours set; an hour absent from either side becomes zero.
func (s Series) Scale(factors Series) Series {
	var out Series
	for h := range Hours {
		out.present[h] = true
		if s.present[h] && factors.present[h] {
			out.values[h] = s.values[h] * factors.values[h]
		}
	}
	return out
}

// Shift rotates the buckets so that hour h moves to (h+n) mod 24.
func (s Series) Shift(n int) Series {
	var out Series
	for h := range Hours {
		to := ((h+n)%Hours + Hours) % Hours
		out.values[to] = s.values[h]
		out.present[to] = s.present[h]
	}
	return out
}

// Average returns the per-hour mean across all series that set that hour.
// Hours set by none of them stay absent.
func Average(series ...Series) Series {
	var out Series
	for h := range Hours {
		vals := make([]float64, 0, len(series))
		for _, s := range series {
			if s.present[h] {
				vals = append(vals, s.values[h])
			}
		}
		if len(vals) > 0 {
			out.Set(h, stat.Mean(vals, nil))
		}
	}
	return out
}

// MarshalJSON encodes the set hours as an object keyed by hour.
func (s Series) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, Hours)
	for h := range Hours {
		if s.present[h] {
			m[strconv.Itoa(h)] = s.values[h]
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object keyed by hour.
func (s *Series) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*s = Series{}
	for k, v := range m {
		h, err := strconv.Atoi(k)
		if err != nil || !Valid(h) {
			return fmt.Errorf("invalid hour key %q", k)
		}
		s.Set(h, v)
	}
	return nil
}
