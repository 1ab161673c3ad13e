package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClockTime is a wall clock time of day with minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	var c ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid time %q: out of range", s)
	}
	return c, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// HHMM returns the time as a single number, e.g. 06:30 is 630.
func (c ClockTime) HHMM() int {
	return c.Hour*100 + c.Minute
}

// On returns the instant of c on the calendar day of t in t's location.
func (c ClockTime) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, t.Location())
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// BoostWindow is the early hours period in which the battery may charge from
// the grid. It wraps across midnight when End is before Start.
type BoostWindow struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Hours lists the hour buckets from the start hour up to, but not including,
// the end hour. Equal start and end hours cover the whole day.
func (w BoostWindow) Hours() []int {
	start, end := w.Start.Hour, w.End.Hour
	n := (end - start + 24) % 24
	if n == 0 {
		n = 24
	}
	hours := make([]int, n)
	for i := range hours {
		hours[i] = (start + i) % 24
	}
	return hours
}

// Contains checks if t's hour falls inside the window.
func (w BoostWindow) Contains(t time.Time) bool {
	h := t.Hour()
	start, end := w.Start.Hour, w.End.Hour
	switch {
	case start == end:
		return true
	case start < end:
		return h >= start && h < end
	default:
		return h >= start || h < end
	}
}
