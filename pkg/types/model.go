package types

import (
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
)

// Day identifies a calendar day as the number of days since 1970-01-01.
type Day int

// DayOf returns the calendar day of t in t's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	u := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Day(u.Unix() / 86400)
}

// Start returns midnight of the day in loc.
func (d Day) Start(loc *time.Location) time.Time {
	u := time.Unix(int64(d)*86400, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
}

func (d Day) String() string {
	return time.Unix(int64(d)*86400, 0).UTC().Format(time.DateOnly)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return 0, err
	}
	return DayOf(t), nil
}

// CurrentHistoryVersion is the version of the persisted history blobs.
const CurrentHistoryVersion = 1

// ForecastSample is one hour of forecast and, once known, measured PV.
type ForecastSample struct {
	Hour     int     `json:"hour"`
	Forecast float64 `json:"forecast"`
	// nil while the hour is pending
	Actual    *float64 `json:"actual,omitempty"`
	Curtailed bool     `json:"curtailed,omitempty"`
}

// PVDay holds the samples recorded for a day.
type PVDay struct {
	Day     Day              `json:"day"`
	Samples []ForecastSample `json:"samples"`
}

// PVHistory is the persisted form of the PV accuracy tracker.
type PVHistory struct {
	Days []PVDay `json:"days"`
}

// LoadDay holds the measured load for a day.
type LoadDay struct {
	Day  Day           `json:"day"`
	Load hourly.Series `json:"load"`
}

// LoadHistory is the persisted form of the load tracker.
type LoadHistory struct {
	Days []LoadDay `json:"days"`
}

// BoostResult is the outcome of one daily calculation.
type BoostResult struct {
	TickID    string    `json:"tickID"`
	Timestamp time.Time `json:"timestamp"`
	// Day the boost is for
	Day        Day         `json:"day"`
	Mode       Mode        `json:"mode"`
	Window     BoostWindow `json:"window"`
	Forecaster string      `json:"forecaster"`

	CalculatedSOC int `json:"calculatedSOC"`
	ManualSOC     int `json:"manualSOC"`
	// What was actually sent to the inverter
	AppliedSOC int `json:"appliedSOC"`

	// Worst shortfall before the buffer, in percent of capacity
	RequiredPct           float64 `json:"requiredPct"`
	BatteryHoursRemaining float64 `json:"batteryHoursRemaining"`

	PVRatio          hourly.Series `json:"pvRatio"`
	RawForecast      hourly.Series `json:"rawForecast"`
	AdjustedForecast hourly.Series `json:"adjustedForecast"`
	LoadAverage      hourly.Series `json:"loadAverage"`
	Deficits         hourly.Series `json:"deficits"`

	Written    bool   `json:"written"`
	WriteError string `json:"writeError,omitempty"`
}
