package types

import (
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
)

// SystemStatus represents the current inverter and battery state.
type SystemStatus struct {
	Timestamp         time.Time `json:"timestamp"`
	BatterySOC        float64   `json:"batterySOC"`        // 0-100
	BatteryCapacityWH float64   `json:"batteryCapacityWH"` // 0 when the inverter does not report it
	LoadW             float64   `json:"loadW"`
	SolarW            float64   `json:"solarW"`
	TimeOfUseEnabled  bool      `json:"timeOfUseEnabled"`
	// SoC target of the first Time-of-Use slot
	BoostSOC int `json:"boostSOC"`
}

// HourlyUsage is the measured energy of one day, one bucket per completed
// hour.
type HourlyUsage struct {
	Day   Day           `json:"day"`
	Load  hourly.Series `json:"load"`
	Solar hourly.Series `json:"solar"`
	// Highest battery SoC seen in each hour
	MaxSOC hourly.Series `json:"maxSOC"`
}

// ESSMockHour is the simulated energy of one hour.
type ESSMockHour struct {
	Start   time.Time `json:"start"`
	LoadWH  float64   `json:"loadWH"`
	SolarWH float64   `json:"solarWH"`
	MaxSOC  float64   `json:"maxSOC"`
}

// ESSMockState is the persisted state of the simulated ESS.
type ESSMockState struct {
	Timestamp        time.Time   `json:"timestamp"`
	BatterySOC       float64     `json:"batterySOC"`
	TimeOfUseEnabled bool        `json:"timeOfUseEnabled"`
	Window           BoostWindow `json:"window"`
	BoostSOC         int         `json:"boostSOC"`

	// keyed by the hour start in RFC3339 UTC
	Hours map[string]ESSMockHour `json:"hours"`
}
