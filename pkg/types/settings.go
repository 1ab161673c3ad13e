package types

import (
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Mode decides whether the computed boost reaches the inverter.
type Mode string

const (
	// ModeAutomatic writes the calculated boost every day.
	ModeAutomatic Mode = "automatic"
	// ModeManual writes the user supplied ManualSOC every day.
	ModeManual Mode = "manual"
	// ModeTesting calculates but never writes.
	ModeTesting Mode = "testing"
	// ModeOff calculates and disables Time-of-Use on the inverter.
	ModeOff Mode = "off"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeAutomatic, ModeManual, ModeTesting, ModeOff:
		return true
	}
	return false
}

// Bounds for the configurable values.
const (
	MinSOC      = 5
	MaxSOC      = 99
	MinLoadDays = 1
	MaxLoadDays = 10
	MinPVDays   = 1
	MaxPVDays   = 60
)

// Forecaster names accepted in Settings.Forecaster.
const (
	ForecasterSolcast       = "solcast"
	ForecasterForecastSolar = "forecast_solar"
)

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	Mode Mode `json:"mode"`
	// SoC written in manual mode
	ManualSOC int `json:"manualSOC"`

	// Time-of-Use boost window written to the inverter
	BoostStart ClockTime `json:"boostStart"`
	BoostEnd   ClockTime `json:"boostEnd"`
	// Solve for the hours after the boost window until midnight instead of
	// the boost window itself.
	SolveAfterBoost bool `json:"solveAfterBoost"`

	// Local hour of the daily calculation
	UpdateHour int `json:"updateHour"`
	// When tomorrow's forecast is recorded
	RolloverTime ClockTime `json:"rolloverTime"`
	// IANA time zone, empty means the process local zone
	Timezone string `json:"timezone"`

	// Rolling history windows in days
	LoadDays int `json:"loadDays"`
	PVDays   int `json:"pvDays"`

	// Buffer percentage added on top of the worst shortfall
	MinBatterySOC float64 `json:"minBatterySOC"`
	// Usable battery capacity
	BatteryCapacityWH float64 `json:"batteryCapacityWH"`
	// Inverter efficiency in percent, load is divided by this
	InverterEfficiency float64 `json:"inverterEfficiency"`
	// Load assumed for hours with no history. Zero disables the fallback.
	DefaultLoadW float64 `json:"defaultLoadW"`
	// Hours at or above this SoC are treated as curtailed
	CurtailedSOC float64 `json:"curtailedSOC"`

	// Forecast provider name
	Forecaster string `json:"forecaster"`
}

// BoostWindow returns the configured boost window.
func (s Settings) BoostWindow() BoostWindow {
	return BoostWindow{Start: s.BoostStart, End: s.BoostEnd}
}

// SolveWindow returns the hours the shortfall is evaluated over.
func (s Settings) SolveWindow() BoostWindow {
	if s.SolveAfterBoost {
		return BoostWindow{Start: ClockTime{Hour: s.BoostEnd.Hour}, End: ClockTime{Hour: 0}}
	}
	return s.BoostWindow()
}

// Clamp forces every bounded value into its allowed range.
func (s Settings) Clamp() Settings {
	s.ManualSOC = clampInt(s.ManualSOC, MinSOC, MaxSOC)
	s.MinBatterySOC = min(max(s.MinBatterySOC, MinSOC), MaxSOC)
	s.LoadDays = clampInt(s.LoadDays, MinLoadDays, MaxLoadDays)
	s.PVDays = clampInt(s.PVDays, MinPVDays, MaxPVDays)
	s.UpdateHour = clampInt(s.UpdateHour, 0, 23)
	return s
}

// Validate checks the values that cannot be clamped.
func (s Settings) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("invalid mode: %q", s.Mode)
	}
	if s.BatteryCapacityWH <= 0 {
		return fmt.Errorf("battery capacity must be positive")
	}
	if s.InverterEfficiency <= 0 || s.InverterEfficiency > 100 {
		return fmt.Errorf("inverter efficiency must be in (0, 100]")
	}
	if s.DefaultLoadW < 0 {
		return fmt.Errorf("default load cannot be negative")
	}
	if s.CurtailedSOC <= 0 || s.CurtailedSOC > 100 {
		return fmt.Errorf("curtailed SoC must be in (0, 100]")
	}
	if s.LoadDays <= 0 || s.PVDays <= 0 {
		return fmt.Errorf("history windows must be at least one day")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	switch s.Forecaster {
	case "", ForecasterSolcast, ForecasterForecastSolar:
	default:
		return fmt.Errorf("unknown forecaster: %q", s.Forecaster)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.Mode == "" {
				s.Mode = ModeTesting
				migrated = true
			}
			if s.ManualSOC == 0 {
				s.ManualSOC = 50
				migrated = true
			}
			if s.BoostEnd == (ClockTime{}) {
				s.BoostEnd = ClockTime{Hour: 6}
				migrated = true
			}
			if s.UpdateHour == 0 {
				s.UpdateHour = 22
				migrated = true
			}
			if s.LoadDays == 0 {
				s.LoadDays = 4
				migrated = true
			}
			if s.PVDays == 0 {
				s.PVDays = 21
				migrated = true
			}
			if s.MinBatterySOC == 0 {
				s.MinBatterySOC = 20
				migrated = true
			}
			if s.BatteryCapacityWH == 0 {
				// 100Ah at a 56.2V float voltage
				s.BatteryCapacityWH = 5620
				migrated = true
			}
			if s.InverterEfficiency == 0 {
				s.InverterEfficiency = 96.6
				migrated = true
			}
			if s.DefaultLoadW == 0 {
				s.DefaultLoadW = 1000
				migrated = true
			}
		case 2:
			// version 2: separate rollover trigger
			if s.RolloverTime == (ClockTime{}) {
				s.RolloverTime = ClockTime{Hour: 23, Minute: 55}
				migrated = true
			}
		case 3:
			// version 3: curtailment detection
			if s.CurtailedSOC == 0 {
				s.CurtailedSOC = 98
				migrated = true
			}
		default:
			return s, migrated, fmt.Errorf("unknown settings version: %d", version)
		}
	}
	return s, migrated, nil
}
