package ess

import (
	"context"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
)

// System defines the interface for interacting with the inverter and battery.
type System interface {
	// GetStatus returns the current status of the system.
	GetStatus(ctx context.Context) (types.SystemStatus, error)

	// SetBoostWindow programs the first Time-of-Use slot to grid charge up to
	// soc between start and stop and enables Time-of-Use.
	SetBoostWindow(ctx context.Context, start, stop types.ClockTime, soc int) error

	// DisableTimeOfUse turns Time-of-Use off leaving the slots untouched.
	DisableTimeOfUse(ctx context.Context) error

	// HourlyUsage returns the measured load, solar and max SoC for each
	// completed hour of day in loc.
	HourlyUsage(ctx context.Context, day types.Day, loc *time.Location) (types.HourlyUsage, error)

	Close() error
}
