package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

// SimHour represents one step of the simulated battery.
type SimHour struct {
	TS   time.Time `json:"ts"`
	Hour int       `json:"hour"`
	// Portion of the hour covered by this step
	Fraction  float64 `json:"fraction"`
	LoadWH    float64 `json:"loadWH"`
	SolarWH   float64 `json:"solarWH"`
	NetWH     float64 `json:"netWH"`
	BatteryWH float64 `json:"batteryWH"`
	Depleted  bool    `json:"depleted"`
}

const simHorizonHours = 24

// SimulateBattery steps the battery forward hour by hour from now, draining
// it by load minus PV. It returns how many hours pass before it is empty,
// capped at 24, along with the simulated steps. todayPV covers the rest of
// the current day and tomorrowPV everything after midnight.
func (c *Controller) SimulateBattery(
	ctx context.Context,
	now time.Time,
	status types.SystemStatus,
	capacityWH float64,
	efficiency float64,
	load hourly.Series,
	todayPV hourly.Series,
	tomorrowPV hourly.Series,
) (float64, []SimHour) {
	if status.BatteryCapacityWH > 0 {
		capacityWH = status.BatteryCapacityWH
	}
	energy := capacityWH * status.BatterySOC / 100
	today := types.DayOf(now)

	sim := make([]SimHour, 0, simHorizonHours+1)
	var elapsed float64
	t := now
	for elapsed < simHorizonHours {
		h := t.Hour()
		next := time.Date(t.Year(), t.Month(), t.Day(), h+1, 0, 0, 0, t.Location())
		frac := min(next.Sub(t).Hours(), simHorizonHours-elapsed)

		pv := tomorrowPV
		if types.DayOf(t) == today {
			pv = todayPV
		}
		loadWH := load.At(h) * 100 / efficiency * frac
		solarWH := pv.At(h) * frac
		net := loadWH - solarWH

		step := SimHour{
			TS:       t,
			Hour:     h,
			Fraction: frac,
			LoadWH:   loadWH,
			SolarWH:  solarWH,
			NetWH:    net,
		}
		if net > 0 && energy-net <= 0 {
			// runs out part way through this step
			elapsed += frac * energy / net
			step.BatteryWH = 0
			step.Depleted = true
			sim = append(sim, step)
			log.Ctx(ctx).DebugContext(ctx, "battery depleted in simulation", slog.Time("at", t), slog.Float64("hours", elapsed))
			return elapsed, sim
		}
		energy = min(energy-net, capacityWH)
		step.BatteryWH = energy
		sim = append(sim, step)

		elapsed += frac
		t = next
	}
	return simHorizonHours, sim
}
