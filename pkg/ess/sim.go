package ess

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gridboost/gridboost/pkg/storage"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	simCapacityWH   = 5620.0
	simMaxChargeW   = 3000.0
	simMaxDischarge = 5000.0
	simMinSOC       = 20.0
	simStep         = 5 * time.Minute
	simRetention    = 72 * time.Hour
)

// Sim is a simulated inverter whose state is persisted in storage so it
// survives restarts. Load follows a daily sine, solar a bell curve peaking at
// 13:00, and Time-of-Use grid charges inside the window up to the boost SoC.
type Sim struct {
	mu         sync.Mutex
	db         storage.Database
	location   *time.Location
	solarPeakW float64 // W
	now        func() time.Time
}

func configuredSim(db storage.Database) *Sim {
	location := lflag.String("sim-location", "America/Chicago", "timezone the simulated house lives in")
	solarPeakW := 3000.0
	lflag.JSON(&solarPeakW, "sim-solar-peak-w", solarPeakW, "peak simulated solar output in W")

	s := &Sim{db: db, now: time.Now}
	lflag.Do(func() {
		loc, err := time.LoadLocation(*location)
		if err != nil {
			panic(fmt.Sprintf("invalid sim-location: %v", err))
		}
		s.location = loc
		s.solarPeakW = solarPeakW
	})
	return s
}

// NewSim returns a Sim persisting to db.
func NewSim(db storage.Database, loc *time.Location) *Sim {
	return &Sim{
		db:         db,
		location:   loc,
		solarPeakW: 3000,
		now:        time.Now,
	}
}

func simLoadW(hour float64) float64 {
	return max(600+400*math.Sin((hour-6)/24*2*math.Pi), 300)
}

func (s *Sim) simSolarW(hour float64) float64 {
	if hour < 6 || hour > 19 {
		return 0
	}
	return s.solarPeakW * math.Sin((hour-6)/13*math.Pi)
}

// advanceState steps the simulation from state.Timestamp to now.
func (s *Sim) advanceState(state *types.ESSMockState, now time.Time) {
	if state.Hours == nil {
		state.Hours = make(map[string]types.ESSMockHour)
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = now
		state.BatterySOC = 50
	}

	stepStart := state.Timestamp
	for stepStart.Before(now) {
		// steps end on 5 minute boundaries so they never span two hours
		stepEnd := stepStart.Add(simStep).Truncate(simStep)
		if stepEnd.After(now) {
			stepEnd = now
		}
		hours := stepEnd.Sub(stepStart).Hours()
		mid := stepStart.Add(stepEnd.Sub(stepStart) / 2).In(s.location)
		hour := float64(mid.Hour()) + float64(mid.Minute())/60

		loadW := simLoadW(hour)
		solarW := s.simSolarW(hour)
		net := solarW - loadW

		spaceWH := (100 - state.BatterySOC) / 100 * simCapacityWH
		usableWH := max(state.BatterySOC-simMinSOC, 0) / 100 * simCapacityWH

		var batteryW float64 // positive charges
		if net > 0 {
			batteryW = min(net, simMaxChargeW, spaceWH/hours)
		} else {
			batteryW = -min(-net, simMaxDischarge, usableWH/hours)
		}
		// inside the window the grid carries the load and tops the battery up
		if state.TimeOfUseEnabled && state.Window.Contains(mid) {
			targetWH := max(float64(state.BoostSOC)-state.BatterySOC, 0) / 100 * simCapacityWH
			batteryW = max(batteryW, min(simMaxChargeW, targetWH/hours))
		}

		state.BatterySOC = min(max(state.BatterySOC+batteryW*hours/simCapacityWH*100, 0), 100)

		hourStart := stepStart.Truncate(time.Hour)
		key := hourStart.UTC().Format(time.RFC3339)
		h := state.Hours[key]
		if h.Start.IsZero() {
			h.Start = hourStart.UTC()
		}
		h.LoadWH += loadW * hours
		h.SolarWH += solarW * hours
		h.MaxSOC = max(h.MaxSOC, state.BatterySOC)
		state.Hours[key] = h

		stepStart = stepEnd
	}
	state.Timestamp = now

	cutoff := now.Add(-simRetention)
	for k, h := range state.Hours {
		if h.Start.Before(cutoff) {
			delete(state.Hours, k)
		}
	}
}

// load reads and advances the persisted state. The caller holds s.mu.
func (s *Sim) load(ctx context.Context) (types.ESSMockState, error) {
	if s.db == nil {
		return types.ESSMockState{}, errors.New("sim has no storage")
	}
	state, err := s.db.GetESSMockState(ctx)
	if err != nil {
		return state, fmt.Errorf("failed to get sim state: %w", err)
	}
	s.advanceState(&state, s.now())
	return state, nil
}

func (s *Sim) save(ctx context.Context, state types.ESSMockState) error {
	if err := s.db.UpdateESSMockState(ctx, state); err != nil {
		return fmt.Errorf("failed to update sim state: %w", err)
	}
	return nil
}

// GetStatus advances the simulation to now and returns its state.
func (s *Sim) GetStatus(ctx context.Context) (types.SystemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx)
	if err != nil {
		return types.SystemStatus{}, err
	}
	if err := s.save(ctx, state); err != nil {
		return types.SystemStatus{}, err
	}
	local := state.Timestamp.In(s.location)
	hour := float64(local.Hour()) + float64(local.Minute())/60
	return types.SystemStatus{
		Timestamp:         state.Timestamp,
		BatterySOC:        state.BatterySOC,
		BatteryCapacityWH: simCapacityWH,
		LoadW:             simLoadW(hour),
		SolarW:            s.simSolarW(hour),
		TimeOfUseEnabled:  state.TimeOfUseEnabled,
		BoostSOC:          state.BoostSOC,
	}, nil
}

// SetBoostWindow advances the simulation with the current program and then
// switches to the new one.
func (s *Sim) SetBoostWindow(ctx context.Context, start, stop types.ClockTime, soc int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx)
	if err != nil {
		return err
	}
	state.TimeOfUseEnabled = true
	state.Window = types.BoostWindow{Start: start, End: stop}
	state.BoostSOC = soc
	return s.save(ctx, state)
}

// DisableTimeOfUse stops grid charging.
func (s *Sim) DisableTimeOfUse(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx)
	if err != nil {
		return err
	}
	state.TimeOfUseEnabled = false
	return s.save(ctx, state)
}

// HourlyUsage returns the simulated usage of every completed hour of day.
func (s *Sim) HourlyUsage(ctx context.Context, day types.Day, loc *time.Location) (types.HourlyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx)
	if err != nil {
		return types.HourlyUsage{}, err
	}
	if err := s.save(ctx, state); err != nil {
		return types.HourlyUsage{}, err
	}

	u := types.HourlyUsage{Day: day}
	for _, h := range state.Hours {
		start := h.Start.In(loc)
		if types.DayOf(start) != day || h.Start.Add(time.Hour).After(state.Timestamp) {
			continue
		}
		u.Load.Add(start.Hour(), h.LoadWH)
		u.Solar.Add(start.Hour(), h.SolarWH)
		if prev, ok := u.MaxSOC.Get(start.Hour()); !ok || h.MaxSOC > prev {
			u.MaxSOC.Set(start.Hour(), h.MaxSOC)
		}
	}
	return u, nil
}

func (s *Sim) Close() error {
	return nil
}
