package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/gridboost/gridboost/pkg/controller"
	"github.com/gridboost/gridboost/pkg/history"
	"github.com/gridboost/gridboost/pkg/hourly"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/storage"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	days := 21
	lflag.JSON(&days, "seed-days", days, "number of days of history to generate")
	lflag.Configure()

	ctx := context.Background()
	log.Ctx(ctx).InfoContext(ctx, "seeding mock data", "days", days)

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	const (
		SolarPeakWH = 3500.0
		HomeAvgWH   = 700.0
	)

	settings, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build settings", "error", err)
		os.Exit(1)
	}
	settings.PVDays = min(max(days, types.MinPVDays), types.MaxPVDays)
	if err := s.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", "error", err)
		os.Exit(1)
	}

	pv := history.NewPVTracker(settings.PVDays)
	loads := history.NewLoadTracker(settings.LoadDays)
	c := controller.NewController()

	now := time.Now()
	today := types.DayOf(now)
	for day := today - types.Day(days) + 1; day <= today; day++ {
		// a cloudy day now and then
		weather := 0.4 + rng.Float64()*0.8
		var forecast, actual, load, maxSOC hourly.Series
		for h := range hourly.Hours {
			if h > 5 && h < 20 {
				dist := math.Abs(float64(h) - 13.0)
				f := SolarPeakWH * math.Exp(-(dist*dist)/10.0)
				forecast.Set(h, f)
				actual.Set(h, f*weather)
			}
			home := HomeAvgWH + rng.Float64()*300
			if h >= 18 && h < 22 {
				home += 1200 // Evening activities
			}
			load.Set(h, home)
			maxSOC.Set(h, min(100, 30+float64(h)*3))
		}

		if err := pv.RecordForecastSeries(day, forecast); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record forecast", "error", err)
			os.Exit(1)
		}
		for _, h := range actual.Hours() {
			if err := pv.RecordActual(day, h, actual.At(h)); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to record actual", "error", err)
				os.Exit(1)
			}
			if maxSOC.At(h) >= settings.CurtailedSOC {
				_ = pv.MarkCurtailed(day, h)
			}
		}
		if err := loads.RecordLoadSeries(day, load); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record load", "error", err)
			os.Exit(1)
		}

		ts := day.Start(time.Local).Add(time.Duration(settings.UpdateHour) * time.Hour)
		sol, err := c.Calculate(ctx, controller.Input{
			Now:      ts,
			Tomorrow: forecast,
			Ratios:   pv.Ratios(),
			Load:     loads.Averages(settings.DefaultLoadW),
			Settings: settings,
		})
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to calculate", "error", err)
			os.Exit(1)
		}
		res, _ := controller.Plan(types.BoostResult{
			TickID:           uuid.NewString(),
			Timestamp:        ts,
			Day:              day + 1,
			Forecaster:       types.ForecasterSolcast,
			CalculatedSOC:    sol.CalculatedSOC,
			RequiredPct:      sol.RequiredPct,
			PVRatio:          pv.Ratios(),
			RawForecast:      forecast,
			AdjustedForecast: sol.Adjusted,
			LoadAverage:      loads.Averages(settings.DefaultLoadW),
			Deficits:         sol.Deficits,
		}, 0, settings)
		if err := s.InsertResult(ctx, res); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed result", "error", err)
			os.Exit(1)
		}

		fmt.Printf("Seeded %s: forecast %.1fkWh, actual %.1fkWh, load %.1fkWh, boost %d%%\n",
			day, forecast.Sum()/1000, actual.Sum()/1000, load.Sum()/1000, sol.CalculatedSOC)
	}

	if err := s.SetPVHistory(ctx, pv.Snapshot(), types.CurrentHistoryVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed pv history", "error", err)
		os.Exit(1)
	}
	if err := s.SetLoadHistory(ctx, loads.Snapshot(), types.CurrentHistoryVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed load history", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
