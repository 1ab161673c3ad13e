package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

// TimeOfUse is the part of the inverter the mode controller writes to.
type TimeOfUse interface {
	SetBoostWindow(ctx context.Context, start, stop types.ClockTime, soc int) error
	DisableTimeOfUse(ctx context.Context) error
}

// IntentKind is the kind of write a mode asks for.
type IntentKind string

const (
	IntentSetBoostWindow   IntentKind = "setBoostWindow"
	IntentDisableTimeOfUse IntentKind = "disableTimeOfUse"
)

// WriteIntent describes the single inverter write of a tick.
type WriteIntent struct {
	Kind   IntentKind        `json:"kind"`
	Window types.BoostWindow `json:"window"`
	SOC    int               `json:"soc"`
}

// Plan decides what the tick commits for the active mode. res must carry the
// calculated SoC; prior is the last committed applied SoC. Plan has no side
// effects, a nil intent means nothing is written.
func Plan(res types.BoostResult, prior int, settings types.Settings) (types.BoostResult, *WriteIntent) {
	res.Mode = settings.Mode
	res.ManualSOC = settings.ManualSOC
	res.Window = settings.BoostWindow()

	switch settings.Mode {
	case types.ModeAutomatic:
		res.AppliedSOC = res.CalculatedSOC
		return res, &WriteIntent{Kind: IntentSetBoostWindow, Window: res.Window, SOC: res.CalculatedSOC}
	case types.ModeManual:
		manual := min(max(settings.ManualSOC, types.MinSOC), types.MaxSOC)
		res.AppliedSOC = manual
		return res, &WriteIntent{Kind: IntentSetBoostWindow, Window: res.Window, SOC: manual}
	case types.ModeOff:
		res.AppliedSOC = prior
		return res, &WriteIntent{Kind: IntentDisableTimeOfUse}
	default:
		// testing and anything unknown never touch the inverter
		res.AppliedSOC = prior
		return res, nil
	}
}

// Execute performs intent against the inverter.
func Execute(ctx context.Context, tou TimeOfUse, intent WriteIntent) error {
	switch intent.Kind {
	case IntentSetBoostWindow:
		return tou.SetBoostWindow(ctx, intent.Window.Start, intent.Window.End, intent.SOC)
	case IntentDisableTimeOfUse:
		return tou.DisableTimeOfUse(ctx)
	default:
		return fmt.Errorf("unknown write intent: %q", intent.Kind)
	}
}

// Apply executes the planned intent and finalizes res. A failed write keeps
// prior as the applied SoC and records the error.
func Apply(ctx context.Context, tou TimeOfUse, res types.BoostResult, prior int, intent *WriteIntent) types.BoostResult {
	if intent == nil {
		log.Ctx(ctx).InfoContext(ctx, "not writing boost", slog.String("mode", string(res.Mode)), slog.Int("calculatedSOC", res.CalculatedSOC))
		return res
	}
	if tou == nil {
		res.AppliedSOC = prior
		res.WriteError = "no inverter configured"
		return res
	}
	if err := Execute(ctx, tou, *intent); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to write to inverter", slog.String("intent", string(intent.Kind)), slog.Any("error", err))
		res.AppliedSOC = prior
		res.WriteError = err.Error()
		return res
	}
	res.Written = true
	log.Ctx(ctx).InfoContext(ctx, "wrote boost",
		slog.String("intent", string(intent.Kind)),
		slog.Int("soc", intent.SOC),
		slog.String("start", intent.Window.Start.String()),
		slog.String("end", intent.Window.End.String()),
	)
	return res
}
