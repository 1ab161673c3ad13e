package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

// staleAfter is how old the latest result may get before status flags it.
const staleAfter = 26 * time.Hour

// StatusRes is the response type for GetStatus.
type StatusRes struct {
	Result *types.BoostResult `json:"result"`
	// Timestamp of the latest result, zero if there is none
	LastSuccess time.Time `json:"lastSuccess"`
	Stale       bool      `json:"stale"`
	// When the battery was projected to run empty, if within 24 hours
	BatteryExhaustedAt *time.Time          `json:"batteryExhaustedAt,omitempty"`
	AdjustedForecastWH float64             `json:"adjustedForecastWH"`
	LoadWH             float64             `json:"loadWH"`
	System             *types.SystemStatus `json:"system,omitempty"`
	SystemError        string              `json:"systemError,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := s.latest.Load()

	var resp StatusRes
	if res != nil {
		resp.Result = res
		resp.LastSuccess = res.Timestamp
		resp.AdjustedForecastWH = res.AdjustedForecast.Sum()
		resp.LoadWH = res.LoadAverage.Sum()
		if res.BatteryHoursRemaining > 0 && res.BatteryHoursRemaining < 24 {
			at := res.Timestamp.Add(time.Duration(res.BatteryHoursRemaining * float64(time.Hour)))
			resp.BatteryExhaustedAt = &at
		}
	}
	resp.Stale = res == nil || s.now().Sub(res.Timestamp) > staleAfter

	if s.ess != nil {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		st, err := s.ess.GetStatus(sctx)
		cancel()
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get battery status", slog.Any("error", err))
			resp.SystemError = err.Error()
		} else {
			resp.System = &st
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}
