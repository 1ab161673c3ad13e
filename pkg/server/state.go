package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gridboost/gridboost/pkg/history"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/storage"
	"github.com/gridboost/gridboost/pkg/types"
)

// loadState restores the trackers and the latest result from storage. A
// corrupt history starts over empty, any other storage error is fatal.
func (s *Server) loadState(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	pvHist, pvVersion, err := s.storage.GetPVHistory(ctx)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		log.Ctx(ctx).WarnContext(ctx, "pv history is corrupt, starting empty", slog.Any("error", err))
		pvHist = types.PVHistory{}
	case err != nil:
		return fmt.Errorf("failed to get pv history: %w", err)
	case pvVersion > types.CurrentHistoryVersion:
		log.Ctx(ctx).WarnContext(ctx, "pv history is from a newer version, starting empty", slog.Int("version", pvVersion))
		pvHist = types.PVHistory{}
	}
	pv, skipped := history.RestorePV(pvHist, settings.PVDays)
	if skipped > 0 {
		log.Ctx(ctx).WarnContext(ctx, "skipped pv samples", slog.Int("skipped", skipped))
	}

	loadHist, loadVersion, err := s.storage.GetLoadHistory(ctx)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		log.Ctx(ctx).WarnContext(ctx, "load history is corrupt, starting empty", slog.Any("error", err))
		loadHist = types.LoadHistory{}
	case err != nil:
		return fmt.Errorf("failed to get load history: %w", err)
	case loadVersion > types.CurrentHistoryVersion:
		log.Ctx(ctx).WarnContext(ctx, "load history is from a newer version, starting empty", slog.Int("version", loadVersion))
		loadHist = types.LoadHistory{}
	}
	loads, skipped := history.RestoreLoad(loadHist, settings.LoadDays)
	if skipped > 0 {
		log.Ctx(ctx).WarnContext(ctx, "skipped load samples", slog.Int("skipped", skipped))
	}

	latest, err := s.storage.GetLatestResult(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return fmt.Errorf("failed to get latest result: %w", err)
		}
		log.Ctx(ctx).WarnContext(ctx, "latest result is corrupt", slog.Any("error", err))
		latest = nil
	}

	s.pv = pv
	s.loads = loads
	if latest != nil {
		s.latest.Store(latest)
	}
	log.Ctx(ctx).InfoContext(ctx, "loaded state",
		slog.Int("pvDays", len(pv.Days())),
		slog.Int("loadDays", len(loads.Days())),
		slog.Bool("hasResult", latest != nil),
	)
	return nil
}

// resizeTrackers applies the window lengths of settings. The caller holds
// tickMu.
func (s *Server) resizeTrackers(ctx context.Context, settings types.Settings) {
	if s.pv.Capacity() != settings.PVDays {
		log.Ctx(ctx).InfoContext(ctx, "resizing pv history", slog.Int("from", s.pv.Capacity()), slog.Int("to", settings.PVDays))
		s.pv.Resize(settings.PVDays)
	}
	if s.loads.Capacity() != settings.LoadDays {
		log.Ctx(ctx).InfoContext(ctx, "resizing load history", slog.Int("from", s.loads.Capacity()), slog.Int("to", settings.LoadDays))
		if err := s.loads.Resize(settings.LoadDays); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to resize load history", slog.Any("error", err))
		}
	}
}

// saveHistories persists both trackers. The caller holds tickMu.
func (s *Server) saveHistories(ctx context.Context) error {
	var errs []error
	if err := s.storage.SetPVHistory(ctx, s.pv.Snapshot(), types.CurrentHistoryVersion); err != nil {
		errs = append(errs, fmt.Errorf("failed to save pv history: %w", err))
	}
	if err := s.storage.SetLoadHistory(ctx, s.loads.Snapshot(), types.CurrentHistoryVersion); err != nil {
		errs = append(errs, fmt.Errorf("failed to save load history: %w", err))
	}
	return errors.Join(errs...)
}
