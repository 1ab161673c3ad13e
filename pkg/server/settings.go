package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
)

// getSettingsWithMigration reads the settings and brings them up to
// types.CurrentSettingsVersion, saving the result when anything changed.
func (s *Server) getSettingsWithMigration(ctx context.Context) (types.Settings, error) {
	settings, version, err := s.storage.GetSettings(ctx)
	if err != nil {
		return types.Settings{}, err
	}

	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// best effort, keep going with what we have
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			settings = newSettings
			if err := s.storage.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
				// the migrated settings still serve this request
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			}
		}
	}
	return settings.Clamp(), nil
}

// SettingsRes is the response type for GetSettings.
type SettingsRes struct {
	types.Settings
	Forecasters []string `json:"forecasters"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	var forecasters []string
	if s.forecasts != nil {
		forecasters = s.forecasts.Names()
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, SettingsRes{
		Settings:    settings,
		Forecasters: forecasters,
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// fields missing from the body keep their stored values
	newSettings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&newSettings); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := newSettings.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if newSettings.Forecaster != "" && s.forecasts != nil {
		if _, err := s.forecasts.Provider(newSettings.Forecaster); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	newSettings = newSettings.Clamp()

	// the trackers must not change size in the middle of a tick
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if err := s.storage.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	s.resizeTrackers(ctx, newSettings)
	if err := s.saveHistories(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save resized histories", slog.Any("error", err))
	}

	log.Ctx(ctx).InfoContext(ctx, "settings updated", slog.String("mode", string(newSettings.Mode)))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, SettingsRes{
		Settings: newSettings,
	})
}
