package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gridboost/gridboost/pkg/controller"
	"github.com/gridboost/gridboost/pkg/ess"
	"github.com/gridboost/gridboost/pkg/forecast"
	"github.com/gridboost/gridboost/pkg/history"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/metrics"
	"github.com/gridboost/gridboost/pkg/storage"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Server runs the daily boost calculation and exposes it over HTTP.
// It orchestrates the forecast providers, the inverter and storage.
type Server struct {
	ess        ess.System
	storage    storage.Database
	forecasts  *forecast.Map
	controller *controller.Controller
	metrics    *metrics.Recorder

	// held for the whole of a tick and whenever the trackers are touched
	tickMu sync.Mutex
	pv     *history.PVTracker
	loads  *history.LoadTracker
	latest atomic.Pointer[types.BoostResult]

	listenAddr       string
	httpServer       *http.Server
	adminEmails      []string
	oidcVerifiers    map[string]tokenVerifier
	bypassAuth       bool
	internalSchedule bool
	serverName       string
	now              func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(e ess.System, db storage.Database, f *forecast.Map, m *metrics.Recorder) *Server {
	srv := newServer(e, db, f, m)
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to call the POST endpoints")
	oidcAudience := lflag.String("oidc-audience", "", "audience the bearer id tokens must be issued for")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "issuer of the bearer id tokens")
	internalSchedule := lflag.Bool("internal-schedule", false, "run the daily and rollover ticks in-process instead of waiting for an external scheduler")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers = map[string]tokenVerifier{
				*oidcIssuer: oidcVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience})),
			}
		}
		if len(srv.oidcVerifiers) == 0 {
			log.Ctx(context.Background()).Warn("no oidc-audience configured, POST endpoints are unauthenticated")
			srv.bypassAuth = true
		} else if len(srv.adminEmails) == 0 {
			log.Ctx(context.Background()).Error("admin-emails is required with oidc-audience")
			os.Exit(1)
		}
		srv.internalSchedule = *internalSchedule
	})

	return srv
}

func newServer(e ess.System, db storage.Database, f *forecast.Map, m *metrics.Recorder) *Server {
	return &Server{
		ess:        e,
		storage:    db,
		forecasts:  f,
		controller: controller.NewController(),
		metrics:    m,
		pv:         history.NewPVTracker(history.DefaultPVDays),
		loads:      history.NewLoadTracker(history.DefaultLoadDays),
		serverName: "gridboost",
		now:        time.Now,
	}
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/update", s.handleUpdate)
	apiMux.HandleFunc("POST /api/rollover", s.handleRollover)
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/history/results", s.handleHistoryResults)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(securityHeadersMiddleware(mux)))
}

// Run loads the persisted state, starts the HTTP server and, if enabled, the
// in-process scheduler. It blocks until the context is canceled or an error
// occurs and shuts down gracefully when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.loadState(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	if s.internalSchedule {
		go s.runScheduler(ctx)
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		// nothing here is meant to be rendered by a browser
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// location returns the zone of settings, falling back to the process zone.
func location(settings types.Settings) *time.Location {
	if settings.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
