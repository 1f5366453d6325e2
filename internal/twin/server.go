// Package twin is an in-process double of a Koha instance: the REST API
// endpoints the load scenario calls, plus minimal staff and OPAC pages that
// carry the same element ids and classes as the real templates.
package twin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/studiowebux/kohaload/internal/logging"
)

// Config holds the twin's runtime settings
type Config struct {
	Addr     string        `mapstructure:"addr"`
	User     string        `mapstructure:"user"`
	Pass     string        `mapstructure:"pass"`
	Latency  time.Duration `mapstructure:"latency"`
	FailRate float64       `mapstructure:"fail_rate"`
	// RestrictPatrons marks every new patron as restricted so checkout needs an override
	RestrictPatrons bool `mapstructure:"restrict_patrons"`
	// LocalLogin renders the #locallogin_button shown when SSO is enabled
	LocalLogin bool `mapstructure:"local_login"`
	Verbose    bool `mapstructure:"verbose"`
}

// DefaultConfig returns the settings used by tests and `kohaload twin`
func DefaultConfig() Config {
	return Config{
		Addr: "127.0.0.1:8080",
		User: "koha",
		Pass: "koha",
	}
}

// Twin serves the fake Koha instance
type Twin struct {
	cfg    Config
	store  *MemoryStore
	router *chi.Mux
	logger *slog.Logger
	mu     sync.RWMutex
}

// New builds the router over a fresh store
func New(cfg Config, logger *slog.Logger) *Twin {
	if logger == nil {
		logger = logging.Discard()
	}
	t := &Twin{
		cfg:    cfg,
		store:  NewStore(cfg.RestrictPatrons),
		router: chi.NewRouter(),
		logger: logger,
	}

	t.router.Use(chimw.RequestID)
	t.router.Use(chimw.Recoverer)
	t.router.Use(t.requestLog)
	t.router.Use(t.latencyInjection)

	t.router.Route("/api/v1", func(r chi.Router) {
		r.Use(t.randomFailure)
		r.Use(t.basicAuth)
		t.apiRoutes(r)
	})
	t.router.Route("/admin", func(r chi.Router) {
		r.Get("/state", t.handleState)
		r.Post("/reset", t.handleReset)
	})
	t.pageRoutes(t.router)
	return t
}

// Store exposes the backing store for inspection in tests
func (t *Twin) Store() *MemoryStore {
	return t.store
}

// ServeHTTP implements http.Handler so a Twin can back an httptest.Server
func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.router.ServeHTTP(w, r)
}

// SetFailRate changes the API failure probability at runtime
func (t *Twin) SetFailRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.FailRate = rate
}

func (t *Twin) config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Serve listens on cfg.Addr until ctx is cancelled
func (t *Twin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         t.cfg.Addr,
		Handler:      t,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting koha twin", "addr", t.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	t.logger.Info("shutting down koha twin")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (t *Twin) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.store.Snapshot())
}

func (t *Twin) handleReset(w http.ResponseWriter, r *http.Request) {
	t.store.Reset()
	t.logger.Info("twin state reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// statusRecorder captures the status code written by downstream handlers
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (t *Twin) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		if t.config().Verbose {
			t.logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.statusCode,
				"duration", time.Since(start),
			)
		}
	})
}

// latencyInjection delays every request by 80-120% of the configured latency
func (t *Twin) latencyInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if latency := t.config().Latency; latency > 0 {
			jitter := 0.8 + rand.Float64()*0.4
			select {
			case <-time.After(time.Duration(float64(latency) * jitter)):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Twin) randomFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rate := t.config().FailRate; rate > 0 && rand.Float64() < rate {
			writeError(w, http.StatusInternalServerError, "simulated random failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Twin) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := t.config()
		user, pass, ok := r.BasicAuth()
		if !ok || user != cfg.User || pass != cfg.Pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Koha"`)
			writeError(w, http.StatusUnauthorized, "Authentication failure.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError renders errors the way the Koha API does
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
