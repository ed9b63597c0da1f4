// Package api provides the local admin HTTP surface of a running engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/regsync/internal/app"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

// Service is what the admin API drives. *app.App implements it.
type Service interface {
	SetNamedUser(ctx context.Context, id string) (bool, error)
	ClearNamedUser(ctx context.Context) (bool, error)
	EditTags(ctx context.Context, facet identity.TagFacet, add, remove model.TagGroups) error
	Enqueue(ctx context.Context, action model.Action, add, remove model.TagGroups) error
	Status(ctx context.Context) (app.Status, error)
}

var _ Service = (*app.App)(nil)

// ServerOption configures the admin server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	gatherer    prometheus.Gatherer
	middlewares []func(http.Handler) http.Handler
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(cfg *serverConfig) { cfg.gatherer = g }
}

// WithMiddlewares adds middleware to the server.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates the admin router.
func NewServer(svc Service, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{svc: svc}
	r.Get("/healthz", healthHandler)
	if cfg.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", h.submitTask)
		r.Post("/tags/{facet}", h.editTags)
		r.Put("/named-user", h.setNamedUser)
		r.Delete("/named-user", h.clearNamedUser)
		r.Get("/state", h.state)
	})
	return r
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Serve runs an HTTP server for handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
