// Package admin serves the optimizer's operational HTTP surface: probes,
// Prometheus metrics, loop status and an explicit checkpoint trigger.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/stream-optimizer/internal/control"
	"github.com/mohammed-shakir/stream-optimizer/internal/health"
	"github.com/mohammed-shakir/stream-optimizer/internal/metrics"
	imw "github.com/mohammed-shakir/stream-optimizer/internal/middleware"
	"github.com/mohammed-shakir/stream-optimizer/internal/observability"
	"github.com/mohammed-shakir/stream-optimizer/internal/telemetry"
)

// Controller is the part of the control loop the admin surface reads.
type Controller interface {
	Status() control.Status
	Last() (control.Recommendation, bool)
	SaveModels(ctx context.Context) error
	History() *telemetry.History
}

type Options struct {
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Provider *metrics.Provider
	Ready    map[string]health.Check
}

const defaultHistoryN = 100

func NewRouter(c Controller, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With("component", "admin")

	r := chi.NewRouter()
	r.Use(imw.Recover(log))
	r.Use(imw.Logging(log, opts.Metrics.ObserveHTTP))
	r.Use(imw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Ready))
	if opts.Provider.Enabled() {
		r.Method(http.MethodGet, opts.Provider.Path(), opts.Provider.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, c.Status())
		})
		r.Get("/recommendation", func(w http.ResponseWriter, _ *http.Request) {
			rec, ok := c.Last()
			if !ok {
				writeJSON(w, http.StatusNotFound, errBody("no recommendation yet"))
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})
		r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
			n := defaultHistoryN
			if v := req.URL.Query().Get("n"); v != "" {
				parsed, err := strconv.Atoi(v)
				if err != nil || parsed <= 0 {
					writeJSON(w, http.StatusBadRequest, errBody("n must be a positive integer"))
					return
				}
				n = parsed
			}
			writeJSON(w, http.StatusOK, c.History().Recent(n))
		})
		r.Post("/checkpoint", func(w http.ResponseWriter, req *http.Request) {
			if err := c.SaveModels(req.Context()); err != nil {
				log.ErrorContext(req.Context(), "checkpoint save failed", "err", err)
				writeJSON(w, http.StatusInternalServerError, errBody(err.Error()))
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
		})
	})
	return r
}

func errBody(msg string) map[string]string { return map[string]string{"error": msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves h on addr until ctx is done.
func Run(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
