package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"licensekit"
	"licensekit/internal/logging"
	"licensekit/internal/telemetry"
)

// requestID mints a per-request correlation id the same way the teacher's
// RequestID middleware does, threading it through context into log
// records.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.ContextWithTraceID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "request handled",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("trace_id", logging.TraceID(r.Context())),
			)
		})
	}
}

func newRouter(controller *licensekit.Controller, providers *telemetry.Providers, logger *slog.Logger, metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	h := &apiHandler{controller: controller, logger: logger, validate: newValidator()}

	r.Get("/healthz", h.healthz)
	r.Get("/status", h.status)
	r.Post("/activate", h.activate)
	r.Post("/trial", h.trial)

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, providers.PrometheusHTTP)

	return r
}

func withTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
