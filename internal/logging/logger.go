// Package logging provides the slog setup shared by the controller and the
// demo command: a trace-id-injecting handler, context helpers, and masking
// for the two sensitive strings (email address, license key) that must
// never appear unredacted in a log line.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const traceIDContextKey contextKey = "trace_id"

// New builds a *slog.Logger at the given level ("debug", "info", "warn",
// "error") in either "json" or "text" format, wrapped so every record
// picks up a trace_id attribute from its context automatically.
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(&traceHandler{Handler: handler})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// traceHandler injects trace_id into every record that flows through a
// context carrying one.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := TraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// ContextWithTraceID attaches traceID to ctx so every log record and span
// derived from it can be correlated.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey, traceID)
}

// TraceID returns the trace id carried by ctx, or "" if none was attached.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDContextKey).(string); ok {
		return id
	}
	return ""
}

// MaskEmail redacts everything but the first character and the domain of
// an email address, e.g. "j***@example.com".
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "****"
	}
	return email[:1] + "***" + email[at:]
}

// MaskLicenseKey redacts the middle of a license key, keeping only the
// first and last four characters, e.g. "ABCD****WXYZ".
func MaskLicenseKey(licenseKey string) string {
	if len(licenseKey) <= 8 {
		return "****"
	}
	return licenseKey[:4] + "****" + licenseKey[len(licenseKey)-4:]
}
