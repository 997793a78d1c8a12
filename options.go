package licensekit

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"licensekit/internal/cryptoadapter"
	"licensekit/internal/telemetry"
)

const (
	defaultRateLimitRPS   = 5
	defaultRateLimitBurst = 10
)

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithAdapter overrides the cryptographic adapter used for hashing,
// sealing, and signature verification. Hosts only need this for testing;
// production callers should use the default.
func WithAdapter(adapter cryptoadapter.Adapter) Option {
	return func(c *Controller) { c.adapter = adapter }
}

// WithLogger overrides the structured logger the controller writes to: one
// entry per SetProductData, Validate, Activate, and StartTrial call.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTracer attaches a tracer so activate/validate calls are wrapped in
// spans. Spans are only recorded when WithMetrics is also given; without
// both options, tracing is a no-op.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

// WithMetrics attaches the activation-lifecycle metrics recorded on every
// activate/validate call. Metrics are only recorded when WithTracer is
// also given; without both options, metrics recording is a no-op.
func WithMetrics(metrics *telemetry.ActivationMetrics) Option {
	return func(c *Controller) { c.metrics = metrics }
}

// WithRateLimit overrides the server client's self-throttling of outbound
// calls to the license server.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Controller) {
		c.rateLimitRPS = requestsPerSecond
		c.rateLimitBurst = burst
	}
}

// WithDatabaseFile pins the local store to an exact path instead of the
// OS-conventional per-organisation path SetProductData would otherwise
// resolve. Intended for tests; production hosts should not need this.
func WithDatabaseFile(path string) Option {
	return func(c *Controller) { c.databaseFileOverride = path }
}
