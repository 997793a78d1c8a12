package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ActivationMetrics holds the counters and histograms for the activation
// lifecycle: activate, start trial, validate, refresh. TraceActivate and
// TraceValidate record the activation and validation instruments; nothing
// in this module records the trial, refresh, or local-activation ones.
type ActivationMetrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	TrialAttempts metric.Int64Counter
	TrialSuccess  metric.Int64Counter
	TrialFailures metric.Int64Counter

	ValidationChecks   metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	RefreshDuration       metric.Float64Histogram
	RefreshActivationsSet metric.Int64Histogram
	LocalActivationsTotal metric.Int64UpDownCounter
}

// NewActivationMetrics registers the activation-lifecycle instruments on
// meter.
func NewActivationMetrics(meter metric.Meter) (*ActivationMetrics, error) {
	m := &ActivationMetrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter(
		"licensekit_activation_attempts_total",
		metric.WithDescription("Total number of activation attempts"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.ActivationSuccess, err = meter.Int64Counter(
		"licensekit_activation_success_total",
		metric.WithDescription("Total number of successful activations"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.ActivationFailures, err = meter.Int64Counter(
		"licensekit_activation_failures_total",
		metric.WithDescription("Total number of failed activations"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.ActivationDuration, err = meter.Float64Histogram(
		"licensekit_activation_duration_seconds",
		metric.WithDescription("Activation request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.TrialAttempts, err = meter.Int64Counter(
		"licensekit_trial_attempts_total",
		metric.WithDescription("Total number of trial start attempts"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.TrialSuccess, err = meter.Int64Counter(
		"licensekit_trial_success_total",
		metric.WithDescription("Total number of successful trial starts"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.TrialFailures, err = meter.Int64Counter(
		"licensekit_trial_failures_total",
		metric.WithDescription("Total number of failed trial starts"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.ValidationChecks, err = meter.Int64Counter(
		"licensekit_validation_checks_total",
		metric.WithDescription("Total number of activation validation checks"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.ValidationFailures, err = meter.Int64Counter(
		"licensekit_validation_failures_total",
		metric.WithDescription("Total number of validation checks that did not resolve to Valid"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.ValidationDuration, err = meter.Float64Histogram(
		"licensekit_validation_duration_seconds",
		metric.WithDescription("Validation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.RefreshDuration, err = meter.Float64Histogram(
		"licensekit_refresh_duration_seconds",
		metric.WithDescription("Server refresh round-trip duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.RefreshActivationsSet, err = meter.Int64Histogram(
		"licensekit_refresh_activations_returned",
		metric.WithDescription("Number of activations returned by a single refresh"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if m.LocalActivationsTotal, err = meter.Int64UpDownCounter(
		"licensekit_local_activations",
		metric.WithDescription("Number of activations currently held in the local store"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	return m, nil
}

// TraceActivate wraps an activation call with a span and records its
// duration and outcome.
func (m *ActivationMetrics) TraceActivate(ctx context.Context, tracer trace.Tracer, productUid string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "licensekit.activate",
		trace.WithAttributes(attribute.String("licensekit.product_uid", productUid)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	labels := metric.WithAttributes(attribute.String("product_uid", productUid))
	if m.ActivationAttempts != nil {
		m.ActivationAttempts.Add(ctx, 1, labels)
		m.ActivationDuration.Record(ctx, duration.Seconds(), labels)
	}

	if err != nil {
		RecordError(ctx, err)
		if m.ActivationFailures != nil {
			m.ActivationFailures.Add(ctx, 1, labels)
		}
		return err
	}

	if m.ActivationSuccess != nil {
		m.ActivationSuccess.Add(ctx, 1, labels)
	}
	return nil
}

// TraceValidate wraps a validation call with a span and records its
// duration and outcome.
func (m *ActivationMetrics) TraceValidate(ctx context.Context, tracer trace.Tracer, strategy string, fn func(ctx context.Context) (bool, error)) (bool, error) {
	ctx, span := tracer.Start(ctx, "licensekit.validate",
		trace.WithAttributes(attribute.String("licensekit.strategy", strategy)))
	defer span.End()

	start := time.Now()
	valid, err := fn(ctx)
	duration := time.Since(start)

	labels := metric.WithAttributes(attribute.String("strategy", strategy))
	if m.ValidationChecks != nil {
		m.ValidationChecks.Add(ctx, 1, labels)
		m.ValidationDuration.Record(ctx, duration.Seconds(), labels)
	}

	if err != nil {
		RecordError(ctx, err)
		if m.ValidationFailures != nil {
			m.ValidationFailures.Add(ctx, 1, labels)
		}
		return valid, err
	}

	if !valid && m.ValidationFailures != nil {
		m.ValidationFailures.Add(ctx, 1, labels)
	}
	span.SetAttributes(attribute.Bool("licensekit.valid", valid))
	return valid, nil
}
