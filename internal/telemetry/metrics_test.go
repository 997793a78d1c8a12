package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newTestMetrics(t *testing.T) *ActivationMetrics {
	meter := sdkmetric.NewMeterProvider().Meter("test")
	m, err := NewActivationMetrics(meter)
	require.NoError(t, err)
	return m
}

func TestNewActivationMetrics_RegistersAllInstruments(t *testing.T) {
	m := newTestMetrics(t)
	assert.NotNil(t, m.ActivationAttempts)
	assert.NotNil(t, m.ValidationDuration)
	assert.NotNil(t, m.LocalActivationsTotal)
}

func TestTraceActivate_RecordsSuccessAndFailure(t *testing.T) {
	m := newTestMetrics(t)
	tracer := sdktrace.NewTracerProvider().Tracer("test")

	err := m.TraceActivate(context.Background(), tracer, "prod-1", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = m.TraceActivate(context.Background(), tracer, "prod-1", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestTraceValidate_RecordsValidity(t *testing.T) {
	m := newTestMetrics(t)
	tracer := sdktrace.NewTracerProvider().Tracer("test")

	valid, err := m.TraceValidate(context.Background(), tracer, "local_only", func(ctx context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = m.TraceValidate(context.Background(), tracer, "local_only", func(ctx context.Context) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTraceIDFromContext_EmptyWithoutSpan(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
