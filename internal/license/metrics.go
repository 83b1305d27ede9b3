package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "marslog/license"
	MeterName  = "marslog/license"
)

// Metrics holds the validator's OpenTelemetry instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	Validations        metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	Fallbacks          metric.Int64Counter
	DelegateDuration   metric.Float64Histogram
	Activations        metric.Int64Counter
	Resets             metric.Int64Counter
}

// NewMetrics creates the validator instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Total number of license verdicts computed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("Time to compute a license verdict"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.Fallbacks, err = meter.Int64Counter(
		"license_fallbacks_total",
		metric.WithDescription("Total number of verdicts that fell back to the trial clock"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallbacks counter: %w", err)
	}

	m.DelegateDuration, err = meter.Float64Histogram(
		"license_delegate_duration_seconds",
		metric.WithDescription("Validation delegate invocation time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delegate duration histogram: %w", err)
	}

	m.Activations, err = meter.Int64Counter(
		"license_trial_activations_total",
		metric.WithDescription("Total number of trial activation attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	m.Resets, err = meter.Int64Counter(
		"license_trial_resets_total",
		metric.WithDescription("Total number of trial reset attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resets counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordValidation(ctx context.Context, v Verdict, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", string(v.Status)),
		attribute.String("source", string(v.Source)),
		attribute.Bool("valid", v.Valid),
	)
	m.Validations.Add(ctx, 1, attrs)
	m.ValidationDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) recordDelegate(ctx context.Context, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.DelegateDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordActivation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Activations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordReset(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Resets.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
