package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jaguar-finops/guardrails/enforcer"
)

// DaemonMetrics holds sweep metrics using OTEL semantic conventions
type DaemonMetrics struct {
	sweeps        metric.Int64Counter
	sweepDuration metric.Float64Histogram
	replayed      metric.Int64Counter
}

// NewDaemonMetrics registers sweep metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter("guardrails.daemon")

	sweeps, err := meter.Int64Counter(
		"guardrails.daemon.sweeps",
		metric.WithDescription("Number of CloudTrail sweeps"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"guardrails.daemon.sweep.duration",
		metric.WithDescription("Duration of CloudTrail sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	replayed, err := meter.Int64Counter(
		"guardrails.daemon.events",
		metric.WithDescription("Number of CloudTrail events replayed through the enforcer"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		sweeps:        sweeps,
		sweepDuration: sweepDuration,
		replayed:      replayed,
	}, nil
}

// RecordSweep records a finished sweep with its status
func (m *DaemonMetrics) RecordSweep(ctx context.Context, status string, region string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.sweeps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("cloud.region", region),
		),
	)
	m.sweepDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
}

// RecordReplayed records one event fed to the enforcer by a sweep
func (m *DaemonMetrics) RecordReplayed(ctx context.Context, eventName string, status enforcer.Status) {
	if m == nil {
		return
	}
	m.replayed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.name", eventName),
			attribute.String("status", string(status)),
		),
	)
}
