package emitter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jaguar-finops/guardrails/internal/audit"
	"github.com/jaguar-finops/guardrails/pkg/resource"
	"github.com/jaguar-finops/guardrails/telemetry"
)

// PrometheusEmitter exposes audit results as OTEL metrics, scraped
// through the Prometheus exporter.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger *telemetry.Logger

	// Metrics
	resources     metric.Int64ObservableGauge
	violationInfo metric.Int64ObservableGauge
	auditDuration metric.Float64Histogram
	scanErrors    metric.Int64Counter
	driftTotal    metric.Int64Counter

	// State for observable gauges
	mu         sync.RWMutex
	summary    []audit.TypeSummary
	violations []resource.Compliance

	drift *DriftTracker
}

// NewPrometheusEmitter creates a Prometheus emitter on the global meter provider.
func NewPrometheusEmitter() (*PrometheusEmitter, error) {
	return newPrometheusEmitterWithProvider(otel.GetMeterProvider(), telemetry.NewLogger("guardrails-audit"))
}

func newPrometheusEmitterWithProvider(provider metric.MeterProvider, logger *telemetry.Logger) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:  provider.Meter("guardrails.audit"),
		logger: logger,
		drift:  NewDriftTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.resources, err = e.meter.Int64ObservableGauge(
		"guardrails.audit.resources",
		metric.WithDescription("Resources found by the last audit, by type and compliance"),
		metric.WithUnit("{resource}"),
		metric.WithInt64Callback(e.observeResources),
	)
	if err != nil {
		return fmt.Errorf("create resources gauge: %w", err)
	}

	e.violationInfo, err = e.meter.Int64ObservableGauge(
		"guardrails.audit.violation",
		metric.WithDescription("Non-compliant resources found by the last audit"),
		metric.WithInt64Callback(e.observeViolations),
	)
	if err != nil {
		return fmt.Errorf("create violation gauge: %w", err)
	}

	e.auditDuration, err = e.meter.Float64Histogram(
		"guardrails.audit.duration",
		metric.WithDescription("Time taken to audit resources"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create audit duration histogram: %w", err)
	}

	e.scanErrors, err = e.meter.Int64Counter(
		"guardrails.audit.scan.errors",
		metric.WithDescription("Scanners that failed during an audit"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return fmt.Errorf("create scan errors counter: %w", err)
	}

	e.driftTotal, err = e.meter.Int64Counter(
		"guardrails.audit.drift",
		metric.WithDescription("Compliance changes detected between audits"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return fmt.Errorf("create drift counter: %w", err)
	}

	return nil
}

// Emit records the report as metrics and logs compliance drift.
func (e *PrometheusEmitter) Emit(ctx context.Context, report *audit.Report) error {
	if report == nil {
		return nil
	}
	logger := e.logger.WithContext(ctx)

	if !report.StartedAt.IsZero() && !report.FinishedAt.IsZero() {
		e.auditDuration.Record(ctx, report.FinishedAt.Sub(report.StartedAt).Seconds())
	}

	for scanner, msg := range report.Errors() {
		e.scanErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("scanner", scanner)))
		logger.Error().Str("scanner", scanner).Str("error", msg).Msg("audit scanner failed")
	}

	findings := report.Findings()
	violations := report.Violations()
	e.emitDrift(ctx, findings)

	e.mu.Lock()
	e.summary = report.Summary()
	e.violations = violations
	e.mu.Unlock()

	e.drift.Update(findings)

	logger.Info().
		Int("resources", len(findings)).
		Int("violations", len(violations)).
		Msg("audit emitted")

	return nil
}

func (e *PrometheusEmitter) emitDrift(ctx context.Context, findings []resource.Compliance) {
	drifts := e.drift.ComputeDrift(findings)
	if drifts == nil {
		// First audit - baseline established
		return
	}

	logger := e.logger.WithContext(ctx)
	for _, d := range drifts {
		r := d.Current.Resource
		e.driftTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", r.Type),
			attribute.String("region", r.Region),
			attribute.String("change_type", string(d.Type)),
		))

		event := logger.Info().
			Str("id", r.ID).
			Str("type", r.Type).
			Str("region", r.Region).
			Str("change", string(d.Type)).
			Strs("missing", d.Current.Missing)
		if d.Previous != nil {
			event = event.Strs("previous_missing", d.Previous.Missing)
		}
		event.Msg("compliance changed")
	}
}

func (e *PrometheusEmitter) observeResources(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, s := range e.summary {
		o.Observe(int64(s.Total-s.NonCompliant), metric.WithAttributes(
			attribute.String("type", s.Type),
			attribute.Bool("compliant", true),
		))
		o.Observe(int64(s.NonCompliant), metric.WithAttributes(
			attribute.String("type", s.Type),
			attribute.Bool("compliant", false),
		))
	}
	return nil
}

func (e *PrometheusEmitter) observeViolations(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.violations {
		r := c.Resource
		attrs := []attribute.KeyValue{
			attribute.String("id", r.ID),
			attribute.String("type", r.Type),
			attribute.String("region", r.Region),
			attribute.String("missing", strings.Join(c.Missing, ",")),
			attribute.Bool("bad_environment", c.BadEnvironment),
		}
		if r.Name != "" {
			attrs = append(attrs, attribute.String("name", r.Name))
		}
		o.Observe(1, metric.WithAttributes(attrs...))
	}
	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
