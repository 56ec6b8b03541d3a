package enforcer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds handler counters
type Metrics struct {
	events      metric.Int64Counter
	tagsApplied metric.Int64Counter
	alerts      metric.Int64Counter
}

// NewMetrics registers the handler counters on the global meter provider
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("guardrails.enforcer")

	events, err := meter.Int64Counter(
		"guardrails.enforcer.events",
		metric.WithDescription("Number of events handled by the tag enforcer"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	tagsApplied, err := meter.Int64Counter(
		"guardrails.enforcer.tags_applied",
		metric.WithDescription("Number of resources the tag enforcer wrote tags to"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	alerts, err := meter.Int64Counter(
		"guardrails.enforcer.alerts",
		metric.WithDescription("Number of tag alerts raised"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{events: events, tagsApplied: tagsApplied, alerts: alerts}, nil
}

// RecordEvent counts a handled event by outcome
func (m *Metrics) RecordEvent(ctx context.Context, eventName string, status Status) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event_name", eventName),
			attribute.String("status", string(status)),
		),
	)
}

// RecordTagsApplied counts resources tagged
func (m *Metrics) RecordTagsApplied(ctx context.Context, resourceType string, count int, success bool) {
	if m == nil || count == 0 {
		return
	}
	m.tagsApplied.Add(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("resource_type", resourceType),
			attribute.Bool("success", success),
		),
	)
}

// RecordAlert counts an alert and whether it reached the topic
func (m *Metrics) RecordAlert(ctx context.Context, eventName string, published bool) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event_name", eventName),
			attribute.Bool("published", published),
		),
	)
}
