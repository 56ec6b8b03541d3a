package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordTagViolationEvent emits a span event for a resource created
// without its required tags, or with a rejected Environment value.
func RecordTagViolationEvent(
	span trace.Span,
	eventName string,
	resourceIDs []string,
	missing []string,
	badEnvironment bool,
) {
	if span == nil {
		return
	}

	span.AddEvent("guardrails.tags.violation", trace.WithAttributes(
		attribute.String("event.type", "guardrails.tags.violation"),
		attribute.String("cloudtrail.event_name", eventName),
		attribute.StringSlice("resource.ids", resourceIDs),
		attribute.StringSlice("tags.missing", missing),
		attribute.Bool("tags.bad_environment", badEnvironment),
	))
}

// RecordTagsAppliedEvent emits a span event for a tag write
func RecordTagsAppliedEvent(
	span trace.Span,
	resourceType string,
	resourceIDs []string,
	keys []string,
	errorMsg string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "guardrails.tags.applied"),
		attribute.String("resource.type", resourceType),
		attribute.StringSlice("resource.ids", resourceIDs),
		attribute.StringSlice("tags.keys", keys),
	}

	if errorMsg != "" {
		attrs = append(attrs, attribute.String("error", errorMsg))
	}

	span.AddEvent("guardrails.tags.applied", trace.WithAttributes(attrs...))
}

// RecordAlertPublishedEvent emits a span event for an alert publish
func RecordAlertPublishedEvent(
	span trace.Span,
	topicARN string,
	subject string,
	published bool,
) {
	if span == nil {
		return
	}

	span.AddEvent("guardrails.alert.published", trace.WithAttributes(
		attribute.String("event.type", "guardrails.alert.published"),
		attribute.String("alert.topic_arn", topicARN),
		attribute.String("alert.subject", subject),
		attribute.Bool("alert.published", published),
	))
}
