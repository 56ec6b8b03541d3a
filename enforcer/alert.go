package enforcer

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/telemetry"
)

// SNS limits applied before publishing
const (
	MaxSubjectLength = 100
	MaxMessageLength = 30000
)

// Message attributes attached to every alert
const (
	AttrCorrelationID = "correlation_id"
	AttrEventID       = "event_id"
)

// alert publishes to the alerts topic. An unset topic only logs.
func (h *Handler) alert(ctx context.Context, result *Result, subject, message string) {
	span := trace.SpanFromContext(ctx)
	subject = truncate(subject, MaxSubjectLength)
	message = truncate(message, MaxMessageLength)
	topic := h.cfg.AlertsTopicARN

	if topic == "" {
		h.logger.WithContext(ctx).Warn().
			Str("subject", subject).
			Msg("alerts topic not configured; skipping alert")
		telemetry.RecordAlertPublishedEvent(span, "", subject, false)
		h.metrics.RecordAlert(ctx, result.EventName, false)
		return
	}

	if h.dryRun {
		h.logger.WithContext(ctx).Info().
			Str("subject", subject).
			Str("message", message).
			Msg("dry run: would publish alert")
		return
	}

	attrs := map[string]snstypes.MessageAttributeValue{
		AttrCorrelationID: stringAttribute(h.newID()),
	}
	if result.EventID != "" {
		attrs[AttrEventID] = stringAttribute(result.EventID)
	}

	_, err := h.sns.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(topic),
		Subject:           aws.String(subject),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	telemetry.RecordAlertPublishedEvent(span, topic, subject, err == nil)
	h.metrics.RecordAlert(ctx, result.EventName, err == nil)
	if err != nil {
		h.logger.LogAWSError(ctx, "Publish", topic, err)
		result.addError(fmt.Errorf("publish alert: %w", err))
		return
	}
	result.Alerted = true
}

func stringAttribute(v string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
