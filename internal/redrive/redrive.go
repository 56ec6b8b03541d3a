// Package redrive replays events EventBridge could not deliver to the
// tag enforcer from its dead-letter queue.
package redrive

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/telemetry"
	"github.com/jaguar-finops/guardrails/trigger"
)

// EventBridge sets these attributes on dead-lettered events
const (
	AttrErrorCode    = "ERROR_CODE"
	AttrErrorMessage = "ERROR_MESSAGE"
	AttrRuleARN      = "RULE_ARN"
)

const maxBatch = 10

// SQSAPI is the queue surface used for redrive
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventHandler handles one creation event
type EventHandler interface {
	Handle(ctx context.Context, ev events.CloudWatchEvent) (enforcer.Result, error)
}

// Summary counts what a drain did
type Summary struct {
	Received int                     `json:"received"`
	Deleted  int                     `json:"deleted"`
	Failed   int                     `json:"failed"`
	ByStatus map[enforcer.Status]int `json:"by_status"`
}

// Redriver drains one queue
type Redriver struct {
	sqs      SQSAPI
	handler  EventHandler
	queueURL string
	wait     int32
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// Option configures a redriver
type Option func(*Redriver)

// WithWaitSeconds sets the long-poll wait of each receive
func WithWaitSeconds(s int32) Option {
	return func(r *Redriver) { r.wait = s }
}

// WithLogger replaces the default logger
func WithLogger(l *telemetry.Logger) Option {
	return func(r *Redriver) { r.logger = l }
}

// New creates a redriver for queueURL
func New(client SQSAPI, handler EventHandler, queueURL string, opts ...Option) *Redriver {
	r := &Redriver{
		sqs:      client,
		handler:  handler,
		queueURL: queueURL,
		wait:     1,
		logger:   telemetry.NewLogger("guardrails-redrive"),
		tracer:   otel.Tracer("guardrails-redrive"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drain replays up to limit messages, or until the queue reads empty
// when limit is zero. A message is deleted only after the handler
// accepted it; failures stay queued and reappear after the visibility
// timeout.
func (r *Redriver) Drain(ctx context.Context, limit int) (Summary, error) {
	ctx, span := r.tracer.Start(ctx, "redrive.Drain")
	defer span.End()
	span.SetAttributes(attribute.String("queue.url", r.queueURL))

	summary := Summary{ByStatus: map[enforcer.Status]int{}}
	logger := r.logger.WithContext(ctx)

	for limit == 0 || summary.Received < limit {
		batch := int32(maxBatch)
		if limit > 0 && limit-summary.Received < maxBatch {
			batch = int32(limit - summary.Received)
		}

		out, err := r.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(r.queueURL),
			MaxNumberOfMessages:   batch,
			WaitTimeSeconds:       r.wait,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			r.logger.LogAWSError(ctx, "ReceiveMessage", r.queueURL, err)
			return summary, fmt.Errorf("receive from %s: %w", r.queueURL, err)
		}
		if len(out.Messages) == 0 {
			break
		}

		for _, msg := range out.Messages {
			summary.Received++
			if err := r.replay(ctx, msg, &summary); err != nil {
				summary.Failed++
				logger.Warn().Err(err).
					Str("message_id", aws.ToString(msg.MessageId)).
					Str("delivery_error", messageAttribute(msg, AttrErrorCode)).
					Msg("redrive failed, message stays queued")
			}
		}
	}

	logger.Info().
		Int("received", summary.Received).
		Int("deleted", summary.Deleted).
		Int("failed", summary.Failed).
		Msg("redrive finished")
	return summary, nil
}

func (r *Redriver) replay(ctx context.Context, msg sqstypes.Message, summary *Summary) error {
	ev, err := trigger.ParseEvent([]byte(aws.ToString(msg.Body)))
	if err != nil {
		return err
	}
	result, err := r.handler.Handle(ctx, ev)
	if err != nil {
		return fmt.Errorf("handle %s: %w", ev.ID, err)
	}
	summary.ByStatus[result.Status]++

	if _, err := r.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	summary.Deleted++
	return nil
}

func messageAttribute(msg sqstypes.Message, name string) string {
	if v, ok := msg.MessageAttributes[name]; ok {
		return aws.ToString(v.StringValue)
	}
	return ""
}
