// Package enforcer implements the tag enforcement function: it reacts to
// resource creation calls routed by the trigger rule, fills in default
// tags and alerts when required tags are missing.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/storage"
	"github.com/jaguar-finops/guardrails/telemetry"
	"github.com/jaguar-finops/guardrails/trigger"
	"github.com/jaguar-finops/guardrails/wal"
)

// Handled CloudTrail event names
const (
	EventRunInstances = "RunInstances"
	EventCreateBucket = "CreateBucket"
)

// SupportedEvents returns the event names the handler acts on, sorted
func SupportedEvents() []string {
	return []string{EventCreateBucket, EventRunInstances}
}

// Handler enforces tags for one event at a time. It is safe for
// concurrent use when its clients and ledger are.
type Handler struct {
	cfg     Config
	ec2     EC2API
	s3      S3API
	sns     SNSAPI
	ledger  storage.Ledger
	journal Journal
	metrics *Metrics
	logger  *telemetry.Logger
	tracer  trace.Tracer
	owner   string
	dryRun  bool
	newID   func() string
}

// Option configures a Handler
type Option func(*Handler)

// WithLedger sets the idempotency ledger. The default is an in-process
// MemoryLedger, so duplicates are only caught within one process.
func WithLedger(l storage.Ledger) Option {
	return func(h *Handler) { h.ledger = l }
}

// WithJournal records enforcement steps
func WithJournal(j Journal) Option {
	return func(h *Handler) { h.journal = j }
}

// WithMetrics sets the handler counters
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger replaces the default logger
func WithLogger(l *telemetry.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithOwner names the process claiming events in the ledger
func WithOwner(owner string) Option {
	return func(h *Handler) { h.owner = owner }
}

// WithDryRun computes the outcome without writing tags, publishing
// alerts or claiming the event.
func WithDryRun(dryRun bool) Option {
	return func(h *Handler) { h.dryRun = dryRun }
}

// NewHandler creates a handler
func NewHandler(cfg Config, ec2Client EC2API, s3Client S3API, snsClient SNSAPI, opts ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		cfg:    cfg,
		ec2:    ec2Client,
		s3:     s3Client,
		sns:    snsClient,
		ledger: storage.NewMemoryLedger(),
		logger: telemetry.NewLogger("tag-enforcer"),
		tracer: otel.Tracer("guardrails.enforcer"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the handler configuration
func (h *Handler) Config() Config {
	return h.cfg
}

// Handle processes one EventBridge event. Tagging and alert failures are
// logged, reported in the result and release the event's claim; only
// configuration, payload and ledger errors are returned.
func (h *Handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (Result, error) {
	ctx, span := h.tracer.Start(ctx, "enforcer.Handle")
	defer span.End()

	result := Result{EventID: ev.ID, DryRun: h.dryRun}

	rec, err := trigger.DecodeRecord(ev)
	if err != nil {
		if errors.Is(err, trigger.ErrNotCloudTrail) {
			return h.skip(ctx, result, err.Error()), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	result.EventID = trigger.DedupKey(ev, rec)
	result.EventName = rec.EventName
	span.SetAttributes(
		attribute.String("cloudtrail.event_id", result.EventID),
		attribute.String("cloudtrail.event_name", rec.EventName),
	)

	if !slices.Contains(SupportedEvents(), rec.EventName) {
		return h.skip(ctx, result, fmt.Sprintf("event %q is not enforced", rec.EventName)), nil
	}
	if rec.ErrorCode != "" {
		return h.skip(ctx, result, fmt.Sprintf("call failed with %s", rec.ErrorCode)), nil
	}

	target, err := h.decode(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if target == nil {
		return h.skip(ctx, result, "no resource in event"), nil
	}

	claimed := false
	if !h.dryRun && result.EventID != "" {
		if err := h.ledger.Claim(ctx, result.EventID, h.owner); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				result.Status = StatusDuplicate
				h.logger.WithContext(ctx).Info().
					Str("event_id", result.EventID).
					Msg("duplicate delivery, skipping")
				h.journalAppend(wal.EntrySkipped, result)
				h.metrics.RecordEvent(ctx, result.EventName, result.Status)
				return result, nil
			}
			h.logger.LogStorageError(ctx, "claim", err)
			return result, fmt.Errorf("claim event %s: %w", result.EventID, err)
		}
		claimed = true
	}

	h.journalAppend(wal.EntryObserved, rec)

	switch t := target.(type) {
	case *instanceLaunch:
		h.enforceInstances(ctx, t, &result)
	case *bucketCreation:
		h.enforceBucket(ctx, t, &result)
	}

	h.journalAppend(wal.EntryDecided, result)
	if len(result.Errors) > 0 {
		h.journalAppendError(wal.EntryFailed, result, errors.New(result.Errors[0]))
		// Failed events stay retryable on the next delivery.
		if claimed {
			h.release(ctx, result.EventID)
		}
	} else {
		h.journalAppend(wal.EntryExecuted, result)
	}

	h.metrics.RecordEvent(ctx, result.EventName, result.Status)
	h.logger.WithContext(ctx).Info().
		Str("event_id", result.EventID).
		Str("event_name", result.EventName).
		Str("status", string(result.Status)).
		Strs("resources", result.Resources).
		Strs("missing", result.Missing).
		Bool("bad_environment", result.BadEnvironment).
		Bool("alerted", result.Alerted).
		Msg("event handled")

	return result, nil
}

// release drops a claim after a failed enforcement
func (h *Handler) release(ctx context.Context, key string) {
	if err := h.ledger.Release(ctx, key); err != nil {
		h.logger.LogStorageError(ctx, "release", err)
		return
	}
	h.logger.WithContext(ctx).Info().
		Str("event_id", key).
		Msg("enforcement failed, claim released for retry")
}

// decode extracts the resource a supported event created. A nil target
// means the event names nothing to enforce.
func (h *Handler) decode(rec trigger.CloudTrailRecord) (interface{}, error) {
	switch rec.EventName {
	case EventRunInstances:
		var req runInstancesRequest
		if err := decodeRaw(rec.RequestParameters, &req, "RunInstances request"); err != nil {
			return nil, err
		}
		var resp runInstancesResponse
		if err := decodeRaw(rec.ResponseElements, &resp, "RunInstances response"); err != nil {
			return nil, err
		}
		return &instanceLaunch{ids: resp.instanceIDs(), provided: req.requestTags()}, nil

	case EventCreateBucket:
		var req createBucketRequest
		if err := decodeRaw(rec.RequestParameters, &req, "CreateBucket request"); err != nil {
			return nil, err
		}
		if req.BucketName == "" {
			return nil, nil
		}
		return &bucketCreation{bucket: req.BucketName}, nil
	}
	return nil, nil
}

func (h *Handler) skip(ctx context.Context, result Result, reason string) Result {
	result.Status = StatusSkipped
	result.Reason = reason
	h.logger.WithContext(ctx).Debug().
		Str("event_id", result.EventID).
		Str("reason", reason).
		Msg("event skipped")
	h.journalAppend(wal.EntrySkipped, result)
	h.metrics.RecordEvent(ctx, result.EventName, result.Status)
	return result
}

func (h *Handler) journalAppend(entryType wal.EntryType, data interface{}) {
	h.journalAppendError(entryType, data, nil)
}

func (h *Handler) journalAppendError(entryType wal.EntryType, data interface{}, cause error) {
	if h.journal == nil {
		return
	}
	eventID := ""
	switch v := data.(type) {
	case Result:
		eventID = v.EventID
	case trigger.CloudTrailRecord:
		eventID = v.EventID
	}

	var err error
	if cause != nil {
		err = h.journal.AppendError(entryType, eventID, data, cause)
	} else {
		err = h.journal.Append(entryType, eventID, data)
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("entry_type", string(entryType)).Msg("journal append failed")
	}
}
