// Package daemon replays recent creation calls from CloudTrail through
// the tag enforcer on an interval, catching events the rule missed.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/google/uuid"
	"github.com/oklog/run"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/internal/audit"
	"github.com/jaguar-finops/guardrails/internal/emitter"
	"github.com/jaguar-finops/guardrails/telemetry"
	"github.com/jaguar-finops/guardrails/trigger"
)

// CloudTrailAPI is the CloudTrail surface used by sweeps
type CloudTrailAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// EventHandler handles one creation event
type EventHandler interface {
	Handle(ctx context.Context, ev events.CloudWatchEvent) (enforcer.Result, error)
}

// Auditor runs a compliance audit of existing resources
type Auditor interface {
	Run(ctx context.Context) (*audit.Report, error)
}

// Config holds daemon configuration
type Config struct {
	Interval    time.Duration
	Lookback    time.Duration
	MetricsAddr string
	Region      string
}

// Daemon sweeps CloudTrail and serves health and metrics
type Daemon struct {
	cfg            Config
	trail          CloudTrailAPI
	handler        EventHandler
	auditor        Auditor
	emitter        emitter.Emitter
	metrics        *DaemonMetrics
	metricsHandler http.Handler
	logger         *telemetry.Logger
	tracer         trace.Tracer
	now            func() time.Time
	startTime      time.Time
	sweepCount     atomic.Int64

	mu        sync.RWMutex
	lastSweep *SweepReport
}

// Option configures a daemon
type Option func(*Daemon)

// WithMetrics records sweep metrics
func WithMetrics(m *DaemonMetrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(d *Daemon) { d.metricsHandler = h }
}

// WithAudit runs an audit after every sweep and emits its report
func WithAudit(a Auditor, e emitter.Emitter) Option {
	return func(d *Daemon) {
		d.auditor = a
		d.emitter = e
	}
}

// WithLogger replaces the default logger
func WithLogger(l *telemetry.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, trail CloudTrailAPI, handler EventHandler, opts ...Option) (*Daemon, error) {
	if trail == nil || handler == nil {
		return nil, fmt.Errorf("daemon needs a CloudTrail client and an event handler")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("daemon interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("daemon lookback must be positive, got %s", cfg.Lookback)
	}

	d := &Daemon{
		cfg:     cfg,
		trail:   trail,
		handler: handler,
		logger:  telemetry.NewLogger("guardrails-daemon"),
		tracer:  otel.Tracer("guardrails-daemon"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.startTime = d.now()
	return d, nil
}

// SweepReport summarizes one sweep
type SweepReport struct {
	RunID    string                  `json:"run_id"`
	Start    time.Time               `json:"start"`
	End      time.Time               `json:"end"`
	Seen     int                     `json:"seen"`
	ByStatus map[enforcer.Status]int `json:"by_status"`
	Failed   int                     `json:"failed"`
	Duration time.Duration           `json:"duration"`
}

// Sweep replays every supported creation call of the lookback window
// through the handler. The handler's ledger drops calls already handled
// from the rule. Per-event failures are counted, not returned.
func (d *Daemon) Sweep(ctx context.Context) (SweepReport, error) {
	started := d.now()
	report := SweepReport{
		RunID:    uuid.NewString(),
		Start:    started.Add(-d.cfg.Lookback),
		End:      started,
		ByStatus: map[enforcer.Status]int{},
	}

	ctx, span := d.tracer.Start(ctx, "daemon.Sweep")
	defer span.End()
	span.SetAttributes(attribute.String("sweep.run_id", report.RunID))

	logger := d.logger.WithContext(ctx)
	logger.Info().Str("run_id", report.RunID).Time("from", report.Start).Time("to", report.End).Msg("sweep started")

	var sweepErr error
	for _, name := range enforcer.SupportedEvents() {
		if err := d.sweepEvent(ctx, name, &report); err != nil {
			sweepErr = fmt.Errorf("lookup %s events: %w", name, err)
			break
		}
	}

	report.Duration = d.now().Sub(started)
	d.sweepCount.Add(1)
	d.mu.Lock()
	last := report
	d.lastSweep = &last
	d.mu.Unlock()

	status := "success"
	if sweepErr != nil {
		status = "failure"
		span.RecordError(sweepErr)
		span.SetStatus(codes.Error, sweepErr.Error())
	}
	d.metrics.RecordSweep(ctx, status, d.cfg.Region, report.Duration.Seconds())

	logger.Info().
		Str("run_id", report.RunID).
		Int("seen", report.Seen).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sweep finished")

	return report, sweepErr
}

func (d *Daemon) sweepEvent(ctx context.Context, eventName string, report *SweepReport) error {
	input := &cloudtrail.LookupEventsInput{
		LookupAttributes: []cttypes.LookupAttribute{{
			AttributeKey:   cttypes.LookupAttributeKeyEventName,
			AttributeValue: aws.String(eventName),
		}},
		StartTime:  aws.Time(report.Start),
		EndTime:    aws.Time(report.End),
		MaxResults: aws.Int32(50),
	}

	logger := d.logger.WithContext(ctx)
	paginator := cloudtrail.NewLookupEventsPaginator(d.trail, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, ev := range page.Events {
			report.Seen++
			raw := aws.ToString(ev.CloudTrailEvent)
			cwe, err := trigger.FromRecord([]byte(raw))
			if err != nil {
				report.Failed++
				logger.Warn().Err(err).Str("event_id", aws.ToString(ev.EventId)).Msg("undecodable CloudTrail record")
				continue
			}

			result, err := d.handler.Handle(ctx, cwe)
			if err != nil {
				report.Failed++
				logger.Error().Err(err).Str("event_id", cwe.ID).Str("event_name", eventName).Msg("replay failed")
				continue
			}
			report.ByStatus[result.Status]++
			d.metrics.RecordReplayed(ctx, eventName, result.Status)
		}
	}
	return nil
}

// Audit runs the configured auditor and emits its report. It is a
// no-op without WithAudit.
func (d *Daemon) Audit(ctx context.Context) error {
	if d.auditor == nil {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "daemon.Audit")
	defer span.End()

	report, err := d.auditor.Run(ctx)
	if err == nil && d.emitter != nil {
		err = d.emitter.Emit(ctx, report)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("audit.resources", report.Len()))
	return nil
}

// Run sweeps immediately, then on every interval, and serves the HTTP
// endpoints until ctx ends.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	sweepCtx, cancelSweeps := context.WithCancel(ctx)
	g.Add(func() error {
		d.loop(sweepCtx)
		return nil
	}, func(error) {
		cancelSweeps()
	})

	if d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			cancelSweeps()
			return fmt.Errorf("listen on %s: %w", d.cfg.MetricsAddr, err)
		}
		srv := &http.Server{Handler: d.Routes(), ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	stop := make(chan struct{})
	g.Add(func() error {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		return nil
	}, func(error) {
		close(stop)
	})

	return g.Run()
}

func (d *Daemon) loop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("sweep failed")
		}
		if err := d.Audit(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("audit failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Routes serves /healthz and, when configured, /metrics
func (d *Daemon) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	if d.metricsHandler != nil {
		mux.Handle("/metrics", d.metricsHandler)
	}
	return mux
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string       `json:"status"`
	Uptime    int64        `json:"uptime"`
	Sweeps    int64        `json:"sweeps"`
	LastSweep *SweepReport `json:"last_sweep,omitempty"`
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return HealthStatus{
		Status:    "healthy",
		Uptime:    int64(d.now().Sub(d.startTime).Seconds()),
		Sweeps:    d.sweepCount.Load(),
		LastSweep: d.lastSweep,
	}
}

// SweepCount returns total sweeps run
func (d *Daemon) SweepCount() int64 {
	return d.sweepCount.Load()
}
