// Package audit scans the resources the guardrail policy covers and
// reports which of them lack the required tags. It catches resources
// created before the guardrails were deployed.
package audit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/internal/filter"
	"github.com/jaguar-finops/guardrails/pkg/resource"
	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/telemetry"
)

// Auditor runs one scanner per guarded resource type
type Auditor struct {
	clients      Clients
	region       string
	account      string
	required     tags.Set
	environments tags.Set
	filter       *filter.Filter
	logger       *telemetry.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// Option configures an Auditor
type Option func(*Auditor)

// WithLocation stamps scanned resources with region and account
func WithLocation(region, account string) Option {
	return func(a *Auditor) {
		a.region = region
		a.account = account
	}
}

// WithEnvironments overrides the accepted Environment values
func WithEnvironments(envs tags.Set) Option {
	return func(a *Auditor) { a.environments = envs }
}

// WithFilter limits the scanned types and reported resources
func WithFilter(f *filter.Filter) Option {
	return func(a *Auditor) { a.filter = f }
}

// New creates an auditor checking for the required keys
func New(clients Clients, required tags.Set, opts ...Option) *Auditor {
	a := &Auditor{
		clients:      clients,
		required:     required,
		environments: tags.Environments(),
		logger:       telemetry.NewLogger("guardrails-audit"),
		tracer:       otel.Tracer("guardrails.audit"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type scanner struct {
	name   string
	action string
	fn     func(context.Context) ([]resource.Resource, error)
}

// scanners lists the enabled scanners, one per guarded create action
func (a *Auditor) scanners() []scanner {
	var out []scanner
	if a.clients.EC2 != nil {
		out = append(out,
			scanner{TypeEC2Instance, "ec2:RunInstances", a.scanInstances},
			scanner{TypeEBSVolume, "ec2:CreateVolume", a.scanVolumes},
		)
	}
	if a.clients.RDS != nil {
		out = append(out, scanner{TypeRDSInstance, "rds:CreateDBInstance", a.scanDBInstances})
	}
	if a.clients.S3 != nil {
		out = append(out, scanner{TypeS3Bucket, "s3:CreateBucket", a.scanBuckets})
	}
	if a.clients.EKS != nil {
		out = append(out, scanner{TypeEKSCluster, "eks:CreateCluster", a.scanEKSClusters})
	}
	if a.clients.ECS != nil {
		out = append(out, scanner{TypeECSCluster, "ecs:CreateCluster", a.scanECSClusters})
	}
	if a.clients.Lambda != nil {
		out = append(out, scanner{TypeLambdaFunction, "lambda:CreateFunction", a.scanFunctions})
	}
	if a.filter == nil {
		return out
	}
	enabled := out[:0]
	for _, s := range out {
		if a.filter.ShouldScanType(s.name) {
			enabled = append(enabled, s)
		}
	}
	return enabled
}

// Run scans every enabled resource type concurrently. A failing scanner
// is recorded in the report and does not stop the others.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	ctx, span := a.tracer.Start(ctx, "audit.Run")
	defer span.End()

	report := NewReport()
	report.StartedAt = a.now()

	var wg sync.WaitGroup
	for _, s := range a.scanners() {
		wg.Add(1)
		go func(s scanner) {
			defer wg.Done()
			found, err := s.fn(ctx)
			if err != nil {
				a.logger.WithContext(ctx).Warn().Err(err).Str("scanner", s.name).Msg("scan failed")
				report.addError(s.name, err)
				return
			}
			if a.filter != nil {
				found = a.filter.FilterResources(found)
			}
			for _, r := range found {
				r.Action = s.action
				report.Add(resource.Evaluate(r, a.required, a.environments))
			}
			a.logger.WithContext(ctx).Debug().Str("scanner", s.name).Int("count", len(found)).Msg("scan complete")
		}(s)
	}
	wg.Wait()

	report.FinishedAt = a.now()
	span.SetAttributes(
		attribute.Int("audit.resources", report.Len()),
		attribute.Int("audit.violations", len(report.Violations())),
	)
	return report, ctx.Err()
}

// newResource creates a resource with the common fields set
func (a *Auditor) newResource(id, typ, name string, t tags.Tags) resource.Resource {
	if t == nil {
		t = tags.Tags{}
	}
	return resource.Resource{
		ID:        id,
		Type:      typ,
		Region:    a.region,
		Account:   a.account,
		Name:      name,
		Tags:      t,
		ScannedAt: a.now(),
	}
}
