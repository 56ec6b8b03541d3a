package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/internal/audit"
	"github.com/jaguar-finops/guardrails/internal/awsapi"
	"github.com/jaguar-finops/guardrails/internal/config"
	"github.com/jaguar-finops/guardrails/internal/telemetry"
	"github.com/jaguar-finops/guardrails/stack"
	"github.com/jaguar-finops/guardrails/storage"
	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/wal"
)

// newApp maps the config onto the stack declarations
func newApp(c *config.Config) *stack.App {
	opts := stack.DefaultOptions()
	opts.DefaultTags = c.DefaultTags()
	opts.AllowedEnvironments = tags.Set(c.Tags.AllowedEnvironments)
	opts.Budget = c.BudgetOptions()
	opts.TagEnforcer.DeadLetter = c.Enforcer.DeadLetter
	return stack.NewApp(stack.Target{Account: c.Target.Account, Region: c.Target.Region}, opts)
}

// enforcerConfig is the declared handler config plus the deployed topic
func enforcerConfig(c *config.Config) enforcer.Config {
	ec := newApp(c).EnforcerConfig()
	ec.AlertsTopicARN = c.Enforcer.AlertsTopicARN
	if c.Enforcer.Ledger == config.LedgerDynamoDB {
		ec.LedgerTable = c.Enforcer.LedgerTable
	}
	return ec
}

// openLedger opens the configured idempotency ledger
func openLedger(c *config.Config, clients *awsapi.Clients) (storage.Ledger, error) {
	switch c.Enforcer.Ledger {
	case config.LedgerBolt:
		ledger, err := storage.NewBoltLedger(c.Enforcer.LedgerPath)
		if err != nil {
			return nil, err
		}
		return ledger, nil
	case config.LedgerDynamoDB:
		if clients == nil {
			return nil, fmt.Errorf("dynamodb ledger needs AWS clients")
		}
		return storage.NewDynamoDBLedger(clients.DynamoDB, c.Enforcer.LedgerTable, c.Enforcer.LedgerTTL), nil
	default:
		return storage.NewMemoryLedger(), nil
	}
}

// session holds what a command needs to run the handler locally
type session struct {
	clients   *awsapi.Clients
	handler   *enforcer.Handler
	telemetry *telemetry.Provider
	closers   []io.Closer
}

func (r *session) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}
}

// newSession wires AWS clients, telemetry, ledger and journal into a handler
func newSession(ctx context.Context, c *config.Config, dryRun bool) (*session, error) {
	rt := &session{}

	provider, err := telemetry.NewProvider(ctx, c.OTEL)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	rt.telemetry = provider

	clients, err := awsapi.New(ctx, c.Target.Region, c.Target.Profile)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.clients = clients

	ledger, err := openLedger(c, clients)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	rt.closers = append(rt.closers, ledger)
	if pruner, ok := ledger.(storage.Pruner); ok && c.Enforcer.LedgerTTL > 0 {
		n, err := pruner.Prune(ctx, time.Now().Add(-c.Enforcer.LedgerTTL))
		if err != nil {
			log.Warn().Err(err).Msg("ledger prune failed")
		} else if n > 0 {
			log.Debug().Int("pruned", n).Msg("expired ledger claims removed")
		}
	}

	metrics, err := enforcer.NewMetrics()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	opts := []enforcer.Option{
		enforcer.WithLedger(ledger),
		enforcer.WithMetrics(metrics),
		enforcer.WithDryRun(dryRun),
		enforcer.WithOwner("guardrails-cli"),
	}
	if c.Enforcer.JournalDir != "" {
		journal, err := wal.Open(c.Enforcer.JournalDir)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.closers = append(rt.closers, journal)
		opts = append(opts, enforcer.WithJournal(journal))
	}

	handler, err := enforcer.NewHandler(enforcerConfig(c), clients.EC2, clients.S3, clients.SNS, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.handler = handler
	return rt, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newAuditor builds an auditor for the configured target, looking the
// account up when it is not configured.
func newAuditor(ctx context.Context, c *config.Config, clients *awsapi.Clients) *audit.Auditor {
	account := c.Target.Account
	if account == "" {
		if id, err := awsapi.AccountID(ctx, clients.EC2); err == nil {
			account = id
		}
	}

	return audit.New(clients.Audit(), newApp(c).EnforcerConfig().RequiredKeys,
		audit.WithLocation(c.Target.Region, account),
		audit.WithEnvironments(tags.Set(c.Tags.AllowedEnvironments)),
		audit.WithFilter(c.AuditFilter()),
	)
}
