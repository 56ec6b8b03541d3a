package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jaguar-finops/guardrails/internal/config"
	"github.com/jaguar-finops/guardrails/internal/daemon"
	"github.com/jaguar-finops/guardrails/internal/emitter"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sweep CloudTrail for creation calls the rule missed",
	Long: `Run the enforcer against recent RunInstances and CreateBucket calls
read from CloudTrail, on an interval. Calls already handled by the
deployed function are skipped through the shared ledger. Every sweep
re-reads the whole lookback window, so the daemon needs a ledger that
outlives the process (bbolt or dynamodb).

With daemon.audit set, every sweep is followed by a tag compliance
audit whose results and drift are exported as metrics.

Serves Prometheus metrics on /metrics and health on /healthz.`,
	Example: `  guardrails daemon
  guardrails daemon --config guardrails.toml`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := checkDaemonLedger(cfg); err != nil {
		return err
	}
	cfg.OTEL.Metrics.Prometheus = true
	sess, err := newSession(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	metrics, err := daemon.NewDaemonMetrics()
	if err != nil {
		return fmt.Errorf("init daemon metrics: %w", err)
	}

	opts := []daemon.Option{
		daemon.WithMetrics(metrics),
		daemon.WithMetricsHandler(sess.telemetry.MetricsHandler()),
	}
	if cfg.Daemon.Audit {
		em, err := emitter.NewPrometheusEmitter()
		if err != nil {
			return fmt.Errorf("init audit emitter: %w", err)
		}
		defer em.Close()
		opts = append(opts, daemon.WithAudit(newAuditor(ctx, cfg, sess.clients), em))
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:    cfg.Daemon.Interval,
		Lookback:    cfg.Daemon.Lookback,
		MetricsAddr: cfg.Daemon.MetricsAddr,
		Region:      cfg.Target.Region,
	}, sess.clients.CloudTrail, sess.handler, opts...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	log.Info().
		Str("region", cfg.Target.Region).
		Dur("interval", cfg.Daemon.Interval).
		Dur("lookback", cfg.Daemon.Lookback).
		Str("ledger", cfg.Enforcer.Ledger).
		Bool("audit", cfg.Daemon.Audit).
		Msg("daemon starting")

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon error: %w", err)
	}
	log.Info().Msg("daemon stopped")
	return nil
}

// checkDaemonLedger rejects ledgers that forget claims between restarts
func checkDaemonLedger(c *config.Config) error {
	if c.Enforcer.Ledger == config.LedgerMemory {
		return fmt.Errorf("daemon: ledger %q would re-alert on every restart, use %q or %q",
			c.Enforcer.Ledger, config.LedgerBolt, config.LedgerDynamoDB)
	}
	return nil
}
