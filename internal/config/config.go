// Package config handles TOML configuration for the guardrails CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jaguar-finops/guardrails/budget"
	"github.com/jaguar-finops/guardrails/internal/filter"
	"github.com/jaguar-finops/guardrails/tags"
)

// Ledger backends
const (
	LedgerMemory   = "memory"
	LedgerBolt     = "bbolt"
	LedgerDynamoDB = "dynamodb"
)

// DefaultRegion is the deployment region when none is configured
const DefaultRegion = "us-east-1"

// Config is the root configuration structure.
type Config struct {
	Target   TargetConfig   `toml:"target"`
	Tags     TagsConfig     `toml:"tags"`
	Budget   BudgetConfig   `toml:"budget"`
	Enforcer EnforcerConfig `toml:"enforcer"`
	Audit    AuditConfig    `toml:"audit"`
	Daemon   DaemonConfig   `toml:"daemon"`
	OTEL     OTELConfig     `toml:"otel"`
	Log      LogConfig      `toml:"log"`
}

// TargetConfig holds the deployment account and region.
type TargetConfig struct {
	Account string `toml:"account"`
	Region  string `toml:"region"`
	Profile string `toml:"profile"`
}

// TagsConfig holds the tag defaults applied by the enforcer.
type TagsConfig struct {
	DefaultTags         map[string]string `toml:"default_tags"`
	AllowedEnvironments []string          `toml:"allowed_environments"`
}

// BudgetConfig holds the cost-center budget settings.
type BudgetConfig struct {
	Name        string             `toml:"name"`
	CostCenter  string             `toml:"cost_center"`
	Amount      float64            `toml:"amount"`
	Unit        string             `toml:"unit"`
	Threshold   float64            `toml:"threshold"`
	Subscribers []SubscriberConfig `toml:"subscribers"`
}

// SubscriberConfig is one budget notification recipient.
type SubscriberConfig struct {
	Type    string `toml:"type"`
	Address string `toml:"address"`
}

// EnforcerConfig holds tag enforcer settings.
type EnforcerConfig struct {
	FunctionName   string `toml:"function_name"`
	AlertsTopicARN string `toml:"alerts_topic_arn"`
	Ledger         string `toml:"ledger"` // memory forgets claims on exit
	LedgerPath     string `toml:"ledger_path"`
	LedgerTable    string `toml:"ledger_table"`
	LedgerTTLStr   string `toml:"ledger_ttl"`
	LedgerTTL      time.Duration
	JournalDir     string `toml:"journal_dir"`
	DeadLetter     bool   `toml:"dead_letter"`
}

// AuditConfig scopes the compliance audit.
type AuditConfig struct {
	ExcludeTypes []string          `toml:"exclude_types"`
	IncludeTags  map[string]string `toml:"include_tags"`
	ExemptTags   map[string]string `toml:"exempt_tags"`
}

// DaemonConfig holds sweeper daemon settings.
type DaemonConfig struct {
	IntervalStr string `toml:"interval"`
	Interval    time.Duration
	LookbackStr string `toml:"lookback"`
	Lookback    time.Duration
	MetricsAddr string `toml:"metrics_addr"`
	Audit       bool   `toml:"audit"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled    bool `toml:"enabled"`
	Prometheus bool `toml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(cfg)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg) // built-in defaults always parse
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Target.Region == "" {
		cfg.Target.Region = DefaultRegion
	}
	if cfg.Tags.DefaultTags == nil {
		cfg.Tags.DefaultTags = map[string]string{tags.KeyEnvironment: "sandbox"}
	}
	if len(cfg.Tags.AllowedEnvironments) == 0 {
		cfg.Tags.AllowedEnvironments = tags.Environments()
	}
	if cfg.Budget.Name == "" {
		cfg.Budget.Name = budget.DefaultName
	}
	if cfg.Budget.CostCenter == "" {
		cfg.Budget.CostCenter = budget.DefaultCostCenter
	}
	if cfg.Budget.Amount == 0 {
		cfg.Budget.Amount = budget.DefaultAmount
	}
	if cfg.Budget.Unit == "" {
		cfg.Budget.Unit = budget.DefaultUnit
	}
	if cfg.Budget.Threshold == 0 {
		cfg.Budget.Threshold = budget.DefaultThresholdPercent
	}
	if cfg.Enforcer.Ledger == "" {
		cfg.Enforcer.Ledger = LedgerBolt
	}
	if cfg.Enforcer.LedgerPath == "" {
		cfg.Enforcer.LedgerPath = ".guardrails/ledger.db"
	}
	if cfg.Enforcer.LedgerTTLStr == "" {
		cfg.Enforcer.LedgerTTLStr = "168h"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "5m"
	}
	if cfg.Daemon.LookbackStr == "" {
		cfg.Daemon.LookbackStr = "1h"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "guardrails"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"enforcer.ledger_ttl", cfg.Enforcer.LedgerTTLStr, &cfg.Enforcer.LedgerTTL},
		{"daemon.interval", cfg.Daemon.IntervalStr, &cfg.Daemon.Interval},
		{"daemon.lookback", cfg.Daemon.LookbackStr, &cfg.Daemon.Lookback},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Target.Region == "" {
		return fmt.Errorf("target: region required")
	}
	switch c.Enforcer.Ledger {
	case LedgerMemory, LedgerBolt:
	case LedgerDynamoDB:
		if c.Enforcer.LedgerTable == "" {
			return fmt.Errorf("enforcer: ledger_table required for the dynamodb ledger")
		}
	default:
		return fmt.Errorf("enforcer: unknown ledger %q (want memory, bbolt or dynamodb)", c.Enforcer.Ledger)
	}
	if env, ok := c.Tags.DefaultTags[tags.KeyEnvironment]; ok && !tags.Set(c.Tags.AllowedEnvironments).Contains(env) {
		return fmt.Errorf("tags: default Environment %q is not in allowed_environments", env)
	}
	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon: interval must be positive")
	}
	if c.Daemon.Lookback < c.Daemon.Interval {
		return fmt.Errorf("daemon: lookback (%s) must cover the interval (%s)", c.Daemon.Lookback, c.Daemon.Interval)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if _, err := budget.CostCenterBudget(c.BudgetOptions()); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	return nil
}

// BudgetOptions converts the budget section
func (c *Config) BudgetOptions() budget.Options {
	opts := budget.Options{
		Name:             c.Budget.Name,
		CostCenter:       c.Budget.CostCenter,
		Amount:           c.Budget.Amount,
		Unit:             c.Budget.Unit,
		ThresholdPercent: c.Budget.Threshold,
	}
	for _, s := range c.Budget.Subscribers {
		opts.Subscribers = append(opts.Subscribers, budget.Subscriber{SubscriptionType: s.Type, Address: s.Address})
	}
	return opts
}

// DefaultTags returns the enforcer's default tag values
func (c *Config) DefaultTags() tags.Tags {
	out := make(tags.Tags, len(c.Tags.DefaultTags))
	for k, v := range c.Tags.DefaultTags {
		out[k] = v
	}
	return out
}

// AuditFilter builds the audit scope filter
func (c *Config) AuditFilter() *filter.Filter {
	return filter.New(c.Audit.ExcludeTypes, c.Audit.IncludeTags, c.Audit.ExemptTags)
}
