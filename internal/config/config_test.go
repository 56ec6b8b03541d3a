package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaguar-finops/guardrails/budget"
	"github.com/jaguar-finops/guardrails/pkg/resource"
	"github.com/jaguar-finops/guardrails/tags"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
[target]
account = "123456789012"
region = "eu-west-1"
profile = "finops"

[tags]
allowed_environments = ["prod", "dev"]

[tags.default_tags]
Environment = "dev"
CostCenter = "FINOPS"

[budget]
amount = 500.0
threshold = 90.0

[[budget.subscribers]]
type = "EMAIL"
address = "finops@example.com"

[enforcer]
function_name = "JaguarFinops-TagEnforcer-TagEnforcerFn"
ledger = "dynamodb"
ledger_table = "guardrails-ledger"
ledger_ttl = "24h"
dead_letter = true

[audit]
exclude_types = ["lambda:function"]

[audit.exempt_tags]
"guardrails:exempt" = "true"

[daemon]
interval = "10m"
lookback = "30m"
metrics_addr = ":9100"
audit = true

[otel]
endpoint = "localhost:4317"
insecure = true

[otel.traces]
enabled = true
sample_rate = 0.5

[log]
level = "debug"
`
	cfg, err := Load(writeTempConfig(t, content))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "123456789012", cfg.Target.Account)
	assert.Equal(t, "eu-west-1", cfg.Target.Region)
	assert.Equal(t, "finops", cfg.Target.Profile)
	assert.Equal(t, tags.Tags{"Environment": "dev", "CostCenter": "FINOPS"}, cfg.DefaultTags())
	assert.Equal(t, []string{"prod", "dev"}, cfg.Tags.AllowedEnvironments)
	assert.Equal(t, LedgerDynamoDB, cfg.Enforcer.Ledger)
	assert.Equal(t, 24*time.Hour, cfg.Enforcer.LedgerTTL)
	assert.True(t, cfg.Enforcer.DeadLetter)
	assert.Equal(t, 10*time.Minute, cfg.Daemon.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Daemon.Lookback)
	assert.Equal(t, ":9100", cfg.Daemon.MetricsAddr)
	assert.True(t, cfg.Daemon.Audit)
	assert.Equal(t, []string{"lambda:function"}, cfg.Audit.ExcludeTypes)
	f := cfg.AuditFilter()
	assert.False(t, f.ShouldScanType("lambda:function"))
	assert.False(t, f.ShouldIncludeResource(resource.Resource{Tags: tags.Tags{"guardrails:exempt": "true"}}))
	assert.Equal(t, 0.5, cfg.OTEL.Traces.SampleRate)
	assert.Equal(t, "debug", cfg.Log.Level)

	opts := cfg.BudgetOptions()
	assert.Equal(t, 500.0, opts.Amount)
	assert.Equal(t, 90.0, opts.ThresholdPercent)
	assert.Equal(t, budget.DefaultName, opts.Name)
	assert.Equal(t, []budget.Subscriber{{SubscriptionType: "EMAIL", Address: "finops@example.com"}}, opts.Subscribers)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultRegion, cfg.Target.Region)
	assert.Equal(t, tags.Tags{"Environment": "sandbox"}, cfg.DefaultTags())
	assert.Equal(t, []string(tags.Environments()), cfg.Tags.AllowedEnvironments)
	assert.Equal(t, LedgerBolt, cfg.Enforcer.Ledger)
	assert.Equal(t, ".guardrails/ledger.db", cfg.Enforcer.LedgerPath)
	assert.Equal(t, 5*time.Minute, cfg.Daemon.Interval)
	assert.Equal(t, time.Hour, cfg.Daemon.Lookback)
	assert.Equal(t, "guardrails", cfg.OTEL.ServiceName)
	assert.Equal(t, "info", cfg.Log.Level)

	opts := cfg.BudgetOptions()
	assert.Equal(t, budget.DefaultOptions(), opts)
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	fromFile, err := Load(writeTempConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, fromFile, Default())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/guardrails.toml")
	require.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeTempConfig(t, "[target\nregion = 1\n"))
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeTempConfig(t, "[daemon]\ninterval = \"soon\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon.interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown ledger", func(c *Config) { c.Enforcer.Ledger = "redis" }, "unknown ledger"},
		{"dynamodb without table", func(c *Config) { c.Enforcer.Ledger = LedgerDynamoDB }, "ledger_table"},
		{"default env not allowed", func(c *Config) { c.Tags.DefaultTags["Environment"] = "qa" }, "not in allowed_environments"},
		{"lookback shorter than interval", func(c *Config) { c.Daemon.Lookback = time.Minute }, "lookback"},
		{"sample rate", func(c *Config) { c.OTEL.Traces.SampleRate = 2 }, "sample_rate"},
		{"budget threshold", func(c *Config) { c.Budget.Threshold = 150 }, "budget"},
		{"subscriber type", func(c *Config) {
			c.Budget.Subscribers = []SubscriberConfig{{Type: "SMS", Address: "+1555"}}
		}, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
