package enforcer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/jaguar-finops/guardrails/tags"
)

// ErrInvalidConfig is returned when the handler environment is unusable
var ErrInvalidConfig = errors.New("invalid enforcer configuration")

// Environment contract of the deployed handler
const (
	EnvRequiredTagKeys  = "REQUIRED_TAG_KEYS"
	EnvDefaultTagsJSON  = "DEFAULT_TAGS_JSON"
	EnvAllowedEnvValues = "ALLOWED_ENV_VALUES"
	EnvAlertsTopicARN   = "ALERTS_TOPIC_ARN"

	// EnvLedgerTable names the DynamoDB idempotency table. Only set when
	// the stack declares one.
	EnvLedgerTable = "LEDGER_TABLE"
)

// Deployment limits of the handler function
const (
	Timeout          = 30 * time.Second
	LogRetentionDays = 7
	MemorySizeMB     = 128
)

// DefaultEnvironment is the Environment value applied to untagged resources
const DefaultEnvironment = "sandbox"

// Config is the handler configuration carried in its environment
type Config struct {
	RequiredKeys   tags.Set
	DefaultTags    tags.Tags
	AllowedEnv     tags.Set
	AlertsTopicARN string
	LedgerTable    string
}

// DefaultConfig builds the configuration the stack declares for the
// given required keys.
func DefaultConfig(required tags.Set) Config {
	return Config{
		RequiredKeys: slices.Clone(required),
		DefaultTags:  tags.Tags{tags.KeyEnvironment: DefaultEnvironment},
		AllowedEnv:   tags.Environments(),
	}
}

// Env renders the configuration as function environment variables.
// DEFAULT_TAGS_JSON is marshalled from a map, so keys come out sorted.
func (c Config) Env() (map[string]string, error) {
	defaults := c.DefaultTags
	if defaults == nil {
		defaults = tags.Tags{}
	}
	raw, err := json.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal default tags: %w", err)
	}

	env := map[string]string{
		EnvRequiredTagKeys:  c.RequiredKeys.String(),
		EnvDefaultTagsJSON:  string(raw),
		EnvAllowedEnvValues: c.AllowedEnv.String(),
		EnvAlertsTopicARN:   c.AlertsTopicARN,
	}
	if c.LedgerTable != "" {
		env[EnvLedgerTable] = c.LedgerTable
	}
	return env, nil
}

// FromEnv reads the configuration with lookup (os.LookupEnv in the
// function). Unset entries fall back to the declared defaults; an unset
// topic disables alerting.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig(tags.Required())
	cfg.DefaultTags = tags.Tags{}

	if v, ok := lookup(EnvRequiredTagKeys); ok {
		cfg.RequiredKeys = tags.ParseSet(v)
	}
	if v, ok := lookup(EnvDefaultTagsJSON); ok && v != "" {
		var defaults tags.Tags
		if err := json.Unmarshal([]byte(v), &defaults); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvDefaultTagsJSON, err)
		}
		if defaults != nil {
			cfg.DefaultTags = defaults
		}
	}
	if v, ok := lookup(EnvAllowedEnvValues); ok {
		cfg.AllowedEnv = tags.ParseSet(v)
	}
	cfg.AlertsTopicARN, _ = lookup(EnvAlertsTopicARN)
	cfg.LedgerTable, _ = lookup(EnvLedgerTable)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromOSEnv reads the configuration from the process environment
func FromOSEnv() (Config, error) {
	return FromEnv(os.LookupEnv)
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := c.RequiredKeys.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvRequiredTagKeys, err)
	}
	if len(c.AllowedEnv) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, EnvAllowedEnvValues)
	}
	if env, ok := c.DefaultTags[tags.KeyEnvironment]; ok && !c.AllowedEnv.Contains(env) {
		return fmt.Errorf("%w: default Environment %q is not allowed", ErrInvalidConfig, env)
	}
	return nil
}

// validEnvironment reports whether an Environment value is accepted
func (c Config) validEnvironment(value string) bool {
	return c.AllowedEnv.Contains(value)
}
