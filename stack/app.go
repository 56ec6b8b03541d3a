package stack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaguar-finops/guardrails/budget"
	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/policy"
	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/trigger"
)

// Format selects the template rendering
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ManifestFile lists the rendered stacks and where they deploy
const ManifestFile = "manifest.json"

// ParseFormat accepts json or yaml
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown template format %q", s)
}

// Stack is one deployable template bound to a target
type Stack struct {
	Name     string
	Target   Target
	Template Template
}

// Render renders the stack template
func (s Stack) Render(format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return s.Template.YAML()
	case FormatJSON, "":
		return s.Template.JSON()
	}
	return nil, fmt.Errorf("unknown template format %q", format)
}

// FileName is the template file name for the format
func (s Stack) FileName(format Format) string {
	if format == FormatYAML {
		return s.Name + ".template.yaml"
	}
	return s.Name + ".template.json"
}

// Options are the knobs of the guardrail app
type Options struct {
	RequiredTags        tags.Set
	DefaultTags         tags.Tags
	AllowedEnvironments tags.Set
	Budget              budget.Options
	TagEnforcer         TagEnforcerOptions
}

// DefaultOptions reproduces the stock guardrails
func DefaultOptions() Options {
	cfg := enforcer.DefaultConfig(tags.Required())
	return Options{
		RequiredTags:        cfg.RequiredKeys,
		DefaultTags:         cfg.DefaultTags,
		AllowedEnvironments: cfg.AllowedEnv,
		Budget:              budget.DefaultOptions(),
		TagEnforcer:         TagEnforcerOptions{Ledger: true},
	}
}

// App composes the three guardrail stacks
type App struct {
	target  Target
	options Options
}

// NewApp creates an app deploying to target
func NewApp(target Target, opts Options) *App {
	return &App{target: target, options: opts}
}

// Target returns the deployment target
func (a *App) Target() Target {
	return a.target
}

// EnforcerConfig is the handler configuration the app declares
func (a *App) EnforcerConfig() enforcer.Config {
	cfg := enforcer.DefaultConfig(a.options.RequiredTags)
	if a.options.DefaultTags != nil {
		cfg.DefaultTags = a.options.DefaultTags
	}
	if len(a.options.AllowedEnvironments) > 0 {
		cfg.AllowedEnv = a.options.AllowedEnvironments
	}
	return cfg
}

// Policy is the service control policy the app declares
func (a *App) Policy() policy.ServiceControlPolicy {
	return policy.RequireTagsOnCreate(a.options.RequiredTags)
}

// Stacks builds the SCP, tag enforcer and budgets stacks, in that order
func (a *App) Stacks() ([]Stack, error) {
	if err := a.target.Validate(); err != nil {
		return nil, err
	}
	if err := a.options.RequiredTags.Validate(); err != nil {
		return nil, fmt.Errorf("required tags: %w", err)
	}
	cfg := a.EnforcerConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scp, err := SCPStack(a.target, a.Policy())
	if err != nil {
		return nil, err
	}
	enf, err := TagEnforcerStack(a.target, cfg, trigger.CreationRule(), a.options.TagEnforcer)
	if err != nil {
		return nil, err
	}
	decl, err := budget.CostCenterBudget(a.options.Budget)
	if err != nil {
		return nil, err
	}

	return []Stack{scp, enf, BudgetsStack(a.target, decl)}, nil
}

// Artifact is one rendered file
type Artifact struct {
	Name string
	Data []byte
}

type manifest struct {
	Version   string                      `json:"version"`
	Artifacts map[string]manifestArtifact `json:"artifacts"`
}

type manifestArtifact struct {
	Environment  string `json:"environment"`
	TemplateFile string `json:"templateFile"`
}

// Render renders every stack plus a manifest. Output is byte-identical
// across calls for the same app.
func (a *App) Render(format Format) ([]Artifact, error) {
	stacks, err := a.Stacks()
	if err != nil {
		return nil, err
	}

	m := manifest{Version: TemplateFormatVersion, Artifacts: map[string]manifestArtifact{}}
	artifacts := make([]Artifact, 0, len(stacks)+1)
	for _, s := range stacks {
		data, err := s.Render(format)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", s.Name, err)
		}
		artifacts = append(artifacts, Artifact{Name: s.FileName(format), Data: data})
		m.Artifacts[s.Name] = manifestArtifact{
			Environment:  s.Target.Environment(),
			TemplateFile: s.FileName(format),
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	artifacts = append(artifacts, Artifact{Name: ManifestFile, Data: append(data, '\n')})
	return artifacts, nil
}

// WriteDir renders into dir and returns the written paths
func (a *App) WriteDir(dir string, format Format) ([]string, error) {
	artifacts, err := a.Render(format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	paths := make([]string, 0, len(artifacts))
	for _, art := range artifacts {
		path := filepath.Join(dir, art.Name)
		if err := os.WriteFile(path, art.Data, 0600); err != nil {
			return nil, fmt.Errorf("write %s: %w", art.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
