// Package resource defines the resource model shared by the compliance
// audit and the daemon sweep.
package resource

import (
	"time"

	"github.com/jaguar-finops/guardrails/tags"
)

// Resource is a cloud resource whose creation the guardrail covers.
// Type names the resource kind ("ec2:instance"); Action is the guarded
// create call that produces it ("ec2:RunInstances").
type Resource struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	Region    string    `json:"region"`
	Account   string    `json:"account"`
	Name      string    `json:"name"`
	Tags      tags.Tags `json:"tags"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Key identifies a resource across scans
func (r Resource) Key() string {
	return r.Type + "|" + r.ID + "|" + r.Region + "|" + r.Account
}

// Compliance is the tag verdict for one resource
type Compliance struct {
	Resource       Resource `json:"resource"`
	Missing        []string `json:"missing,omitempty"`
	BadEnvironment bool     `json:"bad_environment,omitempty"`
}

// Compliant reports whether the resource carries every required tag with
// an accepted Environment
func (c Compliance) Compliant() bool {
	return len(c.Missing) == 0 && !c.BadEnvironment
}

// Evaluate checks r against the required keys and accepted environments
func Evaluate(r Resource, required, environments tags.Set) Compliance {
	c := Compliance{Resource: r, Missing: r.Tags.Missing(required)}
	if env, ok := r.Tags[tags.KeyEnvironment]; ok && env != "" {
		c.BadEnvironment = !environments.Contains(env)
	}
	return c
}
