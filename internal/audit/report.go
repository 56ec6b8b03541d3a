package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/jaguar-finops/guardrails/pkg/resource"
)

// Report holds audit findings ordered by resource type then id
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time

	mu       sync.Mutex
	findings *btree.BTreeG[resource.Compliance]
	errors   map[string]string
}

// TypeSummary counts findings for one resource type
type TypeSummary struct {
	Type         string `json:"type"`
	Total        int    `json:"total"`
	NonCompliant int    `json:"non_compliant"`
}

func lessCompliance(a, b resource.Compliance) bool {
	if a.Resource.Type != b.Resource.Type {
		return a.Resource.Type < b.Resource.Type
	}
	return a.Resource.Key() < b.Resource.Key()
}

// NewReport creates an empty report
func NewReport() *Report {
	return &Report{
		findings: btree.NewG[resource.Compliance](16, lessCompliance),
		errors:   make(map[string]string),
	}
}

// Add records a finding, replacing an earlier one for the same resource
func (r *Report) Add(c resource.Compliance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings.ReplaceOrInsert(c)
}

func (r *Report) addError(scanner string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[scanner] = err.Error()
}

// Len returns the number of resources scanned
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findings.Len()
}

// Findings returns every finding in order
func (r *Report) Findings() []resource.Compliance {
	return r.collect(func(resource.Compliance) bool { return true })
}

// Violations returns the non-compliant findings in order
func (r *Report) Violations() []resource.Compliance {
	return r.collect(func(c resource.Compliance) bool { return !c.Compliant() })
}

func (r *Report) collect(keep func(resource.Compliance) bool) []resource.Compliance {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []resource.Compliance
	r.findings.Ascend(func(c resource.Compliance) bool {
		if keep(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Summary counts findings per resource type, in type order
func (r *Report) Summary() []TypeSummary {
	var out []TypeSummary
	for _, c := range r.Findings() {
		if len(out) == 0 || out[len(out)-1].Type != c.Resource.Type {
			out = append(out, TypeSummary{Type: c.Resource.Type})
		}
		s := &out[len(out)-1]
		s.Total++
		if !c.Compliant() {
			s.NonCompliant++
		}
	}
	return out
}

// Errors returns the failed scanners and their errors
func (r *Report) Errors() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.errors))
	for k, v := range r.errors {
		out[k] = v
	}
	return out
}

// MarshalJSON renders the summary, the violations and scanner errors
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		StartedAt  time.Time             `json:"started_at"`
		FinishedAt time.Time             `json:"finished_at"`
		Summary    []TypeSummary         `json:"summary"`
		Violations []resource.Compliance `json:"violations"`
		Errors     map[string]string     `json:"errors,omitempty"`
	}{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Summary:    r.Summary(),
		Violations: r.Violations(),
		Errors:     r.Errors(),
	})
}
