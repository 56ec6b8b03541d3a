package emitter

import (
	"slices"
	"strings"
	"sync"

	"github.com/jaguar-finops/guardrails/pkg/resource"
)

// DriftType classifies a compliance change between two audits
type DriftType string

const (
	// DriftViolation is a resource that is newly non-compliant
	DriftViolation DriftType = "violation"
	// DriftRemediated is a resource that became compliant
	DriftRemediated DriftType = "remediated"
	// DriftChanged is a violation whose missing keys or Environment verdict changed
	DriftChanged DriftType = "changed"
	// DriftRemoved is a non-compliant resource that no longer exists
	DriftRemoved DriftType = "removed"
)

// Drift is one compliance change
type Drift struct {
	Type     DriftType
	Current  resource.Compliance
	Previous *resource.Compliance
}

// DriftTracker remembers the last audit's findings and detects
// compliance changes.
type DriftTracker struct {
	mu          sync.RWMutex
	previous    map[string]resource.Compliance
	initialized bool
}

// NewDriftTracker creates a new drift tracker.
func NewDriftTracker() *DriftTracker {
	return &DriftTracker{
		previous: make(map[string]resource.Compliance),
	}
}

// ComputeDrift compares current findings against the previous audit.
// Returns nil on the first audit (baseline establishment) and an empty
// slice when nothing changed. Results are ordered by resource key.
func (d *DriftTracker) ComputeDrift(current []resource.Compliance) []Drift {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	currentMap := indexFindings(current)
	drifts := make([]Drift, 0)
	drifts = append(drifts, d.findRemovedAndChanged(currentMap)...)
	drifts = append(drifts, d.findNewViolations(currentMap)...)

	slices.SortFunc(drifts, func(a, b Drift) int {
		return strings.Compare(a.Current.Resource.Key(), b.Current.Resource.Key())
	})
	return drifts
}

func indexFindings(findings []resource.Compliance) map[string]resource.Compliance {
	m := make(map[string]resource.Compliance, len(findings))
	for _, c := range findings {
		m[c.Resource.Key()] = c
	}
	return m
}

func (d *DriftTracker) findRemovedAndChanged(currentMap map[string]resource.Compliance) []Drift {
	var drifts []Drift
	for key, prev := range d.previous {
		prevCopy := prev
		curr, exists := currentMap[key]
		switch {
		case !exists:
			if !prev.Compliant() {
				drifts = append(drifts, Drift{Type: DriftRemoved, Current: prev, Previous: &prevCopy})
			}
		case prev.Compliant() && !curr.Compliant():
			drifts = append(drifts, Drift{Type: DriftViolation, Current: curr, Previous: &prevCopy})
		case !prev.Compliant() && curr.Compliant():
			drifts = append(drifts, Drift{Type: DriftRemediated, Current: curr, Previous: &prevCopy})
		case !prev.Compliant() && verdictChanged(prev, curr):
			drifts = append(drifts, Drift{Type: DriftChanged, Current: curr, Previous: &prevCopy})
		}
	}
	return drifts
}

// findNewViolations reports resources created non-compliant since the
// previous audit.
func (d *DriftTracker) findNewViolations(currentMap map[string]resource.Compliance) []Drift {
	var drifts []Drift
	for key, curr := range currentMap {
		if _, exists := d.previous[key]; !exists && !curr.Compliant() {
			drifts = append(drifts, Drift{Type: DriftViolation, Current: curr})
		}
	}
	return drifts
}

// Update stores the current findings as the new baseline.
func (d *DriftTracker) Update(current []resource.Compliance) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.previous = indexFindings(current)
	d.initialized = true
}

func verdictChanged(prev, curr resource.Compliance) bool {
	return prev.BadEnvironment != curr.BadEnvironment || !slices.Equal(prev.Missing, curr.Missing)
}
