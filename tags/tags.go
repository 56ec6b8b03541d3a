// Package tags holds the cost-allocation tag taxonomy shared by the
// guardrail policy, the budget scope and the tag enforcer.
package tags

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Standard cost-allocation tag keys
const (
	KeyOwner       = "Owner"
	KeyEnvironment = "Environment"
	KeyCostCenter  = "CostCenter"
	KeyApplication = "Application"
)

// Set is an ordered list of tag key names (or tag values)
type Set []string

var (
	required     = Set{KeyOwner, KeyEnvironment, KeyCostCenter, KeyApplication}
	environments = Set{"prod", "staging", "dev", "sandbox"}
)

// Required returns the tag keys every guarded resource must carry.
// Both the SCP condition and the enforcer's REQUIRED_TAG_KEYS are built
// from this one list.
func Required() Set {
	return slices.Clone(required)
}

// Environments returns the accepted values of the Environment tag.
func Environments() Set {
	return slices.Clone(environments)
}

// ParseSet parses a comma separated list, trimming blanks and dropping
// empty and repeated entries. Order of first appearance is kept.
func ParseSet(csv string) Set {
	var out Set
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" || out.Contains(part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// String renders the set in its comma separated env form
func (s Set) String() string {
	return strings.Join(s, ",")
}

// Contains reports whether key is in the set
func (s Set) Contains(key string) bool {
	return slices.Contains(s, key)
}

// Sorted returns a sorted copy
func (s Set) Sorted() Set {
	out := slices.Clone(s)
	sort.Strings(out)
	return out
}

// Equal compares two sets ignoring order and duplicates
func (s Set) Equal(other Set) bool {
	a := slices.Compact(s.Sorted())
	b := slices.Compact(other.Sorted())
	return slices.Equal(a, b)
}

// Validate checks the set is usable as a required-tag list
func (s Set) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("tag set is empty")
	}
	seen := make(map[string]bool, len(s))
	for _, k := range s {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("tag set contains a blank key")
		}
		if seen[k] {
			return fmt.Errorf("tag set contains %q twice", k)
		}
		seen[k] = true
	}
	return nil
}

// Tags maps tag keys to values
type Tags map[string]string

// Missing returns the keys of required that are absent or empty, in
// required order.
func (t Tags) Missing(required Set) []string {
	var missing []string
	for _, k := range required {
		if t[k] == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Merge returns a new map holding t overlaid by overlay
func (t Tags) Merge(overlay Tags) Tags {
	out := make(Tags, len(t)+len(overlay))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Keys returns the tag keys sorted
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromPairs parses "Key=Value" pairs
func FromPairs(pairs []string) (Tags, error) {
	out := make(Tags, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q, want Key=Value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
