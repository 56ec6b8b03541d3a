// Package filter scopes which resources a compliance audit reports on.
package filter

import (
	"github.com/jaguar-finops/guardrails/pkg/resource"
)

// Filter controls which resource types to scan and which resources to include.
type Filter struct {
	excludeTypes map[string]bool
	includeTags  map[string]string
	exemptTags   map[string]string
}

// New creates a Filter. Resources must carry every includeTags pair and
// none of the exemptTags pairs to be reported.
func New(excludeTypes []string, includeTags, exemptTags map[string]string) *Filter {
	excludeMap := make(map[string]bool)
	for _, t := range excludeTypes {
		excludeMap[t] = true
	}

	return &Filter{
		excludeTypes: excludeMap,
		includeTags:  includeTags,
		exemptTags:   exemptTags,
	}
}

// ShouldScanType returns true if the given resource type should be scanned.
func (f *Filter) ShouldScanType(typ string) bool {
	return !f.excludeTypes[typ]
}

// ShouldIncludeResource returns true if the resource passes tag filters.
func (f *Filter) ShouldIncludeResource(r resource.Resource) bool {
	// ALL include tags must match
	for k, v := range f.includeTags {
		if r.Tags[k] != v {
			return false
		}
	}

	// ANY exempt tag excludes
	for k, v := range f.exemptTags {
		if got, ok := r.Tags[k]; ok && got == v {
			return false
		}
	}

	return true
}

// FilterResources returns only resources that pass the filter.
func (f *Filter) FilterResources(resources []resource.Resource) []resource.Resource {
	if f.IsEmpty() {
		return resources
	}

	filtered := make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if f.ShouldIncludeResource(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeTypes) == 0 && len(f.includeTags) == 0 && len(f.exemptTags) == 0
}
