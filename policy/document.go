// Package policy declares the tag guardrail service-control policy and
// simulates its decisions locally.
package policy

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jaguar-finops/guardrails/tags"
)

// SCP document constants. These key names are the wire format accepted by
// AWS Organizations and must not change.
const (
	DocumentVersion = "2012-10-17"
	EffectDeny      = "Deny"
	ResourceAll     = "*"

	ConditionForAllValuesStringEquals = "ForAllValues:StringEquals"
	ConditionKeyTagKeys               = "aws:TagKeys"

	StatementRequireTags = "DenyCreateIfRequiredTagsMissing"

	PolicyName        = "RequireTagsOnCreate"
	PolicyType        = "SERVICE_CONTROL_POLICY"
	PolicyDescription = "Deny resource creation if required tags are not present in the request."
)

var guardedActions = []string{
	"ec2:RunInstances",
	"ec2:CreateVolume",
	"rds:CreateDBInstance",
	"s3:CreateBucket",
	"eks:CreateCluster",
	"ecs:CreateCluster",
	"lambda:CreateFunction",
}

// GuardedActions returns the create actions denied when tags are missing
func GuardedActions() []string {
	return slices.Clone(guardedActions)
}

// Condition maps an operator to condition keys and their values
type Condition map[string]map[string][]string

// Statement is one permission statement of a policy document
type Statement struct {
	Sid       string    `json:"Sid"`
	Effect    string    `json:"Effect"`
	Action    []string  `json:"Action"`
	Resource  string    `json:"Resource"`
	Condition Condition `json:"Condition,omitempty"`
}

// Document is an IAM-style policy document
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// ServiceControlPolicy is an Organizations policy declaration
type ServiceControlPolicy struct {
	Name        string
	Type        string
	Description string
	Document    Document
}

// RequireTagsOnCreate builds the guardrail denying guarded create actions
// unless every key of required is present on the request.
func RequireTagsOnCreate(required tags.Set) ServiceControlPolicy {
	return ServiceControlPolicy{
		Name:        PolicyName,
		Type:        PolicyType,
		Description: PolicyDescription,
		Document: Document{
			Version: DocumentVersion,
			Statement: []Statement{{
				Sid:      StatementRequireTags,
				Effect:   EffectDeny,
				Action:   GuardedActions(),
				Resource: ResourceAll,
				Condition: Condition{
					ConditionForAllValuesStringEquals: {
						ConditionKeyTagKeys: slices.Clone([]string(required)),
					},
				},
			}},
		},
	}
}

// JSON renders the document compactly, as embedded in templates
func (d Document) JSON() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal policy document: %w", err)
	}
	return data, nil
}

// ParseDocument decodes a policy document
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("parse policy document: %w", err)
	}
	return d, nil
}

// RequiredTagKeys returns the tag keys the deny statements require
func (d Document) RequiredTagKeys() tags.Set {
	var out tags.Set
	for _, st := range d.Statement {
		if st.Effect != EffectDeny {
			continue
		}
		for _, k := range st.Condition[ConditionForAllValuesStringEquals][ConditionKeyTagKeys] {
			if !out.Contains(k) {
				out = append(out, k)
			}
		}
	}
	return out
}

// DeniedActions returns every action named by a deny statement
func (d Document) DeniedActions() []string {
	var out []string
	for _, st := range d.Statement {
		if st.Effect != EffectDeny {
			continue
		}
		for _, a := range st.Action {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}
