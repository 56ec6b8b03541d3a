// Package trigger declares the EventBridge rule that routes resource
// creation API calls to the tag enforcer, and decodes the events it
// delivers.
package trigger

import (
	"encoding/json"
	"fmt"
	"slices"
)

// DetailTypeCloudTrail is the detail-type of CloudTrail API call events
const DetailTypeCloudTrail = "AWS API Call via CloudTrail"

// Rule defaults
const (
	RuleName        = "ApiCreateEvents"
	RuleDescription = "Route resource creation API calls to the tag enforcer"
	StateEnabled    = "ENABLED"
)

// Subscription is one creation call the enforcer knows how to tag
type Subscription struct {
	Source    string // EventBridge source, e.g. aws.ec2
	EventName string // CloudTrail event name, e.g. RunInstances
	Action    string // IAM action, e.g. ec2:RunInstances
}

var subscriptions = []Subscription{
	{Source: "aws.ec2", EventName: "RunInstances", Action: "ec2:RunInstances"},
	{Source: "aws.s3", EventName: "CreateBucket", Action: "s3:CreateBucket"},
}

// Subscriptions returns the creation calls routed to the enforcer
func Subscriptions() []Subscription {
	return slices.Clone(subscriptions)
}

// DetailPattern matches fields of the CloudTrail record
type DetailPattern struct {
	EventName []string `json:"eventName,omitempty"`
}

// Pattern is an EventBridge event pattern restricted to exact string
// matching, the only form this repo declares.
type Pattern struct {
	Source     []string       `json:"source,omitempty"`
	DetailType []string       `json:"detail-type,omitempty"`
	Detail     *DetailPattern `json:"detail,omitempty"`
}

// CreationPattern builds the pattern selecting every subscribed call
func CreationPattern() Pattern {
	p := Pattern{
		DetailType: []string{DetailTypeCloudTrail},
		Detail:     &DetailPattern{},
	}
	for _, s := range subscriptions {
		if !slices.Contains(p.Source, s.Source) {
			p.Source = append(p.Source, s.Source)
		}
		if !slices.Contains(p.Detail.EventName, s.EventName) {
			p.Detail.EventName = append(p.Detail.EventName, s.EventName)
		}
	}
	return p
}

// JSON renders the pattern
func (p Pattern) JSON() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal event pattern: %w", err)
	}
	return data, nil
}

// Matches applies EventBridge matching: every field named by the pattern
// must hold one of the listed values; unnamed fields match anything.
func (p Pattern) Matches(source, detailType, eventName string) bool {
	if len(p.Source) > 0 && !slices.Contains(p.Source, source) {
		return false
	}
	if len(p.DetailType) > 0 && !slices.Contains(p.DetailType, detailType) {
		return false
	}
	if p.Detail != nil && len(p.Detail.EventName) > 0 && !slices.Contains(p.Detail.EventName, eventName) {
		return false
	}
	return true
}

// Rule is an EventBridge rule declaration
type Rule struct {
	Name        string
	Description string
	State       string
	Pattern     Pattern
}

// CreationRule declares the rule routing creation calls to the enforcer
func CreationRule() Rule {
	return Rule{
		Name:        RuleName,
		Description: RuleDescription,
		State:       StateEnabled,
		Pattern:     CreationPattern(),
	}
}
