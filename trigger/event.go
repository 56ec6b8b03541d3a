package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// ErrNotCloudTrail is returned for events that are not CloudTrail API calls
var ErrNotCloudTrail = errors.New("event is not a CloudTrail API call")

// UserIdentity identifies the caller of an API
type UserIdentity struct {
	Type        string `json:"type"`
	PrincipalID string `json:"principalId"`
	ARN         string `json:"arn"`
	AccountID   string `json:"accountId"`
}

// CloudTrailRecord is the detail of a CloudTrail API call event. Request
// and response payloads stay raw; each handler decodes its own shape.
type CloudTrailRecord struct {
	EventVersion       string          `json:"eventVersion"`
	EventID            string          `json:"eventID"`
	EventTime          time.Time       `json:"eventTime"`
	EventSource        string          `json:"eventSource"`
	EventName          string          `json:"eventName"`
	AWSRegion          string          `json:"awsRegion"`
	SourceIPAddress    string          `json:"sourceIPAddress"`
	UserIdentity       UserIdentity    `json:"userIdentity"`
	RequestParameters  json.RawMessage `json:"requestParameters"`
	ResponseElements   json.RawMessage `json:"responseElements"`
	ErrorCode          string          `json:"errorCode,omitempty"`
	RecipientAccountID string          `json:"recipientAccountId"`
}

// ParseEvent decodes an EventBridge envelope
func ParseEvent(data []byte) (events.CloudWatchEvent, error) {
	var ev events.CloudWatchEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return events.CloudWatchEvent{}, fmt.Errorf("parse event: %w", err)
	}
	return ev, nil
}

// DecodeRecord extracts the CloudTrail record of ev
func DecodeRecord(ev events.CloudWatchEvent) (CloudTrailRecord, error) {
	if ev.DetailType != DetailTypeCloudTrail {
		return CloudTrailRecord{}, fmt.Errorf("%w: detail-type %q", ErrNotCloudTrail, ev.DetailType)
	}
	var rec CloudTrailRecord
	if len(ev.Detail) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(ev.Detail, &rec); err != nil {
		return CloudTrailRecord{}, fmt.Errorf("decode cloudtrail detail: %w", err)
	}
	return rec, nil
}

// SourceFromEventSource maps a CloudTrail eventSource such as
// "ec2.amazonaws.com" to its EventBridge source "aws.ec2".
func SourceFromEventSource(eventSource string) string {
	service, _, _ := strings.Cut(eventSource, ".")
	if service == "" {
		return ""
	}
	return "aws." + service
}

// FromRecord wraps a raw CloudTrail record, as returned by LookupEvents,
// in the envelope EventBridge would have delivered.
func FromRecord(raw []byte) (events.CloudWatchEvent, error) {
	var rec CloudTrailRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return events.CloudWatchEvent{}, fmt.Errorf("decode cloudtrail record: %w", err)
	}
	return events.CloudWatchEvent{
		Version:    "0",
		ID:         rec.EventID,
		DetailType: DetailTypeCloudTrail,
		Source:     SourceFromEventSource(rec.EventSource),
		AccountID:  rec.RecipientAccountID,
		Time:       rec.EventTime,
		Region:     rec.AWSRegion,
		Detail:     json.RawMessage(raw),
	}, nil
}

// MatchesEvent applies the pattern to a delivered event
func (p Pattern) MatchesEvent(ev events.CloudWatchEvent) bool {
	var probe struct {
		EventName string `json:"eventName"`
	}
	if len(ev.Detail) > 0 {
		if err := json.Unmarshal(ev.Detail, &probe); err != nil {
			return false
		}
	}
	return p.Matches(ev.Source, ev.DetailType, probe.EventName)
}

// DedupKey identifies an API call across redeliveries and sweeps. The
// CloudTrail eventID is shared by both paths; the envelope id is the
// fallback for records without one.
func DedupKey(ev events.CloudWatchEvent, rec CloudTrailRecord) string {
	if rec.EventID != "" {
		return rec.EventID
	}
	return ev.ID
}
