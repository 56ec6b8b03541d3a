package trigger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreationPattern(t *testing.T) {
	p := CreationPattern()

	assert.Equal(t, []string{"aws.ec2", "aws.s3"}, p.Source)
	assert.Equal(t, []string{"AWS API Call via CloudTrail"}, p.DetailType)
	require.NotNil(t, p.Detail)
	assert.Equal(t, []string{"RunInstances", "CreateBucket"}, p.Detail.EventName)
}

func TestCreationPattern_JSON(t *testing.T) {
	data, err := CreationPattern().JSON()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"source": ["aws.ec2", "aws.s3"],
		"detail-type": ["AWS API Call via CloudTrail"],
		"detail": {"eventName": ["RunInstances", "CreateBucket"]}
	}`, string(data))
}

func TestCreationPattern_MatchesOnlySubscribedCalls(t *testing.T) {
	p := CreationPattern()

	tests := []struct {
		name       string
		source     string
		detailType string
		eventName  string
		want       bool
	}{
		{"ec2 run instances", "aws.ec2", DetailTypeCloudTrail, "RunInstances", true},
		{"s3 create bucket", "aws.s3", DetailTypeCloudTrail, "CreateBucket", true},
		{"ec2 create volume", "aws.ec2", DetailTypeCloudTrail, "CreateVolume", false},
		{"ec2 terminate", "aws.ec2", DetailTypeCloudTrail, "TerminateInstances", false},
		{"s3 put object", "aws.s3", DetailTypeCloudTrail, "PutObject", false},
		{"s3 delete bucket", "aws.s3", DetailTypeCloudTrail, "DeleteBucket", false},
		{"rds create", "aws.rds", DetailTypeCloudTrail, "CreateDBInstance", false},
		{"lambda create from other source", "aws.lambda", DetailTypeCloudTrail, "RunInstances", false},
		{"state change detail type", "aws.ec2", "EC2 Instance State-change Notification", "RunInstances", false},
		{"empty event name", "aws.ec2", DetailTypeCloudTrail, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Matches(tt.source, tt.detailType, tt.eventName))
		})
	}
}

func TestPattern_EmptyMatchesAnything(t *testing.T) {
	assert.True(t, Pattern{}.Matches("aws.foo", "x", "y"))
}

func TestCreationRule(t *testing.T) {
	r := CreationRule()

	assert.Equal(t, "ApiCreateEvents", r.Name)
	assert.Equal(t, "ENABLED", r.State)
	assert.Equal(t, CreationPattern(), r.Pattern)
}

func TestSubscriptions_CoverPattern(t *testing.T) {
	p := CreationPattern()
	for _, s := range Subscriptions() {
		assert.True(t, p.Matches(s.Source, DetailTypeCloudTrail, s.EventName), s.EventName)
	}
}

func TestPattern_RoundTrip(t *testing.T) {
	data, err := CreationPattern().JSON()
	require.NoError(t, err)

	var p Pattern
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, CreationPattern(), p)
}
