package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/storage"
	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/telemetry"
)

// ══════════════════════════════════════════════════════════════════════════════
// Sweeps through a real handler
// ══════════════════════════════════════════════════════════════════════════════

// fakeAWS stands in for the three services the handler writes to
type fakeAWS struct {
	mu        sync.Mutex
	puts      int
	publishes int
	failPuts  int
}

func (f *fakeAWS) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeAWS) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "NoSuchTagSet"}
}

func (f *fakeAWS) PutBucketTagging(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPuts > 0 {
		f.failPuts--
		return nil, errors.New("SlowDown")
	}
	return &s3.PutBucketTaggingOutput{}, nil
}

func (f *fakeAWS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes++
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func (f *fakeAWS) counts() (puts, publishes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts, f.publishes
}

// bucketTrail returns one untagged CreateBucket call on every lookup
func bucketTrail() *mockCloudTrail {
	raw := fmt.Sprintf(`{"eventVersion":"1.09","eventID":%q,"eventTime":"2026-10-19T11:30:00Z","eventSource":"s3.amazonaws.com","eventName":"CreateBucket","awsRegion":"us-east-1","recipientAccountId":"123456789012","requestParameters":{"bucketName":"reports"}}`,
		"b-1")
	return &mockCloudTrail{
		LookupEventsFunc: func(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error) {
			if aws.ToString(params.LookupAttributes[0].AttributeValue) != enforcer.EventCreateBucket {
				return &cloudtrail.LookupEventsOutput{}, nil
			}
			return &cloudtrail.LookupEventsOutput{Events: []cttypes.Event{ctEvent("b-1", aws.String(raw))}}, nil
		},
	}
}

func newEnforcer(t *testing.T, fake *fakeAWS, ledger storage.Ledger) *enforcer.Handler {
	t.Helper()
	cfg := enforcer.DefaultConfig(tags.Required())
	cfg.AlertsTopicARN = "arn:aws:sns:us-east-1:123456789012:TagAlerts"
	h, err := enforcer.NewHandler(cfg, fake, fake, fake,
		enforcer.WithLedger(ledger),
		enforcer.WithLogger(telemetry.NewLoggerTo(io.Discard, "test")),
	)
	require.NoError(t, err)
	return h
}

func TestSweep_RepeatedSweepsAlertOnce(t *testing.T) {
	fake := &fakeAWS{}
	path := filepath.Join(t.TempDir(), "ledger.db")
	ledger, err := storage.NewBoltLedger(path)
	require.NoError(t, err)

	d := newTestDaemon(t, bucketTrail(), newEnforcer(t, fake, ledger))
	var statuses []enforcer.Status
	for i := 0; i < 3; i++ {
		report, err := d.Sweep(context.Background())
		require.NoError(t, err)
		for status, n := range report.ByStatus {
			for j := 0; j < n; j++ {
				statuses = append(statuses, status)
			}
		}
	}
	assert.Equal(t, []enforcer.Status{enforcer.StatusViolation, enforcer.StatusDuplicate, enforcer.StatusDuplicate}, statuses)

	puts, publishes := fake.counts()
	assert.Equal(t, 1, puts)
	assert.Equal(t, 1, publishes)

	// a restarted daemon reads the same claims back
	require.NoError(t, ledger.Close())
	reopened, err := storage.NewBoltLedger(path)
	require.NoError(t, err)
	defer reopened.Close()

	d = newTestDaemon(t, bucketTrail(), newEnforcer(t, fake, reopened))
	report, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[enforcer.Status]int{enforcer.StatusDuplicate: 1}, report.ByStatus)

	_, publishes = fake.counts()
	assert.Equal(t, 1, publishes)
}

func TestSweep_RetriesFailedTagging(t *testing.T) {
	fake := &fakeAWS{failPuts: 1}
	d := newTestDaemon(t, bucketTrail(), newEnforcer(t, fake, storage.NewMemoryLedger()))

	_, err := d.Sweep(context.Background())
	require.NoError(t, err)
	puts, _ := fake.counts()
	require.Equal(t, 1, puts)

	report, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[enforcer.Status]int{enforcer.StatusViolation: 1}, report.ByStatus)
	puts, _ = fake.counts()
	assert.Equal(t, 2, puts)

	report, err = d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[enforcer.Status]int{enforcer.StatusDuplicate: 1}, report.ByStatus)
	puts, _ = fake.counts()
	assert.Equal(t, 2, puts)
}
