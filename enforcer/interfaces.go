package enforcer

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/jaguar-finops/guardrails/wal"
)

// EC2API defines the EC2 operations used by the handler.
type EC2API interface {
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// S3API defines the S3 operations used by the handler.
type S3API interface {
	GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	PutBucketTagging(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
}

// SNSAPI defines the SNS operations used by the handler.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Journal records enforcement steps. *wal.WAL satisfies it.
type Journal interface {
	Append(entryType wal.EntryType, eventID string, data interface{}) error
	AppendError(entryType wal.EntryType, eventID string, data interface{}, errToLog error) error
}
