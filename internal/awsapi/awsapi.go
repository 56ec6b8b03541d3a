// Package awsapi builds the AWS service clients used by the CLI.
package awsapi

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jaguar-finops/guardrails/internal/audit"
)

// Clients holds one client per service the guardrails touch.
type Clients struct {
	Region string

	EC2            *ec2.Client
	S3             *s3.Client
	SNS            *sns.Client
	CloudTrail     *cloudtrail.Client
	DynamoDB       *dynamodb.Client
	Lambda         *lambda.Client
	CloudWatchLogs *cloudwatchlogs.Client
	IAM            *iam.Client
	RDS            *rds.Client
	EKS            *eks.Client
	ECS            *ecs.Client
	SQS            *sqs.Client
}

// LoadConfig resolves credentials from the default chain, optionally
// from a named shared profile.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// New creates all clients for region.
func New(ctx context.Context, region, profile string) (*Clients, error) {
	cfg, err := LoadConfig(ctx, region, profile)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg), nil
}

// FromConfig creates all clients from a loaded config.
func FromConfig(cfg aws.Config) *Clients {
	return &Clients{
		Region:         cfg.Region,
		EC2:            ec2.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		SNS:            sns.NewFromConfig(cfg),
		CloudTrail:     cloudtrail.NewFromConfig(cfg),
		DynamoDB:       dynamodb.NewFromConfig(cfg),
		Lambda:         lambda.NewFromConfig(cfg),
		CloudWatchLogs: cloudwatchlogs.NewFromConfig(cfg),
		IAM:            iam.NewFromConfig(cfg),
		RDS:            rds.NewFromConfig(cfg),
		EKS:            eks.NewFromConfig(cfg),
		ECS:            ecs.NewFromConfig(cfg),
		SQS:            sqs.NewFromConfig(cfg),
	}
}

// Audit returns the clients the compliance audit reads from.
func (c *Clients) Audit() audit.Clients {
	return audit.Clients{
		EC2:    c.EC2,
		RDS:    c.RDS,
		S3:     c.S3,
		EKS:    c.EKS,
		ECS:    c.ECS,
		Lambda: c.Lambda,
	}
}

// AccountAttributesAPI reads EC2 account attributes.
type AccountAttributesAPI interface {
	DescribeAccountAttributes(ctx context.Context, params *ec2.DescribeAccountAttributesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAccountAttributesOutput, error)
}

// AccountID returns the account the credentials belong to.
func AccountID(ctx context.Context, client AccountAttributesAPI) (string, error) {
	output, err := client.DescribeAccountAttributes(ctx, &ec2.DescribeAccountAttributesInput{})
	if err != nil {
		return "", fmt.Errorf("describe account attributes: %w", err)
	}

	for _, attr := range output.AccountAttributes {
		if aws.ToString(attr.AttributeName) == "account-id" && len(attr.AttributeValues) > 0 {
			return aws.ToString(attr.AttributeValues[0].AttributeValue), nil
		}
	}

	return "", fmt.Errorf("account-id attribute not returned")
}
