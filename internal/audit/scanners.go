package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/jaguar-finops/guardrails/pkg/resource"
	"github.com/jaguar-finops/guardrails/tags"
)

// Resource types reported by the audit
const (
	TypeEC2Instance    = "ec2:instance"
	TypeEBSVolume      = "ec2:volume"
	TypeRDSInstance    = "rds:db"
	TypeS3Bucket       = "s3:bucket"
	TypeEKSCluster     = "eks:cluster"
	TypeECSCluster     = "ecs:cluster"
	TypeLambdaFunction = "lambda:function"
)

// ecsDescribeBatch is the DescribeClusters limit
const ecsDescribeBatch = 100

// scanInstances scans EC2 instances.
func (a *Auditor) scanInstances(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := a.clients.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State != nil && instance.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				t := ec2TagMap(instance.Tags)
				resources = append(resources, a.newResource(aws.ToString(instance.InstanceId), TypeEC2Instance, t["Name"], t))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

// scanVolumes scans EBS volumes.
func (a *Auditor) scanVolumes(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := a.clients.EC2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", err)
		}

		for _, volume := range output.Volumes {
			t := ec2TagMap(volume.Tags)
			resources = append(resources, a.newResource(aws.ToString(volume.VolumeId), TypeEBSVolume, t["Name"], t))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

// scanDBInstances scans RDS instances.
func (a *Auditor) scanDBInstances(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := a.clients.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}

		for _, instance := range output.DBInstances {
			name := aws.ToString(instance.DBInstanceIdentifier)
			resources = append(resources, a.newResource(aws.ToString(instance.DBInstanceArn), TypeRDSInstance, name, rdsTagMap(instance.TagList)))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return resources, nil
}

// scanBuckets scans S3 buckets. Tags need one call per bucket.
func (a *Auditor) scanBuckets(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var token *string

	for {
		output, err := a.clients.S3.ListBuckets(ctx, &s3.ListBucketsInput{ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}

		for _, bucket := range output.Buckets {
			name := aws.ToString(bucket.Name)
			t, err := a.bucketTags(ctx, name)
			if err != nil {
				return nil, err
			}
			resources = append(resources, a.newResource(name, TypeS3Bucket, name, t))
		}

		if output.ContinuationToken == nil {
			break
		}
		token = output.ContinuationToken
	}

	return resources, nil
}

func (a *Auditor) bucketTags(ctx context.Context, bucket string) (tags.Tags, error) {
	output, err := a.clients.S3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchTagSet" {
			return tags.Tags{}, nil
		}
		return nil, fmt.Errorf("get bucket tagging %s: %w", bucket, err)
	}

	t := make(tags.Tags, len(output.TagSet))
	for _, tag := range output.TagSet {
		t[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return t, nil
}

// scanEKSClusters scans EKS clusters.
func (a *Auditor) scanEKSClusters(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := a.clients.EKS.ListClusters(ctx, &eks.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list eks clusters: %w", err)
		}

		for _, name := range output.Clusters {
			desc, err := a.clients.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil {
				return nil, fmt.Errorf("describe eks cluster %s: %w", name, err)
			}
			if desc.Cluster == nil {
				continue
			}
			resources = append(resources, a.newResource(aws.ToString(desc.Cluster.Arn), TypeEKSCluster, name, tags.Tags(desc.Cluster.Tags)))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

// scanECSClusters scans ECS clusters, describing them in batches.
func (a *Auditor) scanECSClusters(ctx context.Context) ([]resource.Resource, error) {
	var arns []string
	var nextToken *string

	for {
		output, err := a.clients.ECS.ListClusters(ctx, &ecs.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list ecs clusters: %w", err)
		}
		arns = append(arns, output.ClusterArns...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	var resources []resource.Resource
	for start := 0; start < len(arns); start += ecsDescribeBatch {
		end := min(start+ecsDescribeBatch, len(arns))
		output, err := a.clients.ECS.DescribeClusters(ctx, &ecs.DescribeClustersInput{
			Clusters: arns[start:end],
			Include:  []ecstypes.ClusterField{ecstypes.ClusterFieldTags},
		})
		if err != nil {
			return nil, fmt.Errorf("describe ecs clusters: %w", err)
		}
		for _, cluster := range output.Clusters {
			t := make(tags.Tags, len(cluster.Tags))
			for _, tag := range cluster.Tags {
				t[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
			resources = append(resources, a.newResource(aws.ToString(cluster.ClusterArn), TypeECSCluster, aws.ToString(cluster.ClusterName), t))
		}
	}

	return resources, nil
}

// scanFunctions scans Lambda functions.
func (a *Auditor) scanFunctions(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := a.clients.Lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}

		for _, fn := range output.Functions {
			arn := aws.ToString(fn.FunctionArn)
			tagOut, err := a.clients.Lambda.ListTags(ctx, &lambda.ListTagsInput{Resource: aws.String(arn)})
			if err != nil {
				return nil, fmt.Errorf("list tags %s: %w", arn, err)
			}
			resources = append(resources, a.newResource(arn, TypeLambdaFunction, aws.ToString(fn.FunctionName), tags.Tags(tagOut.Tags)))
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return resources, nil
}

func ec2TagMap(in []ec2types.Tag) tags.Tags {
	out := make(tags.Tags, len(in))
	for _, tag := range in {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}

func rdsTagMap(in []rdstypes.Tag) tags.Tags {
	out := make(tags.Tags, len(in))
	for _, tag := range in {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}
