package enforcer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/telemetry"
)

// Alert subjects for bucket creation
const (
	SubjectCreateBucketMissing = "Jaguar: S3 CreateBucket tags missing"
	SubjectCreateBucketIssue   = "Jaguar: S3 CreateBucket tags issue"
)

const errCodeNoSuchTagSet = "NoSuchTagSet"

type bucketCreation struct {
	bucket string
}

// enforceBucket merges the default tags under the bucket's existing tags,
// writes the result back and alerts on what is still missing. When the
// existing tags cannot be read nothing is written, since PutBucketTagging
// replaces the whole set.
func (h *Handler) enforceBucket(ctx context.Context, creation *bucketCreation, result *Result) {
	span := trace.SpanFromContext(ctx)
	bucket := creation.bucket
	result.Resources = []string{bucket}

	existing, err := h.bucketTags(ctx, bucket)
	if err != nil {
		h.logger.LogAWSError(ctx, "GetBucketTagging", bucket, err)
		result.addError(fmt.Errorf("read bucket tags %s: %w", bucket, err))
		result.Status = StatusViolation
		result.Reason = "bucket tags unreadable, defaults not applied"
		h.alert(ctx, result, SubjectCreateBucketIssue,
			fmt.Sprintf("Bucket: %s, tags could not be read (%v), defaults not applied", bucket, err))
		return
	}
	merged := h.cfg.DefaultTags.Merge(existing)
	final := tags.Tags{}
	for k, v := range merged {
		if v != "" {
			final[k] = v
		}
	}

	result.Missing = final.Missing(h.cfg.RequiredKeys)
	if env, ok := final[tags.KeyEnvironment]; ok {
		result.BadEnvironment = !h.cfg.validEnvironment(env)
	}

	if len(final) > 0 && !maps.Equal(final, existing) {
		h.putBucketTags(ctx, bucket, final, result)
	}

	if len(result.Missing) == 0 && !result.BadEnvironment {
		result.Status = StatusCompliant
		return
	}
	result.Status = StatusViolation
	telemetry.RecordTagViolationEvent(span, EventCreateBucket, result.Resources, result.Missing, result.BadEnvironment)

	subject := SubjectCreateBucketMissing
	if len(result.Missing) == 0 {
		subject = SubjectCreateBucketIssue
	}
	h.alert(ctx, result, subject, bucketAlertMessage(bucket, result.Missing, final[tags.KeyEnvironment], result.BadEnvironment))
}

// bucketTags reads the current tag set. A bucket without tags answers
// NoSuchTagSet, which is an empty set rather than an error.
func (h *Handler) bucketTags(ctx context.Context, bucket string) (tags.Tags, error) {
	out, err := h.s3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == errCodeNoSuchTagSet {
			return tags.Tags{}, nil
		}
		return nil, err
	}

	existing := make(tags.Tags, len(out.TagSet))
	for _, t := range out.TagSet {
		if k := aws.ToString(t.Key); k != "" {
			existing[k] = aws.ToString(t.Value)
		}
	}
	return existing, nil
}

func (h *Handler) putBucketTags(ctx context.Context, bucket string, final tags.Tags, result *Result) {
	span := trace.SpanFromContext(ctx)
	result.Applied = final

	if h.dryRun {
		h.logger.WithContext(ctx).Info().
			Str("bucket", bucket).
			Interface("tags", final).
			Msg("dry run: would tag bucket")
		return
	}

	tagSet := make([]s3types.Tag, 0, len(final))
	for _, k := range final.Keys() {
		tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(final[k])})
	}

	_, err := h.s3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(bucket),
		Tagging: &s3types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		h.logger.LogAWSError(ctx, "PutBucketTagging", bucket, err)
		result.addError(fmt.Errorf("tag bucket %s: %w", bucket, err))
		result.Applied = nil
		telemetry.RecordTagsAppliedEvent(span, "s3:bucket", []string{bucket}, final.Keys(), err.Error())
		h.metrics.RecordTagsApplied(ctx, "s3:bucket", 1, false)
		return
	}

	telemetry.RecordTagsAppliedEvent(span, "s3:bucket", []string{bucket}, final.Keys(), "")
	h.metrics.RecordTagsApplied(ctx, "s3:bucket", 1, true)
	h.logger.WithContext(ctx).Info().
		Str("bucket", bucket).
		Interface("tags", final).
		Msg("tagged bucket")
}

func bucketAlertMessage(bucket string, missing []string, env string, badEnv bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bucket: %s, missing: [%s]", bucket, strings.Join(missing, ", "))
	if badEnv {
		fmt.Fprintf(&b, ", Environment %q is not allowed", env)
	}
	return b.String()
}
