package enforcer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/telemetry"
)

// SubjectRunInstances is the alert subject for untagged instance launches
const SubjectRunInstances = "Jaguar: EC2 RunInstances tags issue"

type instanceLaunch struct {
	ids      []string
	provided tags.Tags
}

// instanceAlert is the JSON body of a RunInstances alert
type instanceAlert struct {
	Missing  []string  `json:"missing"`
	BadEnv   bool      `json:"bad_env"`
	IDs      []string  `json:"ids"`
	Provided tags.Tags `json:"provided"`
}

// enforceInstances checks the tags requested at launch. When a required
// key is missing or Environment is rejected it alerts, then writes the
// required keys that have a provided or default value.
func (h *Handler) enforceInstances(ctx context.Context, launch *instanceLaunch, result *Result) {
	span := trace.SpanFromContext(ctx)

	result.Resources = launch.ids
	result.Missing = launch.provided.Missing(h.cfg.RequiredKeys)
	if env, ok := launch.provided[tags.KeyEnvironment]; ok {
		result.BadEnvironment = !h.cfg.validEnvironment(env)
	}

	if len(result.Missing) == 0 && !result.BadEnvironment {
		result.Status = StatusCompliant
		return
	}
	result.Status = StatusViolation
	telemetry.RecordTagViolationEvent(span, EventRunInstances, launch.ids, result.Missing, result.BadEnvironment)

	body := instanceAlert{
		Missing:  nonNil(result.Missing),
		BadEnv:   result.BadEnvironment,
		IDs:      nonNil(launch.ids),
		Provided: launch.provided,
	}
	message, err := json.Marshal(body)
	if err != nil {
		result.addError(fmt.Errorf("marshal alert: %w", err))
	} else {
		h.alert(ctx, result, SubjectRunInstances, string(message))
	}

	final := h.finalTags(launch.provided)
	if len(launch.ids) == 0 || len(final) == 0 {
		return
	}
	result.Applied = final

	if h.dryRun {
		h.logger.WithContext(ctx).Info().
			Strs("instances", launch.ids).
			Interface("tags", final).
			Msg("dry run: would tag instances")
		return
	}

	_, err = h.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: launch.ids,
		Tags:      ec2Tags(h.cfg.RequiredKeys, final),
	})
	if err != nil {
		h.logger.LogAWSError(ctx, "CreateTags", launch.ids[0], err)
		result.addError(fmt.Errorf("tag instances: %w", err))
		result.Applied = nil
		telemetry.RecordTagsAppliedEvent(span, "ec2:instance", launch.ids, final.Keys(), err.Error())
		h.metrics.RecordTagsApplied(ctx, "ec2:instance", len(launch.ids), false)
		return
	}

	telemetry.RecordTagsAppliedEvent(span, "ec2:instance", launch.ids, final.Keys(), "")
	h.metrics.RecordTagsApplied(ctx, "ec2:instance", len(launch.ids), true)
	h.logger.WithContext(ctx).Info().
		Strs("instances", launch.ids).
		Interface("tags", final).
		Msg("applied default tags to instances")
}

// finalTags returns, for each required key, the provided value or else
// the default, dropping keys left empty.
func (h *Handler) finalTags(provided tags.Tags) tags.Tags {
	merged := h.cfg.DefaultTags.Merge(provided)
	final := tags.Tags{}
	for _, k := range h.cfg.RequiredKeys {
		if v := merged[k]; v != "" {
			final[k] = v
		}
	}
	return final
}

// ec2Tags orders tags by the required key list
func ec2Tags(order tags.Set, t tags.Tags) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(t))
	for _, k := range order {
		if v, ok := t[k]; ok {
			out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
