// Package verify compares a deployed tag enforcer with what the stacks
// declare: function settings and environment, log retention, and the
// permissions of its role.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/policy"
	"github.com/jaguar-finops/guardrails/stack"
	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/telemetry"
)

// LambdaAPI reads the deployed function
type LambdaAPI interface {
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

// LogsAPI reads the function log group
type LogsAPI interface {
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

// IAMAPI simulates the function role
type IAMAPI interface {
	SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error)
}

// Expectation is the declared shape of the function
type Expectation struct {
	Runtime          string
	Handler          string
	TimeoutSeconds   int32
	LogRetentionDays int32
	Env              map[string]string // empty values only need to be set
	Actions          []string          // allowed on any resource
}

// ExpectFrom derives the expectation from the handler configuration
func ExpectFrom(cfg enforcer.Config) (Expectation, error) {
	env, err := cfg.Env()
	if err != nil {
		return Expectation{}, err
	}
	return Expectation{
		Runtime:          stack.FunctionRuntime,
		Handler:          stack.FunctionHandler,
		TimeoutSeconds:   int32(enforcer.Timeout.Seconds()),
		LogRetentionDays: enforcer.LogRetentionDays,
		Env:              env,
		Actions:          stack.TaggingActions(),
	}, nil
}

// Finding is the outcome of one check
type Finding struct {
	Check  string `json:"check"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report lists every finding for one function
type Report struct {
	Function string    `json:"function"`
	Findings []Finding `json:"findings"`
}

// OK reports whether every check passed
func (r Report) OK() bool {
	for _, f := range r.Findings {
		if !f.OK {
			return false
		}
	}
	return true
}

// Failed returns the failing findings
func (r Report) Failed() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) add(check string, ok bool, format string, args ...interface{}) {
	f := Finding{Check: check, OK: ok}
	if format != "" {
		f.Detail = fmt.Sprintf(format, args...)
	}
	r.Findings = append(r.Findings, f)
}

// Verifier runs the checks. Logs and IAM clients are optional; their
// checks are skipped when unset.
type Verifier struct {
	lambda LambdaAPI
	logs   LogsAPI
	iam    IAMAPI
	logger *telemetry.Logger
	tracer trace.Tracer
}

// New creates a verifier
func New(lambdaClient LambdaAPI, logsClient LogsAPI, iamClient IAMAPI) *Verifier {
	return &Verifier{
		lambda: lambdaClient,
		logs:   logsClient,
		iam:    iamClient,
		logger: telemetry.NewLogger("guardrails-verify"),
		tracer: otel.Tracer("guardrails-verify"),
	}
}

// Verify checks the named function against want. API failures of the
// function lookup are returned; the other checks record them as findings.
func (v *Verifier) Verify(ctx context.Context, function string, want Expectation) (Report, error) {
	ctx, span := v.tracer.Start(ctx, "verify.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("function.name", function))

	report := Report{Function: function}

	fn, err := v.lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(function),
	})
	if err != nil {
		v.logger.LogAWSError(ctx, "GetFunctionConfiguration", function, err)
		return report, fmt.Errorf("get function %s: %w", function, err)
	}

	runtime := string(fn.Runtime)
	report.add("runtime", runtime == want.Runtime, "deployed %q, declared %q", runtime, want.Runtime)
	handler := aws.ToString(fn.Handler)
	report.add("handler", handler == want.Handler, "deployed %q, declared %q", handler, want.Handler)
	timeout := aws.ToInt32(fn.Timeout)
	report.add("timeout", timeout == want.TimeoutSeconds, "deployed %ds, declared %ds", timeout, want.TimeoutSeconds)

	var deployed map[string]string
	if fn.Environment != nil {
		deployed = fn.Environment.Variables
	}
	v.checkEnv(&report, deployed, want.Env)

	if v.logs != nil {
		v.checkLogRetention(ctx, &report, aws.ToString(fn.FunctionName), function, want.LogRetentionDays)
	}
	if v.iam != nil {
		v.checkPermissions(ctx, &report, aws.ToString(fn.Role), deployed[enforcer.EnvAlertsTopicARN], want.Actions)
	}

	v.logger.WithContext(ctx).Info().
		Str("function", function).
		Int("checks", len(report.Findings)).
		Int("failed", len(report.Failed())).
		Msg("verification finished")

	return report, nil
}

func (v *Verifier) checkEnv(report *Report, deployed, want map[string]string) {
	for _, key := range slices.Sorted(maps.Keys(want)) {
		check := "env:" + key
		got, ok := deployed[key]
		if !ok || got == "" {
			report.add(check, false, "not set")
			continue
		}

		expected := want[key]
		switch {
		case expected == "":
			report.add(check, true, "")
		case key == enforcer.EnvRequiredTagKeys || key == enforcer.EnvAllowedEnvValues:
			same := tags.ParseSet(got).Equal(tags.ParseSet(expected))
			report.add(check, same, "deployed %q, declared %q", got, expected)
		case key == enforcer.EnvDefaultTagsJSON:
			report.add(check, sameJSONTags(got, expected), "deployed %s, declared %s", got, expected)
		default:
			report.add(check, got == expected, "deployed %q, declared %q", got, expected)
		}
	}
}

func sameJSONTags(a, b string) bool {
	var ta, tb tags.Tags
	if json.Unmarshal([]byte(a), &ta) != nil || json.Unmarshal([]byte(b), &tb) != nil {
		return false
	}
	return maps.Equal(ta, tb)
}

func (v *Verifier) checkLogRetention(ctx context.Context, report *Report, deployedName, function string, want int32) {
	name := deployedName
	if name == "" {
		name = function
	}
	group := "/aws/lambda/" + name

	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(v.logs, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(group),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			v.logger.LogAWSError(ctx, "DescribeLogGroups", group, err)
			report.add("log_retention", false, "describe %s: %v", group, err)
			return
		}
		for _, lg := range page.LogGroups {
			if aws.ToString(lg.LogGroupName) != group {
				continue
			}
			days := aws.ToInt32(lg.RetentionInDays)
			report.add("log_retention", days == want, "%s keeps %d days, declared %d", group, days, want)
			return
		}
	}
	report.add("log_retention", false, "log group %s not found", group)
}

func (v *Verifier) checkPermissions(ctx context.Context, report *Report, role, topicARN string, actions []string) {
	if role == "" {
		report.add("permissions", false, "function has no role")
		return
	}

	v.simulate(ctx, report, role, actions, policy.ResourceAll)
	if topicARN != "" {
		v.simulate(ctx, report, role, []string{"sns:Publish"}, topicARN)
	}
}

func (v *Verifier) simulate(ctx context.Context, report *Report, role string, actions []string, resource string) {
	decisions := make(map[string]iamtypes.PolicyEvaluationDecisionType, len(actions))

	paginator := iam.NewSimulatePrincipalPolicyPaginator(v.iam, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: aws.String(role),
		ActionNames:     actions,
		ResourceArns:    []string{resource},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			v.logger.LogAWSError(ctx, "SimulatePrincipalPolicy", role, err)
			report.add("permissions", false, "simulate %s: %v", role, err)
			return
		}
		for _, r := range page.EvaluationResults {
			decisions[aws.ToString(r.EvalActionName)] = r.EvalDecision
		}
	}

	for _, action := range actions {
		decision, ok := decisions[action]
		allowed := ok && decision == iamtypes.PolicyEvaluationDecisionTypeAllowed
		detail := string(decision)
		if !ok {
			detail = "not evaluated"
		}
		report.add("permission:"+action, allowed, "%s on %s", strings.ToLower(detail), resource)
	}
}
