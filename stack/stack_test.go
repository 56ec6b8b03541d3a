package stack

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jaguar-finops/guardrails/budget"
	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/policy"
	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/trigger"
)

func defaultApp() *App {
	return NewApp(DefaultTarget(), DefaultOptions())
}

func renderedTemplates(t *testing.T, app *App) map[string]Template {
	t.Helper()
	stacks, err := app.Stacks()
	require.NoError(t, err)

	out := make(map[string]Template, len(stacks))
	for _, s := range stacks {
		data, err := s.Template.JSON()
		require.NoError(t, err)
		tmpl, err := ParseTemplate(data)
		require.NoError(t, err)
		out[s.Name] = tmpl
	}
	return out
}

func resourceIDs(t Template) []string {
	ids := make([]string, 0, len(t.Resources))
	for id := range t.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ══════════════════════════════════════════════════════════════════════════════
// Composition
// ══════════════════════════════════════════════════════════════════════════════

func TestStacks_NamesAndTarget(t *testing.T) {
	stacks, err := defaultApp().Stacks()
	require.NoError(t, err)
	require.Len(t, stacks, 3)

	assert.Equal(t, SCPStackName, stacks[0].Name)
	assert.Equal(t, TagEnforcerStackName, stacks[1].Name)
	assert.Equal(t, BudgetsStackName, stacks[2].Name)
	for _, s := range stacks {
		assert.Equal(t, "us-east-1", s.Target.Region)
		assert.Equal(t, TemplateFormatVersion, s.Template.AWSTemplateFormatVersion)
	}
}

func TestStacks_InvalidTarget(t *testing.T) {
	app := NewApp(Target{Account: "12345"}, DefaultOptions())
	_, err := app.Stacks()
	require.Error(t, err)

	app = NewApp(Target{Region: "us-east-1", Account: "12345"}, DefaultOptions())
	_, err = app.Stacks()
	require.Error(t, err)
}

func TestStacks_InvalidBudget(t *testing.T) {
	opts := DefaultOptions()
	opts.Budget.Amount = 0
	_, err := NewApp(DefaultTarget(), opts).Stacks()
	require.Error(t, err)
}

func TestTarget_Environment(t *testing.T) {
	assert.Equal(t, "aws://unknown-account/us-east-1", DefaultTarget().Environment())
	assert.Equal(t, "aws://123456789012/eu-west-1", Target{Account: "123456789012", Region: "eu-west-1"}.Environment())
}

// ══════════════════════════════════════════════════════════════════════════════
// SCP stack
// ══════════════════════════════════════════════════════════════════════════════

func TestSCPStack_EmbedsCompactPolicy(t *testing.T) {
	tmpl := renderedTemplates(t, defaultApp())[SCPStackName]
	require.Equal(t, []string{ResourceSCP}, resourceIDs(tmpl))

	res := tmpl.Resources[ResourceSCP]
	assert.Equal(t, TypeOrganizationsPolicy, res.Type)
	assert.Equal(t, policy.PolicyName, res.Properties["Name"])
	assert.Equal(t, policy.PolicyType, res.Properties["Type"])
	assert.NotContains(t, res.Properties, "TargetIds")

	doc, err := policyDocument(tmpl)
	require.NoError(t, err)
	want := policy.RequireTagsOnCreate(tags.Required()).Document
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("embedded policy mismatch (-want +got):\n%s", diff)
	}

	content := res.Properties["Content"].(string)
	assert.NotContains(t, content, "\n")

	out := tmpl.Outputs[OutputSCPPolicyID]
	assert.Equal(t, map[string]interface{}{"Fn::GetAtt": []interface{}{ResourceSCP, "Id"}}, out.Value)
}

// ══════════════════════════════════════════════════════════════════════════════
// Budgets stack
// ══════════════════════════════════════════════════════════════════════════════

func TestBudgetsStack_CostFiltersInsideBudget(t *testing.T) {
	tmpl := renderedTemplates(t, defaultApp())[BudgetsStackName]
	res := tmpl.Resources[ResourceBudget]
	assert.Equal(t, TypeBudget, res.Type)
	assert.NotContains(t, res.Properties, "CostFilters")

	var b budget.Budget
	require.NoError(t, decodeProperty(res, "Budget", &b))
	assert.Equal(t, budget.DefaultName, b.BudgetName)
	assert.Equal(t, budget.TypeCost, b.BudgetType)
	assert.Equal(t, budget.TimeMonthly, b.TimeUnit)
	assert.Equal(t, budget.Spend{Amount: 200, Unit: "USD"}, b.BudgetLimit)
	assert.Equal(t, map[string][]string{"TagKeyValue": {"CostCenter$FINOPS"}}, b.CostFilters)

	var notifications []budget.NotificationWithSubscribers
	require.NoError(t, decodeProperty(res, "NotificationsWithSubscribers", &notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, budget.Notification{
		NotificationType:   budget.NotificationForecasted,
		ComparisonOperator: budget.ComparisonGreaterThan,
		Threshold:          80,
		ThresholdType:      budget.ThresholdPercentage,
	}, notifications[0].Notification)
	assert.NotNil(t, notifications[0].Subscribers)
	assert.Empty(t, notifications[0].Subscribers)

	assert.Equal(t, budget.DefaultName, tmpl.Outputs[OutputBudgetName].Value)
}

// ══════════════════════════════════════════════════════════════════════════════
// Tag enforcer stack
// ══════════════════════════════════════════════════════════════════════════════

func TestTagEnforcerStack_DefaultResources(t *testing.T) {
	tmpl := renderedTemplates(t, defaultApp())[TagEnforcerStackName]

	assert.Equal(t, []string{
		ResourceRule,
		ResourceTopic,
		ResourceFunction,
		ResourcePermission,
		ResourceLogGroup,
		ResourceRole,
		ResourceLedger,
	}, resourceIDs(tmpl))

	assert.Equal(t, TopicDisplayName, tmpl.Resources[ResourceTopic].Properties["DisplayName"])

	fn := tmpl.Resources[ResourceFunction].Properties
	assert.Equal(t, FunctionRuntime, fn["Runtime"])
	assert.Equal(t, FunctionHandler, fn["Handler"])
	assert.EqualValues(t, 30, fn["Timeout"])

	logs := tmpl.Resources[ResourceLogGroup].Properties
	assert.EqualValues(t, 7, logs["RetentionInDays"])

	assert.Contains(t, tmpl.Outputs, OutputAlertsTopicARN)
	assert.Contains(t, tmpl.Outputs, OutputFunctionName)
	assert.Contains(t, tmpl.Outputs, OutputLedgerTable)
	assert.NotContains(t, tmpl.Outputs, OutputDeadLetterQueue)
}

func TestTagEnforcerStack_WithoutLedger(t *testing.T) {
	opts := DefaultOptions()
	opts.TagEnforcer.Ledger = false
	tmpl := renderedTemplates(t, NewApp(DefaultTarget(), opts))[TagEnforcerStackName]

	assert.NotContains(t, tmpl.Resources, ResourceLedger)
	assert.NotContains(t, tmpl.Outputs, OutputLedgerTable)

	env, err := functionEnvironment(tmpl)
	require.NoError(t, err)
	assert.NotContains(t, env, enforcer.EnvLedgerTable)
	require.NoError(t, NewApp(DefaultTarget(), opts).Check())
}

func TestTagEnforcerStack_RolePermissions(t *testing.T) {
	tmpl := renderedTemplates(t, defaultApp())[TagEnforcerStackName]

	var policies []struct {
		PolicyName     string
		PolicyDocument struct {
			Statement []struct {
				Effect   string
				Action   interface{}
				Resource interface{}
			}
		}
	}
	require.NoError(t, decodeProperty(tmpl.Resources[ResourceRole], "Policies", &policies))
	require.Len(t, policies, 1)

	statements := policies[0].PolicyDocument.Statement
	require.Len(t, statements, 3)
	assert.Equal(t, []interface{}{
		"ec2:CreateTags",
		"ec2:DescribeInstances",
		"s3:PutBucketTagging",
		"s3:GetBucketTagging",
		"tag:TagResources",
		"tag:GetResources",
	}, statements[0].Action)
	assert.Equal(t, "*", statements[0].Resource)
	assert.Equal(t, "sns:Publish", statements[1].Action)
	assert.Equal(t, map[string]interface{}{"Ref": ResourceTopic}, statements[1].Resource)
	assert.Equal(t, []interface{}{"dynamodb:PutItem", "dynamodb:DeleteItem"}, statements[2].Action)
	assert.Equal(t, map[string]interface{}{"Fn::GetAtt": []interface{}{ResourceLedger, "Arn"}}, statements[2].Resource)
}

func TestTagEnforcerStack_RuleRoutesCreationCalls(t *testing.T) {
	tmpl := renderedTemplates(t, defaultApp())[TagEnforcerStackName]

	pattern, err := rulePattern(tmpl)
	require.NoError(t, err)
	if diff := cmp.Diff(trigger.CreationPattern(), pattern); diff != "" {
		t.Errorf("event pattern mismatch (-want +got):\n%s", diff)
	}

	rule := tmpl.Resources[ResourceRule].Properties
	assert.Equal(t, trigger.StateEnabled, rule["State"])
	targets := rule["Targets"].([]interface{})
	require.Len(t, targets, 1)
	target := targets[0].(map[string]interface{})
	assert.NotContains(t, target, "DeadLetterConfig")
	assert.NotContains(t, target, "RetryPolicy")

	perm := tmpl.Resources[ResourcePermission].Properties
	assert.Equal(t, "events.amazonaws.com", perm["Principal"])
}

func TestTagEnforcerStack_EnvironmentContract(t *testing.T) {
	templates := renderedTemplates(t, defaultApp())
	env, err := functionEnvironment(templates[TagEnforcerStackName])
	require.NoError(t, err)

	require.Len(t, env, 5)
	for _, key := range []string{
		enforcer.EnvRequiredTagKeys,
		enforcer.EnvDefaultTagsJSON,
		enforcer.EnvAllowedEnvValues,
		enforcer.EnvAlertsTopicARN,
		enforcer.EnvLedgerTable,
	} {
		assert.True(t, nonEmpty(env[key]), "%s must be set", key)
	}
	assert.Equal(t, map[string]interface{}{"Ref": ResourceTopic}, env[enforcer.EnvAlertsTopicARN])
	assert.Equal(t, map[string]interface{}{"Ref": ResourceLedger}, env[enforcer.EnvLedgerTable])
	assert.Equal(t, `{"Environment":"sandbox"}`, env[enforcer.EnvDefaultTagsJSON])
	assert.Equal(t, "prod,staging,dev,sandbox", env[enforcer.EnvAllowedEnvValues])

	doc, err := policyDocument(templates[SCPStackName])
	require.NoError(t, err)
	handlerTags := tags.ParseSet(env[enforcer.EnvRequiredTagKeys].(string))
	assert.True(t, handlerTags.Equal(doc.RequiredTagKeys()))
	assert.True(t, handlerTags.Equal(tags.Set{"Owner", "Environment", "CostCenter", "Application"}))
}

func TestTagEnforcerStack_LedgerAndDeadLetter(t *testing.T) {
	opts := DefaultOptions()
	opts.TagEnforcer = TagEnforcerOptions{Ledger: true, DeadLetter: true, CodeBucket: "artifacts", CodeKey: "tag-enforcer.zip"}
	tmpl := renderedTemplates(t, NewApp(DefaultTarget(), opts))[TagEnforcerStackName]

	assert.Contains(t, tmpl.Resources, ResourceLedger)
	assert.Contains(t, tmpl.Resources, ResourceDeadLetter)
	assert.Contains(t, tmpl.Resources, ResourceDLQPolicy)
	assert.Contains(t, tmpl.Outputs, OutputLedgerTable)
	assert.Contains(t, tmpl.Outputs, OutputDeadLetterQueue)
	assert.Equal(t, "artifacts", tmpl.Parameters[ParameterCodeBucket].Default)

	var ttl struct {
		AttributeName string
		Enabled       bool
	}
	require.NoError(t, decodeProperty(tmpl.Resources[ResourceLedger], "TimeToLiveSpecification", &ttl))
	assert.Equal(t, "expires_at", ttl.AttributeName)
	assert.True(t, ttl.Enabled)

	env, err := functionEnvironment(tmpl)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Ref": ResourceLedger}, env[enforcer.EnvLedgerTable])

	var targets []struct {
		DeadLetterConfig struct{ Arn interface{} }
		RetryPolicy      struct {
			MaximumRetryAttempts     int
			MaximumEventAgeInSeconds int
		}
	}
	require.NoError(t, decodeProperty(tmpl.Resources[ResourceRule], "Targets", &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, 2, targets[0].RetryPolicy.MaximumRetryAttempts)
	assert.Equal(t, 3600, targets[0].RetryPolicy.MaximumEventAgeInSeconds)
	assert.NotNil(t, targets[0].DeadLetterConfig.Arn)

	require.NoError(t, NewApp(DefaultTarget(), opts).Check())
}

// ══════════════════════════════════════════════════════════════════════════════
// Rendering
// ══════════════════════════════════════════════════════════════════════════════

func TestRender_Deterministic(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			first, err := defaultApp().Render(format)
			require.NoError(t, err)
			second, err := defaultApp().Render(format)
			require.NoError(t, err)

			require.Len(t, first, 4)
			require.Equal(t, len(first), len(second))
			for i := range first {
				assert.Equal(t, first[i].Name, second[i].Name)
				assert.Equal(t, string(first[i].Data), string(second[i].Data))
			}
		})
	}
}

func TestRender_YAMLKeepsStrings(t *testing.T) {
	artifacts, err := defaultApp().Render(FormatYAML)
	require.NoError(t, err)
	require.Equal(t, SCPStackName+".template.yaml", artifacts[0].Name)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(artifacts[0].Data, &doc))
	assert.Equal(t, "2010-09-09", doc["AWSTemplateFormatVersion"])

	resources := doc["Resources"].(map[string]interface{})
	scp := resources[ResourceSCP].(map[string]interface{})
	props := scp["Properties"].(map[string]interface{})

	compact, err := policy.RequireTagsOnCreate(tags.Required()).Document.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(compact), props["Content"])
}

func TestWriteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := defaultApp().WriteDir(dir, FormatJSON)
	require.NoError(t, err)
	require.Len(t, paths, 4)

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"templateFile": "JaguarFinops-Budgets.template.json"`)
	assert.Contains(t, string(data), `"environment": "aws://unknown-account/us-east-1"`)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// Consistency checks
// ══════════════════════════════════════════════════════════════════════════════

func TestCheck_Default(t *testing.T) {
	require.NoError(t, defaultApp().Check())
}

func TestCheck_CustomTagsStayConsistent(t *testing.T) {
	opts := DefaultOptions()
	opts.RequiredTags = tags.Set{"Owner", "Team"}
	require.NoError(t, NewApp(DefaultTarget(), opts).Check())
}

func TestCheck_DetectsTagDrift(t *testing.T) {
	templates := renderedTemplates(t, defaultApp())
	env, err := functionEnvironment(templates[TagEnforcerStackName])
	require.NoError(t, err)
	env[enforcer.EnvRequiredTagKeys] = "Owner,Environment"

	err = checkTemplates(templates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler requires tags")
}

func TestCheck_DetectsEmptyEnvironment(t *testing.T) {
	templates := renderedTemplates(t, defaultApp())
	env, err := functionEnvironment(templates[TagEnforcerStackName])
	require.NoError(t, err)
	env[enforcer.EnvAllowedEnvValues] = ""

	err = checkTemplates(templates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALLOWED_ENV_VALUES is empty")
}

func TestCheck_DetectsRoutingDrift(t *testing.T) {
	templates := renderedTemplates(t, defaultApp())
	rule := templates[TagEnforcerStackName].Resources[ResourceRule]
	rule.Properties["EventPattern"] = map[string]interface{}{
		"source":      []interface{}{"aws.ec2"},
		"detail-type": []interface{}{trigger.DetailTypeCloudTrail},
		"detail":      map[string]interface{}{"eventName": []interface{}{"RunInstances"}},
	}

	err := checkTemplates(templates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule routes [RunInstances]")
	assert.Contains(t, err.Error(), "rule does not route CreateBucket")
}

func TestCheck_DetectsDuplicateFunction(t *testing.T) {
	templates := renderedTemplates(t, defaultApp())
	tmpl := templates[TagEnforcerStackName]
	tmpl.Resources["SecondFn"] = tmpl.Resources[ResourceFunction]

	err := checkTemplates(templates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares 2 AWS::Lambda::Function resources")
}

func TestTemplate_ResourcesOfType(t *testing.T) {
	templates := renderedTemplates(t, defaultApp())
	tmpl := templates[TagEnforcerStackName]

	assert.Equal(t, []string{ResourceFunction}, tmpl.ResourcesOfType(TypeFunction))
	assert.Empty(t, tmpl.ResourcesOfType(TypeBudget))
}
