package stack

import (
	"fmt"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/policy"
	"github.com/jaguar-finops/guardrails/storage"
	"github.com/jaguar-finops/guardrails/trigger"
)

// Logical ids and outputs of the tag enforcer stack
const (
	TagEnforcerStackName = "JaguarFinops-TagEnforcer"

	ResourceTopic      = "TagAlertsTopic"
	ResourceRole       = "TagEnforcerFnRole"
	ResourceLogGroup   = "TagEnforcerFnLogGroup"
	ResourceFunction   = "TagEnforcerFn"
	ResourceRule       = trigger.RuleName
	ResourcePermission = "TagEnforcerFnInvokePermission"
	ResourceLedger     = "TagEnforcerLedger"
	ResourceDeadLetter = "TagEnforcerDeadLetterQueue"
	ResourceDLQPolicy  = "TagEnforcerDeadLetterQueuePolicy"

	ParameterCodeBucket = "CodeBucket"
	ParameterCodeKey    = "CodeKey"

	OutputAlertsTopicARN   = "AlertsTopicArn"
	OutputFunctionName     = "TagEnforcerFnName"
	OutputLedgerTable      = "LedgerTableName"
	OutputDeadLetterQueue  = "DeadLetterQueueUrl"
	TopicDisplayName       = "Jaguar FinOps Alerts"
	FunctionRuntime        = "provided.al2023"
	FunctionHandler        = "bootstrap"
	RolePolicyName         = "TagEnforcerPolicy"
	BasicExecutionPolicy   = "arn:${AWS::Partition}:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
	DeadLetterRetention    = 1209600
	MaximumRetryAttempts   = 2
	MaximumEventAgeSeconds = 3600

	TypeTopic      = "AWS::SNS::Topic"
	TypeRole       = "AWS::IAM::Role"
	TypeLogGroup   = "AWS::Logs::LogGroup"
	TypeFunction   = "AWS::Lambda::Function"
	TypeRule       = "AWS::Events::Rule"
	TypePermission = "AWS::Lambda::Permission"
	TypeTable      = "AWS::DynamoDB::Table"
	TypeQueue      = "AWS::SQS::Queue"
	TypeQueuePol   = "AWS::SQS::QueuePolicy"
)

var taggingActions = []string{
	"ec2:CreateTags",
	"ec2:DescribeInstances",
	"s3:PutBucketTagging",
	"s3:GetBucketTagging",
	"tag:TagResources",
	"tag:GetResources",
}

// TaggingActions returns the actions the handler role may call on any resource
func TaggingActions() []string {
	return append([]string(nil), taggingActions...)
}

// TagEnforcerOptions tune the optional parts of the enforcer stack
type TagEnforcerOptions struct {
	Ledger     bool   // declare the DynamoDB idempotency ledger; on in DefaultOptions
	DeadLetter bool   // declare an SQS dead-letter queue on the rule target
	CodeBucket string // default for the CodeBucket parameter
	CodeKey    string // default for the CodeKey parameter
}

// TagEnforcerStack declares the alert topic, the handler function with
// its role and logs, and the rule routing creation calls to it.
func TagEnforcerStack(target Target, cfg enforcer.Config, rule trigger.Rule, opts TagEnforcerOptions) (Stack, error) {
	env, err := cfg.Env()
	if err != nil {
		return Stack{}, err
	}
	variables := make(map[string]interface{}, len(env))
	for k, v := range env {
		variables[k] = v
	}
	variables[enforcer.EnvAlertsTopicARN] = Ref(ResourceTopic)
	if opts.Ledger {
		variables[enforcer.EnvLedgerTable] = Ref(ResourceLedger)
	}

	t := newTemplate("Tag enforcer reacting to resource creation calls")
	t.Parameters = map[string]Parameter{
		ParameterCodeBucket: {Type: "String", Description: "Bucket holding the tag-enforcer bundle", Default: opts.CodeBucket},
		ParameterCodeKey:    {Type: "String", Description: "Key of the tag-enforcer bundle", Default: opts.CodeKey},
	}

	t.Resources[ResourceTopic] = Resource{
		Type:       TypeTopic,
		Properties: map[string]interface{}{"DisplayName": TopicDisplayName},
	}
	t.Resources[ResourceRole] = roleResource(opts.Ledger)
	t.Resources[ResourceFunction] = Resource{
		Type: TypeFunction,
		Properties: map[string]interface{}{
			"Runtime":     FunctionRuntime,
			"Handler":     FunctionHandler,
			"Timeout":     int(enforcer.Timeout.Seconds()),
			"MemorySize":  enforcer.MemorySizeMB,
			"Role":        GetAtt(ResourceRole, "Arn"),
			"Code":        map[string]interface{}{"S3Bucket": Ref(ParameterCodeBucket), "S3Key": Ref(ParameterCodeKey)},
			"Environment": map[string]interface{}{"Variables": variables},
		},
	}
	t.Resources[ResourceLogGroup] = Resource{
		Type: TypeLogGroup,
		Properties: map[string]interface{}{
			"LogGroupName":    Sub("/aws/lambda/${" + ResourceFunction + "}"),
			"RetentionInDays": enforcer.LogRetentionDays,
		},
	}

	ruleTarget := map[string]interface{}{
		"Id":  ResourceFunction,
		"Arn": GetAtt(ResourceFunction, "Arn"),
	}
	if opts.DeadLetter {
		ruleTarget["DeadLetterConfig"] = map[string]interface{}{"Arn": GetAtt(ResourceDeadLetter, "Arn")}
		ruleTarget["RetryPolicy"] = map[string]interface{}{
			"MaximumRetryAttempts":     MaximumRetryAttempts,
			"MaximumEventAgeInSeconds": MaximumEventAgeSeconds,
		}
	}
	t.Resources[ResourceRule] = Resource{
		Type: TypeRule,
		Properties: map[string]interface{}{
			"Description":  rule.Description,
			"State":        rule.State,
			"EventPattern": rule.Pattern,
			"Targets":      []interface{}{ruleTarget},
		},
	}
	t.Resources[ResourcePermission] = Resource{
		Type: TypePermission,
		Properties: map[string]interface{}{
			"Action":       "lambda:InvokeFunction",
			"FunctionName": Ref(ResourceFunction),
			"Principal":    "events.amazonaws.com",
			"SourceArn":    GetAtt(ResourceRule, "Arn"),
		},
	}

	if opts.Ledger {
		t.Resources[ResourceLedger] = Resource{
			Type: TypeTable,
			Properties: map[string]interface{}{
				"BillingMode": "PAY_PER_REQUEST",
				"AttributeDefinitions": []interface{}{
					map[string]interface{}{"AttributeName": storage.AttrEventID, "AttributeType": "S"},
				},
				"KeySchema": []interface{}{
					map[string]interface{}{"AttributeName": storage.AttrEventID, "KeyType": "HASH"},
				},
				"TimeToLiveSpecification": map[string]interface{}{
					"AttributeName": storage.AttrExpiresAt,
					"Enabled":       true,
				},
			},
		}
		t.Outputs[OutputLedgerTable] = Output{Description: "Idempotency ledger table", Value: Ref(ResourceLedger)}
	}

	if opts.DeadLetter {
		t.Resources[ResourceDeadLetter] = Resource{
			Type:       TypeQueue,
			Properties: map[string]interface{}{"MessageRetentionPeriod": DeadLetterRetention},
		}
		t.Resources[ResourceDLQPolicy] = Resource{
			Type: TypeQueuePol,
			Properties: map[string]interface{}{
				"Queues": []interface{}{Ref(ResourceDeadLetter)},
				"PolicyDocument": map[string]interface{}{
					"Version": policy.DocumentVersion,
					"Statement": []interface{}{map[string]interface{}{
						"Effect":    "Allow",
						"Principal": map[string]interface{}{"Service": "events.amazonaws.com"},
						"Action":    "sqs:SendMessage",
						"Resource":  GetAtt(ResourceDeadLetter, "Arn"),
						"Condition": map[string]interface{}{
							"ArnEquals": map[string]interface{}{"aws:SourceArn": GetAtt(ResourceRule, "Arn")},
						},
					}},
				},
			},
		}
		t.Outputs[OutputDeadLetterQueue] = Output{Description: "Dead-letter queue of the creation rule", Value: Ref(ResourceDeadLetter)}
	}

	t.Outputs[OutputAlertsTopicARN] = Output{Description: "Topic receiving tag violation alerts", Value: Ref(ResourceTopic)}
	t.Outputs[OutputFunctionName] = Output{Description: "Name of the tag enforcer function", Value: Ref(ResourceFunction)}

	return Stack{Name: TagEnforcerStackName, Target: target, Template: t}, nil
}

func roleResource(ledger bool) Resource {
	statements := []interface{}{
		map[string]interface{}{
			"Effect":   "Allow",
			"Action":   TaggingActions(),
			"Resource": policy.ResourceAll,
		},
		map[string]interface{}{
			"Effect":   "Allow",
			"Action":   "sns:Publish",
			"Resource": Ref(ResourceTopic),
		},
	}
	if ledger {
		statements = append(statements, map[string]interface{}{
			"Effect":   "Allow",
			"Action":   []string{"dynamodb:PutItem", "dynamodb:DeleteItem"},
			"Resource": GetAtt(ResourceLedger, "Arn"),
		})
	}

	return Resource{
		Type: TypeRole,
		Properties: map[string]interface{}{
			"AssumeRolePolicyDocument": map[string]interface{}{
				"Version": policy.DocumentVersion,
				"Statement": []interface{}{map[string]interface{}{
					"Effect":    "Allow",
					"Principal": map[string]interface{}{"Service": "lambda.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				}},
			},
			"ManagedPolicyArns": []interface{}{Sub(BasicExecutionPolicy)},
			"Policies": []interface{}{map[string]interface{}{
				"PolicyName": RolePolicyName,
				"PolicyDocument": map[string]interface{}{
					"Version":   policy.DocumentVersion,
					"Statement": statements,
				},
			}},
		},
	}
}

// functionEnvironment reads the handler environment back out of a
// rendered enforcer template. Values are strings or intrinsics.
func functionEnvironment(t Template) (map[string]interface{}, error) {
	res, ok := t.Resources[ResourceFunction]
	if !ok {
		return nil, fmt.Errorf("%s: resource %s not declared", TagEnforcerStackName, ResourceFunction)
	}
	env, ok := res.Properties["Environment"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: function has no environment", TagEnforcerStackName)
	}
	vars, ok := env["Variables"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: function environment has no variables", TagEnforcerStackName)
	}
	return vars, nil
}
