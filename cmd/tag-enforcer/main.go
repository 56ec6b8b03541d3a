// Tag enforcer - Lambda entrypoint
// Reads its configuration from the environment the stack declares and
// handles one EventBridge event per invocation.
package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/internal/awsapi"
	"github.com/jaguar-finops/guardrails/internal/config"
	"github.com/jaguar-finops/guardrails/internal/telemetry"
	"github.com/jaguar-finops/guardrails/storage"
)

// ledgerTTL bounds how long an event id stays claimed in DynamoDB
const ledgerTTL = 7 * 24 * time.Hour

// response is the function result
type response struct {
	OK     bool            `json:"ok"`
	Result enforcer.Result `json:"result"`
}

func main() {
	ctx := context.Background()

	cfg, err := enforcer.FromOSEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid environment")
	}

	awsCfg, err := awsapi.LoadConfig(ctx, os.Getenv("AWS_REGION"), "")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}
	clients := awsapi.FromConfig(awsCfg)

	opts := []enforcer.Option{
		enforcer.WithOwner(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")),
	}

	// Metrics and traces are only exported when a collector is configured
	var flush func(context.Context) error
	if otelCfg, ok := otelFromEnv(os.Getenv); ok {
		provider, err := telemetry.NewProvider(ctx, otelCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init telemetry")
		}
		flush = provider.Flush

		metrics, err := enforcer.NewMetrics()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create metrics")
		}
		opts = append(opts, enforcer.WithMetrics(metrics))
	}
	if cfg.LedgerTable != "" {
		opts = append(opts, enforcer.WithLedger(storage.NewDynamoDBLedger(clients.DynamoDB, cfg.LedgerTable, ledgerTTL)))
	}

	handler, err := enforcer.NewHandler(cfg, clients.EC2, clients.S3, clients.SNS, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(newInvoke(handler, flush))
}

// otelFromEnv reads the standard OTLP variables. ok is false when no
// endpoint is set.
func otelFromEnv(getenv func(string) string) (cfg config.OTELConfig, ok bool) {
	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return config.OTELConfig{}, false
	}

	insecure, _ := strconv.ParseBool(getenv("OTEL_EXPORTER_OTLP_INSECURE"))
	if rest, found := strings.CutPrefix(endpoint, "http://"); found {
		endpoint, insecure = rest, true
	}
	endpoint = strings.TrimPrefix(endpoint, "https://")

	service := getenv("OTEL_SERVICE_NAME")
	if service == "" {
		service = "tag-enforcer"
	}
	return config.OTELConfig{
		Endpoint:    endpoint,
		Insecure:    insecure,
		ServiceName: service,
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}, true
}

// eventHandler is the part of the enforcer the entrypoint calls
type eventHandler interface {
	Handle(ctx context.Context, ev events.CloudWatchEvent) (enforcer.Result, error)
}

// newInvoke adapts the handler to the Lambda signature. flush, when set,
// runs after every event.
func newInvoke(h eventHandler, flush func(context.Context) error) func(context.Context, events.CloudWatchEvent) (response, error) {
	return func(ctx context.Context, ev events.CloudWatchEvent) (response, error) {
		result, err := h.Handle(ctx, ev)
		if flush != nil {
			if ferr := flush(ctx); ferr != nil {
				log.Warn().Err(ferr).Msg("telemetry flush failed")
			}
		}
		if err != nil {
			return response{}, err
		}
		return response{OK: true, Result: result}, nil
	}
}
