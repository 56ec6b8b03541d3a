package policy

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/telemetry"
)

//go:embed rego/guardrail.rego
var guardrailModule string

// Request is a create call as seen by the SCP engine
type Request struct {
	Action  string
	TagKeys tags.Set
}

// Decision is the simulated outcome for a request
type Decision struct {
	Denied     bool     `json:"denied"`
	Statements []string `json:"statements,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

type simulatorInput struct {
	Action  string   `json:"action"`
	TagKeys []string `json:"tag_keys"`
	Policy  Document `json:"policy"`
}

// Simulator evaluates requests against a policy document locally. It
// approximates the Organizations engine for the guardrail's own shape
// and is not a general SCP evaluator.
type Simulator struct {
	document Document
	query    rego.PreparedEvalQuery
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// NewSimulator compiles the guardrail rules for document
func NewSimulator(ctx context.Context, document Document) (*Simulator, error) {
	query, err := rego.New(
		rego.Query("data.guardrails.scp"),
		rego.Module("guardrail.rego", guardrailModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile guardrail rules: %w", err)
	}

	return &Simulator{
		document: document,
		query:    query,
		logger:   telemetry.NewLogger("scp-simulator"),
		tracer:   otel.Tracer("scp-simulator"),
	}, nil
}

// Evaluate decides whether req would be denied
func (s *Simulator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	ctx, span := s.tracer.Start(ctx, "scp_simulator.evaluate",
		trace.WithAttributes(attribute.String("scp.action", req.Action)))
	defer span.End()

	keys := []string(req.TagKeys)
	if keys == nil {
		keys = []string{}
	}

	results, err := s.query.Eval(ctx, rego.EvalInput(simulatorInput{
		Action:  req.Action,
		TagKeys: keys,
		Policy:  s.document,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate guardrail: %w", err)
	}

	decision := parseResults(results)

	s.logger.WithContext(ctx).Debug().
		Str("action", req.Action).
		Strs("tag_keys", keys).
		Bool("denied", decision.Denied).
		Strs("missing", decision.Missing).
		Msg("simulated scp decision")

	return decision, nil
}

func parseResults(results rego.ResultSet) Decision {
	var d Decision
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return d
	}

	// OPA returns the package as a JSON-like object
	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return d
	}

	d.Denied, _ = obj["deny"].(bool)
	d.Statements = stringList(obj["matching"])
	d.Missing = stringList(obj["missing"])
	return d
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
