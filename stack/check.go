package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jaguar-finops/guardrails/enforcer"
	"github.com/jaguar-finops/guardrails/tags"
	"github.com/jaguar-finops/guardrails/trigger"
)

// Check renders the stacks and verifies the parts agree with each other:
// the SCP and the handler require the same tags, every handler
// environment value is set, the rule routes exactly the events the
// handler supports, and every routed call is one the SCP guards.
func (a *App) Check() error {
	stacks, err := a.Stacks()
	if err != nil {
		return err
	}

	rendered := make(map[string]Template, len(stacks))
	for _, s := range stacks {
		data, err := s.Template.JSON()
		if err != nil {
			return err
		}
		t, err := ParseTemplate(data)
		if err != nil {
			return err
		}
		rendered[s.Name] = t
	}
	return checkTemplates(rendered)
}

// checkTemplates runs the cross-stack checks on rendered templates,
// keyed by stack name.
func checkTemplates(rendered map[string]Template) error {
	var errs []error
	for _, want := range []struct{ stack, typ string }{
		{SCPStackName, TypeOrganizationsPolicy},
		{TagEnforcerStackName, TypeFunction},
		{TagEnforcerStackName, TypeRule},
		{BudgetsStackName, TypeBudget},
	} {
		if n := len(rendered[want.stack].ResourcesOfType(want.typ)); n != 1 {
			errs = append(errs, fmt.Errorf("%s declares %d %s resources, want 1", want.stack, n, want.typ))
		}
	}

	doc, err := policyDocument(rendered[SCPStackName])
	if err != nil {
		return err
	}
	scpTags := doc.RequiredTagKeys()

	env, err := functionEnvironment(rendered[TagEnforcerStackName])
	if err != nil {
		return err
	}
	for _, key := range []string{
		enforcer.EnvRequiredTagKeys,
		enforcer.EnvDefaultTagsJSON,
		enforcer.EnvAllowedEnvValues,
		enforcer.EnvAlertsTopicARN,
	} {
		if !nonEmpty(env[key]) {
			errs = append(errs, fmt.Errorf("handler environment %s is empty", key))
		}
	}
	if raw, ok := env[enforcer.EnvRequiredTagKeys].(string); ok {
		if handlerTags := tags.ParseSet(raw); !handlerTags.Equal(scpTags) {
			errs = append(errs, fmt.Errorf("handler requires tags %v, policy requires %v", handlerTags.Sorted(), scpTags.Sorted()))
		}
	}

	pattern, err := rulePattern(rendered[TagEnforcerStackName])
	if err != nil {
		return err
	}
	var routed []string
	if pattern.Detail != nil {
		routed = slices.Clone(pattern.Detail.EventName)
	}
	slices.Sort(routed)
	if supported := enforcer.SupportedEvents(); !slices.Equal(routed, supported) {
		errs = append(errs, fmt.Errorf("rule routes %v, handler supports %v", routed, supported))
	}

	denied := doc.DeniedActions()
	for _, sub := range trigger.Subscriptions() {
		if !pattern.Matches(sub.Source, trigger.DetailTypeCloudTrail, sub.EventName) {
			errs = append(errs, fmt.Errorf("rule does not route %s from %s", sub.EventName, sub.Source))
		}
		if !slices.Contains(denied, sub.Action) {
			errs = append(errs, fmt.Errorf("policy does not guard %s", sub.Action))
		}
	}

	return errors.Join(errs...)
}

func rulePattern(t Template) (trigger.Pattern, error) {
	res, ok := t.Resources[ResourceRule]
	if !ok {
		return trigger.Pattern{}, fmt.Errorf("%s: resource %s not declared", TagEnforcerStackName, ResourceRule)
	}
	var p trigger.Pattern
	if err := decodeProperty(res, "EventPattern", &p); err != nil {
		return trigger.Pattern{}, err
	}
	return p, nil
}

func decodeProperty(res Resource, name string, out interface{}) error {
	raw, err := json.Marshal(res.Properties[name])
	if err != nil {
		return fmt.Errorf("property %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("property %s: %w", name, err)
	}
	return nil
}

// nonEmpty treats intrinsics as set; CloudFormation resolves them at deploy
func nonEmpty(v interface{}) bool {
	switch val := v.(type) {
	case string:
		return val != ""
	case map[string]interface{}:
		return len(val) > 0
	}
	return false
}
