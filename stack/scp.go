package stack

import (
	"fmt"

	"github.com/jaguar-finops/guardrails/policy"
)

// Logical ids and outputs of the SCP stack
const (
	SCPStackName      = "JaguarFinops-SCP"
	ResourceSCP       = "RequireTagsSCP"
	OutputSCPPolicyID = "ScpPolicyId"

	TypeOrganizationsPolicy = "AWS::Organizations::Policy"
)

// SCPStack declares the organization policy requiring tags on create.
// The policy is created unattached.
func SCPStack(target Target, scp policy.ServiceControlPolicy) (Stack, error) {
	content, err := scp.Document.JSON()
	if err != nil {
		return Stack{}, err
	}

	t := newTemplate("Service control policy denying untagged resource creation")
	t.Resources[ResourceSCP] = Resource{
		Type: TypeOrganizationsPolicy,
		Properties: map[string]interface{}{
			"Name":        scp.Name,
			"Type":        scp.Type,
			"Description": scp.Description,
			"Content":     string(content),
		},
	}
	t.Outputs[OutputSCPPolicyID] = Output{
		Description: "Id of the " + scp.Name + " policy",
		Value:       GetAtt(ResourceSCP, "Id"),
	}

	return Stack{Name: SCPStackName, Target: target, Template: t}, nil
}

// policyDocument reads the embedded policy back out of an SCP template
func policyDocument(t Template) (policy.Document, error) {
	res, ok := t.Resources[ResourceSCP]
	if !ok {
		return policy.Document{}, fmt.Errorf("%s: resource %s not declared", SCPStackName, ResourceSCP)
	}
	content, ok := res.Properties["Content"].(string)
	if !ok {
		return policy.Document{}, fmt.Errorf("%s: policy content is not a string", SCPStackName)
	}
	return policy.ParseDocument([]byte(content))
}
