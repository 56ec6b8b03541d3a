package stack

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// TemplateFormatVersion is the only CloudFormation template version
const TemplateFormatVersion = "2010-09-09"

// Template is a CloudFormation template. Maps marshal with sorted keys,
// so rendering is byte-stable.
type Template struct {
	AWSTemplateFormatVersion string               `json:"AWSTemplateFormatVersion"`
	Description              string               `json:"Description,omitempty"`
	Parameters               map[string]Parameter `json:"Parameters,omitempty"`
	Resources                map[string]Resource  `json:"Resources"`
	Outputs                  map[string]Output    `json:"Outputs,omitempty"`
}

// Parameter is a template input
type Parameter struct {
	Type        string `json:"Type"`
	Description string `json:"Description,omitempty"`
	Default     string `json:"Default,omitempty"`
}

// Resource is one declared resource
type Resource struct {
	Type       string                 `json:"Type"`
	DependsOn  []string               `json:"DependsOn,omitempty"`
	Properties map[string]interface{} `json:"Properties,omitempty"`
}

// Output is a stack output
type Output struct {
	Description string      `json:"Description,omitempty"`
	Value       interface{} `json:"Value"`
}

// Intrinsic is a CloudFormation intrinsic function call
type Intrinsic map[string]interface{}

// Ref references a resource or parameter
func Ref(name string) Intrinsic {
	return Intrinsic{"Ref": name}
}

// GetAtt reads an attribute of a resource
func GetAtt(resource, attribute string) Intrinsic {
	return Intrinsic{"Fn::GetAtt": []string{resource, attribute}}
}

// Sub substitutes ${...} references in s
func Sub(s string) Intrinsic {
	return Intrinsic{"Fn::Sub": s}
}

func newTemplate(description string) Template {
	return Template{
		AWSTemplateFormatVersion: TemplateFormatVersion,
		Description:              description,
		Resources:                map[string]Resource{},
		Outputs:                  map[string]Output{},
	}
}

// JSON renders the template indented, with a trailing newline
func (t Template) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	return append(data, '\n'), nil
}

// YAML renders the template in block style. It goes through the JSON
// form so both renderings share key order and field names.
func (t Template) YAML() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	return jsonToYAML(data)
}

func jsonToYAML(data []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	blockStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// blockStyle drops the flow and quoting styles inherited from JSON; the
// encoder still quotes strings that would otherwise read as another type.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// ParseTemplate decodes a JSON template
func ParseTemplate(data []byte) (Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

// ResourcesOfType returns the logical ids of resources with the type
func (t Template) ResourcesOfType(typ string) []string {
	var ids []string
	for id, r := range t.Resources {
		if r.Type == typ {
			ids = append(ids, id)
		}
	}
	return sortedStrings(ids)
}
