package enforcer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jaguar-finops/guardrails/tags"
)

// tagEntry is one CloudTrail tag. encoding/json matches field names
// case-insensitively, so both key/value and Key/Value decode.
type tagEntry struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// tagList accepts CloudTrail's two renderings of a tag list: a bare
// array, or an object wrapping it in "items".
type tagList []tagEntry

func (l *tagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var entries []tagEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*l = entries
		return nil
	}
	var wrapped struct {
		Items []tagEntry `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*l = wrapped.Items
	return nil
}

func (l tagList) toTags() tags.Tags {
	out := make(tags.Tags, len(l))
	for _, t := range l {
		if t.Key == "" {
			continue
		}
		if t.Value != nil {
			out[t.Key] = *t.Value
		} else {
			out[t.Key] = ""
		}
	}
	return out
}

type runInstancesRequest struct {
	TagSpecificationSet struct {
		Items []struct {
			ResourceType string  `json:"resourceType"`
			Tags         tagList `json:"tags"`
		} `json:"items"`
	} `json:"tagSpecificationSet"`
}

type runInstancesResponse struct {
	InstancesSet struct {
		Items []struct {
			InstanceID string `json:"instanceId"`
		} `json:"items"`
	} `json:"instancesSet"`
}

type createBucketRequest struct {
	BucketName string `json:"bucketName"`
}

// decodeRaw unmarshals an optional CloudTrail payload; absent and null
// payloads leave v zero.
func decodeRaw(raw json.RawMessage, v interface{}, what string) error {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

// instanceIDs returns the launched instance ids
func (r runInstancesResponse) instanceIDs() []string {
	var ids []string
	for _, item := range r.InstancesSet.Items {
		if item.InstanceID != "" {
			ids = append(ids, item.InstanceID)
		}
	}
	return ids
}

// requestTags flattens every tag specification of the request
func (r runInstancesRequest) requestTags() tags.Tags {
	out := tags.Tags{}
	for _, spec := range r.TagSpecificationSet.Items {
		for k, v := range spec.Tags.toTags() {
			out[k] = v
		}
	}
	return out
}
