package graphapi

import (
	"encoding/json"
	"strings"
)

// PromptNode is one entry of the prompt ComfyUI executed
type PromptNode struct {
	// Inputs can be one of:
	//	float64
	//	string
	//	bool
	//	[]interface{} where: [0] is string of source node
	//					     [1] is float64 (int) of slot index
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
}

// ExecutionRecord is the prompt chunk: the values each node actually ran with,
// after the frontend applied primitives, converted widgets and dynamic prompts
type ExecutionRecord map[NodeID]PromptNode

// the prompt as queued wraps the node map together with the client id
type queuedPrompt struct {
	Nodes map[NodeID]PromptNode `json:"prompt"`
}

// ParseExecutionRecord decodes the prompt chunk. Both the bare node map written to
// images and the queued {"prompt": {...}} envelope are accepted.
func ParseExecutionRecord(raw []byte) (ExecutionRecord, error) {
	var envelope queuedPrompt
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Nodes) != 0 {
		return ExecutionRecord(envelope.Nodes), nil
	}
	record := make(ExecutionRecord)
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// maximum number of node hops followed while resolving a string through links
const maxResolveHops = 16

// stringSourceKeys are the inputs that hold the value of string producing nodes
// (primitives, text boxes, concatenators)
var stringSourceKeys = []string{"value", "string", "text", "prompt", "string_a", "text_a"}

// ResolveString returns the string value a node ran with for the first of keys
// that is set. Inputs linked to another node are followed through that node's
// string inputs.
func (r ExecutionRecord) ResolveString(id NodeID, keys ...string) (string, bool) {
	return r.resolveString(id, keys, 0)
}

func (r ExecutionRecord) resolveString(id NodeID, keys []string, hops int) (string, bool) {
	if hops > maxResolveHops {
		return "", false
	}
	node, ok := r[id]
	if !ok {
		return "", false
	}
	for _, k := range keys {
		v, ok := node.Inputs[k]
		if !ok {
			continue
		}
		switch value := v.(type) {
		case string:
			return value, true
		case []interface{}:
			src, _, isLink := linkReference(value)
			if !isLink {
				continue
			}
			if s, ok := r.resolveString(src, stringSourceKeys, hops+1); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Number returns a numeric input value
func (r ExecutionRecord) Number(id NodeID, key string) (float64, bool) {
	node, ok := r[id]
	if !ok {
		return 0, false
	}
	f, ok := node.Inputs[key].(float64)
	return f, ok
}

// Has reports whether the record has an entry for the node with the same class
func (r ExecutionRecord) Has(id NodeID, classType string) bool {
	node, ok := r[id]
	return ok && strings.EqualFold(node.ClassType, classType)
}
