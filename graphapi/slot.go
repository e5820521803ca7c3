package graphapi

import "encoding/json"

// Input is a connection point on the receiving side of a node.
// Link is nil when nothing is connected.
type Input struct {
	Name  string                     `json:"name"`
	Type  string                     `json:"type"`
	Link  *LinkID                    `json:"link"`
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Output is a connection point on the producing side of a node. One output may feed many inputs.
type Output struct {
	Name  string                     `json:"name"`
	Type  string                     `json:"type"`
	Links []LinkID                   `json:"links,omitempty"`
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Signature is the ordered set of inputs and outputs of one node
type Signature struct {
	Inputs  []Input  `json:"inputs,omitempty"`
	Outputs []Output `json:"outputs,omitempty"`
}

// InputWithName returns the slot index and the input with the given name
func (s *Signature) InputWithName(name string) (int, *Input) {
	if s == nil {
		return -1, nil
	}
	for i := range s.Inputs {
		if s.Inputs[i].Name == name {
			return i, &s.Inputs[i]
		}
	}
	return -1, nil
}

// InputsOfType returns the slot indices of the inputs carrying typ
func (s *Signature) InputsOfType(typ string) []int {
	retv := make([]int, 0)
	if s == nil {
		return retv
	}
	for i := range s.Inputs {
		if SameType(s.Inputs[i].Type, typ) {
			retv = append(retv, i)
		}
	}
	return retv
}
