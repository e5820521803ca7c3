package trace

import (
	"strconv"
	"strings"

	"github.com/richinsley/comfytrace/graphapi"
)

// Prompt is one piece of conditioning text reaching a sampler
type Prompt struct {
	Text    string            `json:"text" yaml:"text"`
	Weight  float64           `json:"weight" yaml:"weight"`
	Sources []graphapi.NodeID `json:"sources" yaml:"sources"` // text encoders the text came from
	Sink    graphapi.NodeID   `json:"sink" yaml:"sink"`
	Input   string            `json:"input" yaml:"input"` // sink input the chain was traced from
}

// Lora is a LoRA loader found on a model or clip chain
type Lora struct {
	Name          string          `json:"name" yaml:"name"`
	ModelStrength float64         `json:"model_strength" yaml:"model_strength"`
	ClipStrength  float64         `json:"clip_strength" yaml:"clip_strength"`
	Node          graphapi.NodeID `json:"node" yaml:"node"`
}

// Result is everything a trace found. Empty sequences are non-nil so they
// serialise as [] rather than null.
type Result struct {
	Positive       []Prompt          `json:"positive" yaml:"positive"`
	Negative       []Prompt          `json:"negative" yaml:"negative"`
	Loras          []Lora            `json:"loras" yaml:"loras"`
	UsesControlNet bool              `json:"uses_controlnet" yaml:"uses_controlnet"`
	Sinks          []graphapi.NodeID `json:"sinks" yaml:"sinks"`
	Warnings       []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func newResult() *Result {
	return &Result{
		Positive: make([]Prompt, 0),
		Negative: make([]Prompt, 0),
		Loras:    make([]Lora, 0),
		Sinks:    make([]graphapi.NodeID, 0),
	}
}

// Empty reports whether no prompt text was found
func (r *Result) Empty() bool {
	return len(r.Positive) == 0 && len(r.Negative) == 0
}

// PositiveText returns the positive prompt texts in order
func (r *Result) PositiveText() []string {
	return texts(r.Positive)
}

// NegativeText returns the negative prompt texts in order
func (r *Result) NegativeText() []string {
	return texts(r.Negative)
}

func texts(prompts []Prompt) []string {
	retv := make([]string, 0, len(prompts))
	for _, p := range prompts {
		retv = append(retv, p.Text)
	}
	return retv
}

// promptKey identifies a prompt regardless of the sink it was reached from, so a
// base and a refiner sampler sharing encoders report the text once
func promptKey(p Prompt) string {
	var sb strings.Builder
	sb.WriteString(p.Text)
	sb.WriteByte(0)
	sb.WriteString(strconv.FormatFloat(p.Weight, 'g', -1, 64))
	for _, s := range p.Sources {
		sb.WriteByte(0)
		sb.WriteString(string(s))
	}
	return sb.String()
}
