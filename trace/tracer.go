package trace

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/richinsley/comfytrace/graphapi"
)

// ErrEmptyGraph is the only error Trace returns: there is nothing to trace
var ErrEmptyGraph = errors.New("graph has no nodes")

// Precedence decides which of two available values for a widget wins
type Precedence string

const (
	// PreferExecution uses the value the node ran with when the prompt chunk has one
	PreferExecution Precedence = "execution"
	// PreferWidget uses the value shown in the editor
	PreferWidget Precedence = "widget"
)

const (
	DefaultConcatSeparator = ", "
	DefaultMaxDepth        = 256
	DefaultMaxSteps        = 100000
)

// textKeys are the encoder inputs holding prompt text
var textKeys = []string{"text", "text_g", "text_l", "clip_l", "t5xxl", "prompt"}

// Options configures a Tracer. Zero values select the defaults.
type Options struct {
	Rules           *Rules
	Precedence      Precedence
	ConcatSeparator string
	MaxDepth        int
	MaxSteps        int
	Logger          *slog.Logger
}

// Tracer walks conditioning chains backwards from samplers. It holds no per-trace
// state, so one Tracer may trace many graphs concurrently.
type Tracer struct {
	opts Options
}

// New returns a tracer with defaults filled in
func New(opts Options) *Tracer {
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Precedence == "" {
		opts.Precedence = PreferExecution
	}
	if opts.ConcatSeparator == "" {
		opts.ConcatSeparator = DefaultConcatSeparator
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracer{opts: opts}
}

// Trace traces g with the default options
func Trace(g *graphapi.Graph, rec graphapi.ExecutionRecord) (*Result, error) {
	return New(Options{}).Trace(g, rec)
}

// Trace finds the prompts and LoRAs in effect for every active sampler of g.
// rec is the prompt chunk and may be nil. Broken branches only add warnings.
func (tr *Tracer) Trace(g *graphapi.Graph, rec graphapi.ExecutionRecord) (*Result, error) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, ErrEmptyGraph
	}
	w := &walk{
		tr:     tr,
		g:      g,
		rec:    rec,
		res:    newResult(),
		path:   make(map[graphapi.NodeID]bool),
		seen:   make(map[string]bool),
		loras:  make(map[graphapi.NodeID]bool),
		warned: make(map[string]bool),
	}
	for _, node := range g.NodesInExecutionOrder() {
		if node.Mode.Skipped() || tr.opts.Rules.Classify(node.Type) != KindSink {
			continue
		}
		w.traceSink(node)
	}
	tr.opts.Logger.Debug("trace complete",
		"sinks", len(w.res.Sinks),
		"positive", len(w.res.Positive),
		"negative", len(w.res.Negative),
		"loras", len(w.res.Loras),
		"steps", w.steps)
	return w.res, nil
}

// fragment is text on its way from an encoder to a sink
type fragment struct {
	text    string
	weight  float64
	sources []graphapi.NodeID
}

// walk is the state of one Trace call
type walk struct {
	tr     *Tracer
	g      *graphapi.Graph
	rec    graphapi.ExecutionRecord
	res    *Result
	path   map[graphapi.NodeID]bool // nodes on the current path
	steps  int
	seen   map[string]bool // emitted prompts per polarity
	loras  map[graphapi.NodeID]bool
	warned map[string]bool
}

func (w *walk) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if w.warned[msg] {
		return
	}
	w.warned[msg] = true
	w.res.Warnings = append(w.res.Warnings, msg)
	w.tr.opts.Logger.Warn("trace: " + msg)
}

func (w *walk) traceSink(sink *graphapi.Node) {
	w.res.Sinks = append(w.res.Sinks, sink.ID)
	sig := w.g.Signature(sink.ID)
	if sig == nil {
		return
	}
	w.path[sink.ID] = true
	defer delete(w.path, sink.ID)

	for i, in := range sig.Inputs {
		conn := w.g.GetInputLink(sink.ID, i)
		switch {
		case strings.EqualFold(in.Type, graphapi.TypeConditioning):
			negative := strings.Contains(strings.ToLower(in.Name), "negative")
			for _, f := range w.conditioning(conn, 1) {
				w.emit(Prompt{Text: f.text, Weight: f.weight, Sources: f.sources, Sink: sink.ID, Input: in.Name}, negative)
			}
		case strings.EqualFold(in.Type, graphapi.TypeModel):
			w.modelChain(conn, 1)
		}
	}
}

func (w *walk) emit(p Prompt, negative bool) {
	key := promptKey(p)
	if negative {
		key = "-" + key
	} else {
		key = "+" + key
	}
	if w.seen[key] {
		return
	}
	w.seen[key] = true
	if negative {
		w.res.Negative = append(w.res.Negative, p)
	} else {
		w.res.Positive = append(w.res.Positive, p)
	}
}

// enter puts node on the current path. It refuses revisits and anything past the
// depth or step bounds, turning that branch into a dead end.
func (w *walk) enter(node *graphapi.Node, depth int) bool {
	if w.path[node.ID] {
		w.warn("cycle through node %s (%s), branch ignored", node.ID, node.Type)
		return false
	}
	if depth > w.tr.opts.MaxDepth {
		w.warn("chain deeper than %d nodes at node %s, branch ignored", w.tr.opts.MaxDepth, node.ID)
		return false
	}
	w.steps++
	if w.steps > w.tr.opts.MaxSteps {
		w.warn("step budget of %d exhausted, remaining branches ignored", w.tr.opts.MaxSteps)
		return false
	}
	w.path[node.ID] = true
	return true
}

func (w *walk) leave(node *graphapi.Node) {
	delete(w.path, node.ID)
}

// source returns the producer of conn, warning when the link dangles
func (w *walk) source(conn *graphapi.Connection) *graphapi.Node {
	if conn == nil {
		return nil
	}
	node := w.g.GetNodeById(conn.Source)
	if node == nil {
		w.warn("link %s comes from missing node %s", conn.ID, conn.Source)
	}
	return node
}

// conditioning resolves the text arriving over conn
func (w *walk) conditioning(conn *graphapi.Connection, depth int) []fragment {
	node := w.source(conn)
	if node == nil {
		return nil
	}
	if !w.enter(node, depth) {
		return nil
	}
	defer w.leave(node)

	if node.Mode.Skipped() {
		return w.conditioning(w.sameTypeInput(node, conn), depth+1)
	}

	kind := w.tr.opts.Rules.Classify(node.Type)
	switch kind {
	case KindTextEncoder:
		w.clipChain(node, depth)
		text := w.encoderText(node)
		if text == "" {
			return nil
		}
		return []fragment{{text: text, weight: 1, sources: []graphapi.NodeID{node.ID}}}
	case KindConcat:
		return w.concat(node, depth)
	case KindAverage:
		return w.average(node, depth)
	case KindCombine:
		var retv []fragment
		for _, slot := range w.conditioningInputs(node) {
			retv = append(retv, w.conditioning(w.g.GetInputLink(node.ID, slot), depth+1)...)
		}
		return retv
	case KindControlNet:
		w.res.UsesControlNet = true
		return w.conditioning(w.sameTypeInput(node, conn), depth+1)
	case KindPassThrough:
		return w.conditioning(w.sameTypeInput(node, conn), depth+1)
	case KindZeroOut:
		return nil
	case KindLoraLoader:
		w.recordLora(node)
		return w.conditioning(w.sameTypeInput(node, conn), depth+1)
	default:
		w.warn("node %s has unrecognised type %q, branch ignored", node.ID, node.Type)
		return nil
	}
}

func (w *walk) conditioningInputs(node *graphapi.Node) []int {
	retv := make([]int, 0)
	sig := w.g.Signature(node.ID)
	if sig == nil {
		return retv
	}
	for i, in := range sig.Inputs {
		if strings.EqualFold(in.Type, graphapi.TypeConditioning) {
			retv = append(retv, i)
		}
	}
	return retv
}

// concat joins everything its inputs carry into a single prompt
func (w *walk) concat(node *graphapi.Node, depth int) []fragment {
	var parts []string
	var sources []graphapi.NodeID
	for _, slot := range w.conditioningInputs(node) {
		for _, f := range w.conditioning(w.g.GetInputLink(node.ID, slot), depth+1) {
			parts = append(parts, f.text)
			sources = append(sources, f.sources...)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return []fragment{{
		text:    strings.Join(parts, w.tr.opts.ConcatSeparator),
		weight:  1,
		sources: sources,
	}}
}

// average keeps both sides, scaling conditioning_to by the strength and
// conditioning_from by its complement
func (w *walk) average(node *graphapi.Node, depth int) []fragment {
	strength, ok := w.number(node, "conditioning_to_strength", 0)
	if !ok {
		strength = 1
	}
	slots := w.conditioningInputs(node)
	sig := w.g.Signature(node.ID)
	toSlot, _ := sig.InputWithName("conditioning_to")
	if toSlot < 0 && len(slots) > 0 {
		toSlot = slots[0]
	}

	var retv []fragment
	for _, slot := range slots {
		scale := 1 - strength
		if slot == toSlot {
			scale = strength
		}
		for _, f := range w.conditioning(w.g.GetInputLink(node.ID, slot), depth+1) {
			f.weight *= scale
			retv = append(retv, f)
		}
	}
	return retv
}

// edgeType is the data type carried by conn, falling back to the producing slot
func (w *walk) edgeType(conn *graphapi.Connection) string {
	if conn.Type != "" && conn.Type != graphapi.TypeAny {
		return conn.Type
	}
	if sig := w.g.Signature(conn.Source); sig != nil && conn.SourceSlot >= 0 && conn.SourceSlot < len(sig.Outputs) {
		if t := sig.Outputs[conn.SourceSlot].Type; t != "" {
			return t
		}
	}
	return graphapi.TypeAny
}

// sameTypeInput finds the input a node forwards to the output conn leaves from:
// the n-th input of the edge's type for output slot n, else the first one.
// Returns nil when the node has no input of that type.
func (w *walk) sameTypeInput(node *graphapi.Node, conn *graphapi.Connection) *graphapi.Connection {
	candidates := w.g.Signature(node.ID).InputsOfType(w.edgeType(conn))
	if len(candidates) == 0 {
		return nil
	}
	slot := candidates[0]
	if conn.SourceSlot >= 0 && conn.SourceSlot < len(candidates) {
		slot = candidates[conn.SourceSlot]
	}
	return w.g.GetInputLink(node.ID, slot)
}

// clipChain walks an encoder's clip input for LoRA loaders
func (w *walk) clipChain(encoder *graphapi.Node, depth int) {
	sig := w.g.Signature(encoder.ID)
	if sig == nil {
		return
	}
	slot, _ := sig.InputWithName("clip")
	if slot < 0 {
		for i, in := range sig.Inputs {
			if strings.EqualFold(in.Type, graphapi.TypeClip) {
				slot = i
				break
			}
		}
	}
	if slot >= 0 {
		w.modelChain(w.g.GetInputLink(encoder.ID, slot), depth+1)
	}
}

// modelChain follows a MODEL or CLIP edge upstream, recording LoRA loaders, until
// it reaches a node with no input of the edge's type (usually the checkpoint loader)
func (w *walk) modelChain(conn *graphapi.Connection, depth int) {
	node := w.source(conn)
	if node == nil {
		return
	}
	if !w.enter(node, depth) {
		return
	}
	defer w.leave(node)

	if !node.Mode.Skipped() && w.tr.opts.Rules.Classify(node.Type) == KindLoraLoader {
		w.recordLora(node)
	}
	w.modelChain(w.sameTypeInput(node, conn), depth+1)
}

func (w *walk) recordLora(node *graphapi.Node) {
	if w.loras[node.ID] {
		return
	}
	w.loras[node.ID] = true

	name := w.str(node, "lora_name")
	if name == "" {
		w.warn("LoRA loader %s has no lora_name", node.ID)
		return
	}
	model, _ := w.number(node, "strength_model", 0)
	clip, _ := w.number(node, "strength_clip", 1)
	w.res.Loras = append(w.res.Loras, Lora{
		Name:          name,
		ModelStrength: model,
		ClipStrength:  clip,
		Node:          node.ID,
	})
}
