package graphapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

var promptNodeFields = []string{"class_type", "inputs"}

// MaxDerivedOutputs bounds the output slots created for a prompt node. Edges
// naming a higher slot are left to validateEndpoints as out of range.
const MaxDerivedOutputs = 256

// inputTypeByName fills in slot types the prompt format does not record
var inputTypeByName = map[string]string{
	"positive":          TypeConditioning,
	"negative":          TypeConditioning,
	"conditioning":      TypeConditioning,
	"conditioning_1":    TypeConditioning,
	"conditioning_2":    TypeConditioning,
	"conditioning_to":   TypeConditioning,
	"conditioning_from": TypeConditioning,
	"model":             TypeModel,
	"clip":              TypeClip,
	"text":              TypeString,
	"text_g":            TypeString,
	"text_l":            TypeString,
	"clip_l":            TypeString,
	"t5xxl":             TypeString,
	"vae":               "VAE",
	"latent_image":      "LATENT",
	"latent":            "LATENT",
	"samples":           "LATENT",
	"image":             "IMAGE",
	"images":            "IMAGE",
	"pixels":            "IMAGE",
	"mask":              "MASK",
	"control_net":       "CONTROL_NET",
	"clip_vision":       "CLIP_VISION",
	"guider":            "GUIDER",
	"sampler":           "SAMPLER",
	"sigmas":            "SIGMAS",
	"noise":             "NOISE",
	"upscale_model":     "UPSCALE_MODEL",
}

// InferInputType guesses a slot type from an input name
func InferInputType(name string) string {
	if t, ok := inputTypeByName[name]; ok {
		return t
	}
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "conditioning"),
		strings.HasPrefix(lower, "positive"),
		strings.HasPrefix(lower, "negative"):
		return TypeConditioning
	case strings.HasPrefix(lower, "model"):
		return TypeModel
	case strings.HasPrefix(lower, "clip") && !strings.Contains(lower, "vision"):
		return TypeClip
	}
	return TypeAny
}

// directEmbedParser reads the execution prompt, where each input holds either a
// literal widget value or [source id, output slot]
type directEmbedParser struct{}

func (directEmbedParser) parse(_ map[string]json.RawMessage, raw []byte) (*Graph, error) {
	graph := newGraph(FormatDirectEmbed)

	// decode again preserving order; map iteration would shuffle nodes and widgets
	members, err := decodeOrderedObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSchema, err)
	}

	linkOrder := make([]LinkID, 0)
	for _, m := range members {
		nid := NodeID(m.Key)
		if _, dup := graph.Nodes[nid]; dup {
			graph.addAnomaly(AnomalyDuplicateNode, nid, "", "prompt repeats node id")
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(m.Value, &obj); err != nil {
			graph.addAnomaly(AnomalyInvalidNode, nid, "", "%v", err)
			continue
		}

		node := &Node{
			ID:    nid,
			Order: len(graph.NodeOrder),
			Extra: splitFields(obj, promptNodeFields...),
		}
		decodeOptional(obj["class_type"], &node.Type)
		node.Title = promptTitle(obj["_meta"])

		sig := &Signature{}
		if rawKind(obj["inputs"]) == '{' {
			inputs, err := decodeOrderedObject(obj["inputs"])
			if err != nil {
				graph.addAnomaly(AnomalyInvalidNode, nid, "", "inputs: %v", err)
			}
			for _, in := range inputs {
				var v interface{}
				if err := json.Unmarshal(in.Value, &v); err != nil {
					continue
				}
				src, srcSlot, isLink := linkReference(v)
				if !isLink {
					node.WidgetValues = append(node.WidgetValues, v)
					node.WidgetNames = append(node.WidgetNames, in.Key)
					continue
				}
				slot := len(sig.Inputs)
				typ := InferInputType(in.Key)
				link := LinkID(fmt.Sprintf("%s:%d>%s:%d", src, srcSlot, nid, slot))
				graph.Connections[link] = &Connection{
					ID:         link,
					Source:     src,
					SourceSlot: srcSlot,
					Target:     nid,
					TargetSlot: slot,
					Type:       typ,
				}
				linkOrder = append(linkOrder, link)
				sig.Inputs = append(sig.Inputs, Input{Name: in.Key, Type: typ, Link: &link})
			}
		}

		graph.Nodes[nid] = node
		graph.IO[nid] = sig
		graph.NodeOrder = append(graph.NodeOrder, nid)
	}

	graph.deriveOutputs(linkOrder)
	graph.validateEndpoints(linkOrder)
	return graph, nil
}

// deriveOutputs creates the output slots implied by the connections, since the
// prompt format only records edges on the consuming side
func (t *Graph) deriveOutputs(linkOrder []LinkID) {
	for _, id := range linkOrder {
		conn := t.Connections[id]
		sig, ok := t.IO[conn.Source]
		if !ok || conn.SourceSlot < 0 || conn.SourceSlot >= MaxDerivedOutputs {
			continue
		}
		for len(sig.Outputs) <= conn.SourceSlot {
			sig.Outputs = append(sig.Outputs, Output{Name: fmt.Sprintf("output_%d", len(sig.Outputs)), Type: TypeAny})
		}
		out := &sig.Outputs[conn.SourceSlot]
		if out.Type == TypeAny && conn.Type != TypeAny {
			out.Type = conn.Type
		}
		out.Links = append(out.Links, id)
	}
}

// linkReference recognises ["source id", slot]. Source ids are always strings in
// the prompt format, which keeps literal number pairs from being read as edges.
func linkReference(v interface{}) (NodeID, int, bool) {
	pair, ok := v.([]interface{})
	if !ok || len(pair) != 2 {
		return "", 0, false
	}
	src, ok := pair[0].(string)
	if !ok || src == "" {
		return "", 0, false
	}
	slot, ok := pair[1].(float64)
	if !ok || slot < 0 || slot != math.Trunc(slot) {
		return "", 0, false
	}
	if slot > math.MaxInt32 {
		slot = math.MaxInt32
	}
	return NodeID(src), int(slot), true
}

func promptTitle(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var meta struct {
		Title string `json:"title"`
	}
	_ = json.Unmarshal(raw, &meta)
	return meta.Title
}
