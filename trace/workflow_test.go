package trace

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/richinsley/comfytrace/graphapi"
	"github.com/stretchr/testify/require"
)

type slot struct {
	Name string
	Type string
}

type testNode struct {
	ID      int
	Type    string
	Mode    graphapi.Mode
	Widgets []interface{}
	Inputs  []slot
	Outputs []slot
}

type testLink struct {
	ID, Src, SrcSlot, Dst, DstSlot int
	Type                           string
}

// testWorkflow assembles an editor workflow document node by node
type testWorkflow struct {
	nodes []*testNode
	links []testLink
}

func (w *testWorkflow) add(n *testNode) *testNode {
	w.nodes = append(w.nodes, n)
	return n
}

func (w *testWorkflow) find(id int) *testNode {
	for _, n := range w.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (w *testWorkflow) mode(id int, m graphapi.Mode) {
	w.find(id).Mode = m
}

func (w *testWorkflow) connect(src, srcSlot, dst, dstSlot int) {
	w.links = append(w.links, testLink{
		ID:      len(w.links) + 1,
		Src:     src,
		SrcSlot: srcSlot,
		Dst:     dst,
		DstSlot: dstSlot,
		Type:    w.find(src).Outputs[srcSlot].Type,
	})
}

func (w *testWorkflow) document() []byte {
	nodes := make([]map[string]interface{}, 0, len(w.nodes))
	for order, n := range w.nodes {
		inputs := make([]map[string]interface{}, 0)
		for i, in := range n.Inputs {
			var link interface{}
			for _, l := range w.links {
				if l.Dst == n.ID && l.DstSlot == i {
					link = l.ID
				}
			}
			inputs = append(inputs, map[string]interface{}{"name": in.Name, "type": in.Type, "link": link})
		}
		outputs := make([]map[string]interface{}, 0)
		for i, out := range n.Outputs {
			links := make([]int, 0)
			for _, l := range w.links {
				if l.Src == n.ID && l.SrcSlot == i {
					links = append(links, l.ID)
				}
			}
			outputs = append(outputs, map[string]interface{}{"name": out.Name, "type": out.Type, "links": links})
		}
		widgets := n.Widgets
		if widgets == nil {
			widgets = []interface{}{}
		}
		nodes = append(nodes, map[string]interface{}{
			"id":             n.ID,
			"type":           n.Type,
			"mode":           int(n.Mode),
			"order":          order,
			"pos":            []float64{0, 0},
			"size":           []float64{200, 100},
			"widgets_values": widgets,
			"inputs":         inputs,
			"outputs":        outputs,
		})
	}
	links := make([][]interface{}, 0, len(w.links))
	for _, l := range w.links {
		links = append(links, []interface{}{l.ID, l.Src, l.SrcSlot, l.Dst, l.DstSlot, l.Type})
	}
	doc, _ := json.Marshal(map[string]interface{}{
		"last_node_id": len(w.nodes),
		"last_link_id": len(w.links),
		"nodes":        nodes,
		"links":        links,
		"version":      0.4,
	})
	return doc
}

func (w *testWorkflow) graph() (*graphapi.Graph, error) {
	return graphapi.Build(w.document())
}

func (w *testWorkflow) mustGraph(t *testing.T) *graphapi.Graph {
	t.Helper()
	g, err := w.graph()
	require.NoError(t, err)
	return g
}

var conditioningOut = []slot{{"CONDITIONING", graphapi.TypeConditioning}}

func encoder(id int, text string) *testNode {
	return &testNode{
		ID: id, Type: "CLIPTextEncode",
		Widgets: []interface{}{text},
		Inputs:  []slot{{"clip", graphapi.TypeClip}},
		Outputs: conditioningOut,
	}
}

func sampler(id int) *testNode {
	return &testNode{
		ID: id, Type: "KSampler",
		Widgets: []interface{}{float64(42), "fixed", float64(20), float64(8), "euler", "normal", float64(1)},
		Inputs: []slot{
			{"model", graphapi.TypeModel},
			{"positive", graphapi.TypeConditioning},
			{"negative", graphapi.TypeConditioning},
			{"latent_image", "LATENT"},
		},
		Outputs: []slot{{"LATENT", "LATENT"}},
	}
}

func combiner(id int, typ string, widgets ...interface{}) *testNode {
	names := []string{"conditioning_to", "conditioning_from"}
	if typ == "ConditioningCombine" {
		names = []string{"conditioning_1", "conditioning_2"}
	}
	return &testNode{
		ID: id, Type: typ,
		Widgets: widgets,
		Inputs:  []slot{{names[0], graphapi.TypeConditioning}, {names[1], graphapi.TypeConditioning}},
		Outputs: conditioningOut,
	}
}

func setArea(id int) *testNode {
	return &testNode{
		ID: id, Type: "ConditioningSetArea",
		Widgets: []interface{}{float64(64), float64(64), float64(0), float64(0), float64(1)},
		Inputs:  []slot{{"conditioning", graphapi.TypeConditioning}},
		Outputs: conditioningOut,
	}
}

func checkpoint(id int) *testNode {
	return &testNode{
		ID: id, Type: "CheckpointLoaderSimple",
		Widgets: []interface{}{"sd15.safetensors"},
		Outputs: []slot{{"MODEL", graphapi.TypeModel}, {"CLIP", graphapi.TypeClip}, {"VAE", "VAE"}},
	}
}

func loraLoader(id int, name string, model, clip float64) *testNode {
	return &testNode{
		ID: id, Type: "LoraLoader",
		Widgets: []interface{}{name, model, clip},
		Inputs:  []slot{{"model", graphapi.TypeModel}, {"clip", graphapi.TypeClip}},
		Outputs: []slot{{"MODEL", graphapi.TypeModel}, {"CLIP", graphapi.TypeClip}},
	}
}

func nid(id int) graphapi.NodeID {
	return graphapi.NodeID(strconv.Itoa(id))
}
