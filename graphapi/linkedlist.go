package graphapi

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

var (
	graphFields  = []string{"nodes", "links"}
	nodeFields   = []string{"id", "type", "title", "pos", "size", "order", "mode", "widgets_values", "inputs", "outputs"}
	inputFields  = []string{"name", "type", "link"}
	outputFields = []string{"name", "type", "links"}
)

// linkedListParser reads the editor's workflow document
type linkedListParser struct{}

func (linkedListParser) parse(doc map[string]json.RawMessage, _ []byte) (*Graph, error) {
	graph := newGraph(FormatLinkedList)
	graph.Extra = splitFields(doc, graphFields...)
	graph.SubgraphIDs = subgraphIDs(doc["definitions"])

	// links table first so slot references can be resolved as nodes are read
	linkOrder := make([]LinkID, 0)
	var links []json.RawMessage
	if !isNull(doc["links"]) {
		if err := json.Unmarshal(doc["links"], &links); err != nil {
			return nil, fmt.Errorf("%w: links: %v", ErrUnknownSchema, err)
		}
	}
	for i, raw := range links {
		if isNull(raw) {
			continue
		}
		conn, err := parseLink(raw)
		if err != nil {
			graph.addAnomaly(AnomalyInvalidLink, "", "", "links[%d]: %v", i, err)
			continue
		}
		if _, dup := graph.Connections[conn.ID]; dup {
			graph.addAnomaly(AnomalyDuplicateLink, "", conn.ID, "link id repeated in links table")
			continue
		}
		graph.Connections[conn.ID] = conn
		linkOrder = append(linkOrder, conn.ID)
	}

	var nodes []json.RawMessage
	if err := json.Unmarshal(doc["nodes"], &nodes); err != nil {
		return nil, fmt.Errorf("%w: nodes: %v", ErrUnknownSchema, err)
	}
	for i, raw := range nodes {
		if err := graph.addLinkedListNode(i, raw); err != nil {
			return nil, err
		}
	}

	graph.validateEndpoints(linkOrder)
	return graph, nil
}

func (t *Graph) addLinkedListNode(index int, raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.addAnomaly(AnomalyInvalidNode, "", "", "nodes[%d]: %v", index, err)
		return nil
	}
	id, ok := decodeID(obj["id"])
	if !ok {
		t.addAnomaly(AnomalyInvalidNode, "", "", "nodes[%d] has no id", index)
		return nil
	}
	nid := NodeID(id)
	if _, dup := t.Nodes[nid]; dup {
		t.addAnomaly(AnomalyDuplicateNode, nid, "", "nodes[%d] repeats an existing id", index)
		return nil
	}

	node := &Node{
		ID:    nid,
		Extra: splitFields(obj, nodeFields...),
	}
	decodeOptional(obj["type"], &node.Type)
	decodeOptional(obj["title"], &node.Title)
	decodeOptional(obj["pos"], &node.Position)
	decodeOptional(obj["size"], &node.Size)
	if order, ok := decodeInt(obj["order"]); ok {
		node.Order = order
	}
	if mode, ok := decodeInt(obj["mode"]); ok {
		node.Mode = Mode(mode)
	}
	node.WidgetValues, node.WidgetNames = decodeWidgets(obj["widgets_values"])

	sig, err := t.decodeLinkedListSignature(nid, obj["inputs"], obj["outputs"])
	if err != nil {
		return err
	}

	t.Nodes[nid] = node
	t.IO[nid] = sig
	t.NodeOrder = append(t.NodeOrder, nid)
	return nil
}

func (t *Graph) decodeLinkedListSignature(nid NodeID, inputsRaw, outputsRaw json.RawMessage) (*Signature, error) {
	sig := &Signature{}

	var inputs []map[string]json.RawMessage
	if !isNull(inputsRaw) {
		if err := json.Unmarshal(inputsRaw, &inputs); err != nil {
			t.addAnomaly(AnomalyInvalidNode, nid, "", "inputs: %v", err)
		}
	}
	for slot, in := range inputs {
		input := Input{Type: decodeTypeTag(in["type"]), Extra: splitFields(in, inputFields...)}
		decodeOptional(in["name"], &input.Name)
		if lid, ok := decodeID(in["link"]); ok {
			link := LinkID(lid)
			conn := t.Connections[link]
			if conn == nil {
				return nil, &UnresolvableLinkError{Link: link, Node: nid, Slot: input.Name}
			}
			if conn.Target != nid || conn.TargetSlot != slot {
				t.addAnomaly(AnomalyLinkMismatch, nid, link, "input %q at slot %d, link targets %s:%d", input.Name, slot, conn.Target, conn.TargetSlot)
			}
			input.Link = &link
		}
		sig.Inputs = append(sig.Inputs, input)
	}

	var outputs []map[string]json.RawMessage
	if !isNull(outputsRaw) {
		if err := json.Unmarshal(outputsRaw, &outputs); err != nil {
			t.addAnomaly(AnomalyInvalidNode, nid, "", "outputs: %v", err)
		}
	}
	for slot, out := range outputs {
		output := Output{Type: decodeTypeTag(out["type"]), Extra: splitFields(out, outputFields...)}
		decodeOptional(out["name"], &output.Name)
		var ids []json.RawMessage
		if !isNull(out["links"]) {
			_ = json.Unmarshal(out["links"], &ids)
		}
		for _, raw := range ids {
			lid, ok := decodeID(raw)
			if !ok {
				continue
			}
			link := LinkID(lid)
			conn := t.Connections[link]
			if conn == nil {
				return nil, &UnresolvableLinkError{Link: link, Node: nid, Slot: output.Name}
			}
			if conn.Source != nid || conn.SourceSlot != slot {
				t.addAnomaly(AnomalyLinkMismatch, nid, link, "output %q at slot %d, link leaves %s:%d", output.Name, slot, conn.Source, conn.SourceSlot)
			}
			output.Links = append(output.Links, link)
		}
		sig.Outputs = append(sig.Outputs, output)
	}
	return sig, nil
}

// decodeWidgets reads widgets_values. Most nodes write an array; some custom nodes
// write an object, whose keys become the widget names.
func decodeWidgets(raw json.RawMessage) ([]interface{}, []string) {
	switch rawKind(raw) {
	case '[':
		var values []interface{}
		if err := json.Unmarshal(raw, &values); err != nil || len(values) == 0 {
			return nil, nil
		}
		return values, nil
	case '{':
		members, err := decodeOrderedObject(raw)
		if err != nil || len(members) == 0 {
			return nil, nil
		}
		values := make([]interface{}, 0, len(members))
		names := make([]string, 0, len(members))
		for _, m := range members {
			var v interface{}
			_ = json.Unmarshal(m.Value, &v)
			values = append(values, v)
			names = append(names, m.Key)
		}
		return values, names
	}
	return nil, nil
}

func decodeOptional(raw json.RawMessage, dst interface{}) {
	if isNull(raw) {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

// subgraphIDs collects the ids of definitions.subgraphs. Instances of a subgraph
// use the definition's uuid as their node type.
func subgraphIDs(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var defs struct {
		Subgraphs []struct {
			ID string `json:"id"`
		} `json:"subgraphs"`
	}
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil
	}
	var retv []string
	for _, sg := range defs.Subgraphs {
		if _, err := uuid.Parse(sg.ID); err == nil {
			retv = append(retv, sg.ID)
		}
	}
	return retv
}
