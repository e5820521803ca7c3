package graphapi

import (
	"encoding/json"
	"io"
	"os"
	"sort"
)

// Format names the schema variant a graph was built from
type Format string

const (
	// FormatLinkedList is the editor's workflow document: slots carry link ids
	// that resolve against a global links table
	FormatLinkedList Format = "linked_list"
	// FormatDirectEmbed is the execution prompt: each input embeds [source id, slot]
	FormatDirectEmbed Format = "direct_embed"
)

// Graph is the three aligned tables produced by Build, all keyed by node id.
// The connection table is the only record of edges; neighbour lookups go through it.
// A Graph is read-only once built.
type Graph struct {
	Format      Format                     `json:"format"`
	Nodes       map[NodeID]*Node           `json:"nodes"`
	IO          map[NodeID]*Signature      `json:"io"`
	Connections map[LinkID]*Connection     `json:"connections"`
	NodeOrder   []NodeID                   `json:"node_order"`               // document order
	SubgraphIDs []string                   `json:"subgraph_ids,omitempty"`   // ids of subgraph definitions carried by the workflow
	Anomalies   []Anomaly                  `json:"anomalies,omitempty"`
	Extra       map[string]json.RawMessage `json:"extra,omitempty"` // top level fields this package does not interpret
}

func newGraph(format Format) *Graph {
	return &Graph{
		Format:      format,
		Nodes:       make(map[NodeID]*Node),
		IO:          make(map[NodeID]*Signature),
		Connections: make(map[LinkID]*Connection),
		NodeOrder:   make([]NodeID, 0),
	}
}

// allow us to order nodes by their execution order (ordinality)
type byGraphOrdinal struct {
	nodes []*Node
	index map[NodeID]int
}

func (a byGraphOrdinal) Len() int      { return len(a.nodes) }
func (a byGraphOrdinal) Swap(i, j int) { a.nodes[i], a.nodes[j] = a.nodes[j], a.nodes[i] }
func (a byGraphOrdinal) Less(i, j int) bool {
	if a.nodes[i].Order != a.nodes[j].Order {
		return a.nodes[i].Order < a.nodes[j].Order
	}
	return a.index[a.nodes[i].ID] < a.index[a.nodes[j].ID]
}

// GetNodeById returns the node with the given id, or nil
func (t *Graph) GetNodeById(id NodeID) *Node {
	val, ok := t.Nodes[id]
	if ok {
		return val
	}
	return nil
}

// GetLinkById returns the connection with the given id, or nil
func (t *Graph) GetLinkById(id LinkID) *Connection {
	val, ok := t.Connections[id]
	if ok {
		return val
	}
	return nil
}

// Signature returns the I/O signature of a node, or nil
func (t *Graph) Signature(id NodeID) *Signature {
	return t.IO[id]
}

// NodesInDocumentOrder returns the nodes in the order the source document listed them
func (t *Graph) NodesInDocumentOrder() []*Node {
	retv := make([]*Node, 0, len(t.NodeOrder))
	for _, id := range t.NodeOrder {
		if n := t.GetNodeById(id); n != nil {
			retv = append(retv, n)
		}
	}
	return retv
}

// NodesInExecutionOrder returns the nodes sorted by their execution order,
// falling back to document order for ties
func (t *Graph) NodesInExecutionOrder() []*Node {
	nodes := t.NodesInDocumentOrder()
	index := make(map[NodeID]int, len(t.NodeOrder))
	for i, id := range t.NodeOrder {
		index[id] = i
	}
	sort.Stable(byGraphOrdinal{nodes: nodes, index: index})
	return nodes
}

// GetNodesWithType retrieves all nodes in the graph that match a specified type.
func (t *Graph) GetNodesWithType(nodeType string) []*Node {
	retv := make([]*Node, 0)
	for _, n := range t.NodesInDocumentOrder() {
		if n.Type == nodeType {
			retv = append(retv, n)
		}
	}
	return retv
}

// TypeNames returns the distinct node type names in the graph, sorted
func (t *Graph) TypeNames() []string {
	seen := make(map[string]bool)
	retv := make([]string, 0)
	for _, n := range t.Nodes {
		if !seen[n.Type] {
			seen[n.Type] = true
			retv = append(retv, n.Type)
		}
	}
	sort.Strings(retv)
	return retv
}

// GetInputLink returns the connection feeding an input slot, or nil when the slot
// is unconnected or its link does not land on this node
func (t *Graph) GetInputLink(id NodeID, slotIndex int) *Connection {
	sig := t.Signature(id)
	if sig == nil || slotIndex < 0 || slotIndex >= len(sig.Inputs) {
		return nil
	}
	link := sig.Inputs[slotIndex].Link
	if link == nil {
		return nil
	}
	conn := t.GetLinkById(*link)
	if conn == nil || conn.Target != id {
		return nil
	}
	return conn
}

// GetNodeForInput returns the node that produces the value of an input slot
func (t *Graph) GetNodeForInput(id NodeID, slotIndex int) *Node {
	conn := t.GetInputLink(id, slotIndex)
	if conn == nil {
		return nil
	}
	return t.GetNodeById(conn.Source)
}

// GetOutputLinks returns the connections leaving an output slot
func (t *Graph) GetOutputLinks(id NodeID, slotIndex int) []*Connection {
	retv := make([]*Connection, 0)
	sig := t.Signature(id)
	if sig == nil || slotIndex < 0 || slotIndex >= len(sig.Outputs) {
		return retv
	}
	for _, l := range sig.Outputs[slotIndex].Links {
		if conn := t.GetLinkById(l); conn != nil && conn.Source == id {
			retv = append(retv, conn)
		}
	}
	return retv
}

// GraphToJSON returns the normalised tables as JSON
func (t *Graph) GraphToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadGraph decodes a graph previously written with GraphToJSON or SaveGraphToFile
func ReadGraph(r io.Reader) (*Graph, error) {
	graph := &Graph{}
	if err := json.NewDecoder(r).Decode(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func (t *Graph) SaveGraphToFile(path string) error {
	data, err := t.GraphToJSON()
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(data)
	return err
}
