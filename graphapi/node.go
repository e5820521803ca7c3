package graphapi

import (
	"encoding/json"
	"strings"
)

// NodeID identifies a node within one graph. Workflows use integers, prompts use
// strings, both are normalised to their decimal or literal text.
type NodeID string

// Mode is the LiteGraph execution mode of a node
type Mode int

const (
	ModeAlways    Mode = 0
	ModeOnEvent   Mode = 1
	ModeNever     Mode = 2 // muted
	ModeOnTrigger Mode = 3
	ModeBypass    Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeAlways:
		return "normal"
	case ModeOnEvent:
		return "on_event"
	case ModeNever:
		return "muted"
	case ModeOnTrigger:
		return "on_trigger"
	case ModeBypass:
		return "bypassed"
	}
	return "unknown"
}

// Muted reports whether the node is excluded from execution
func (m Mode) Muted() bool {
	return m == ModeNever
}

// Bypassed reports whether the node forwards its inputs without executing
func (m Mode) Bypassed() bool {
	return m == ModeBypass
}

// Skipped reports whether tracing should pass over a node in this mode
func (m Mode) Skipped() bool {
	return m.Muted() || m.Bypassed()
}

// Node is one operation in the graph. Nodes are created by Build and never modified afterwards.
type Node struct {
	ID           NodeID                     `json:"id"`
	Type         string                     `json:"type"`
	Title        string                     `json:"title,omitempty"`
	Position     Pos                        `json:"pos"`
	Size         Size                       `json:"size"`
	Order        int                        `json:"order"`
	Mode         Mode                       `json:"mode"`
	WidgetValues []interface{}              `json:"widgets_values"`
	WidgetNames  []string                   `json:"widget_names,omitempty"` // parallel to WidgetValues when the source names them
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`        // fields this package does not interpret
}

// DisplayTitle returns the title, or the type when no title was set
func (n *Node) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.Type
}

// IsVirtual reports whether the node exists only in the editor.
// current nodes that are 'virtual':
func (n *Node) IsVirtual() bool {
	switch n.Type {
	case "PrimitiveNode", "Reroute", "Note", "MarkdownNote":
		return true
	}
	return false
}

// Widget returns the widget value bound to name, when the source names its widgets
func (n *Node) Widget(name string) (interface{}, bool) {
	for i, wn := range n.WidgetNames {
		if wn == name && i < len(n.WidgetValues) {
			return n.WidgetValues[i], true
		}
	}
	return nil, false
}

// WidgetAt returns the widget value at a position
func (n *Node) WidgetAt(index int) (interface{}, bool) {
	if index < 0 || index >= len(n.WidgetValues) {
		return nil, false
	}
	return n.WidgetValues[index], true
}

// StringWidgets returns the non-empty string widget values in order
func (n *Node) StringWidgets() []string {
	retv := make([]string, 0)
	for _, v := range n.WidgetValues {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			retv = append(retv, s)
		}
	}
	return retv
}

// NumberWidgets returns the numeric widget values in order
func (n *Node) NumberWidgets() []float64 {
	retv := make([]float64, 0)
	for _, v := range n.WidgetValues {
		if f, ok := v.(float64); ok {
			retv = append(retv, f)
		}
	}
	return retv
}
