package graphapi

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvableLink is returned when a slot references a link id missing from the links table
	ErrUnresolvableLink = errors.New("unresolvable link")
	// ErrUnknownSchema is returned when the document matches neither known schema
	ErrUnknownSchema = errors.New("unrecognised workflow schema")
)

// UnresolvableLinkError names the link and the slot that referenced it
type UnresolvableLinkError struct {
	Link LinkID
	Node NodeID
	Slot string
}

func (e *UnresolvableLinkError) Error() string {
	return fmt.Sprintf("unresolvable link %s referenced by node %s slot %q", e.Link, e.Node, e.Slot)
}

func (e *UnresolvableLinkError) Unwrap() error {
	return ErrUnresolvableLink
}

// AnomalyKind classifies a structural problem that does not stop the build
type AnomalyKind string

const (
	AnomalyDanglingSource AnomalyKind = "dangling_source"  // link origin is not in the node table
	AnomalyDanglingTarget AnomalyKind = "dangling_target"  // link target is not in the node table
	AnomalySlotOutOfRange AnomalyKind = "slot_out_of_range"
	AnomalyLinkMismatch   AnomalyKind = "link_mismatch" // slot and link table disagree about an endpoint
	AnomalyDuplicateNode  AnomalyKind = "duplicate_node"
	AnomalyDuplicateLink  AnomalyKind = "duplicate_link"
	AnomalyInvalidNode    AnomalyKind = "invalid_node"
	AnomalyInvalidLink    AnomalyKind = "invalid_link"
)

// Anomaly is a tolerated inconsistency found while building a graph
type Anomaly struct {
	Kind   AnomalyKind `json:"kind"`
	Node   NodeID      `json:"node,omitempty"`
	Link   LinkID      `json:"link,omitempty"`
	Detail string      `json:"detail"`
}

func (a Anomaly) String() string {
	s := string(a.Kind)
	if a.Node != "" {
		s += " node=" + string(a.Node)
	}
	if a.Link != "" {
		s += " link=" + string(a.Link)
	}
	return s + ": " + a.Detail
}

func (t *Graph) addAnomaly(kind AnomalyKind, node NodeID, link LinkID, format string, args ...interface{}) {
	t.Anomalies = append(t.Anomalies, Anomaly{
		Kind:   kind,
		Node:   node,
		Link:   link,
		Detail: fmt.Sprintf(format, args...),
	})
}
