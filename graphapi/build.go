package graphapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// parser is one schema strategy. Build picks exactly one with probeFormat and
// never retries the document with the other.
type parser interface {
	parse(doc map[string]json.RawMessage, raw []byte) (*Graph, error)
}

var parsers = map[Format]parser{
	FormatLinkedList:  linkedListParser{},
	FormatDirectEmbed: directEmbedParser{},
}

// Build parses a raw workflow or prompt document into the node, I/O and connection tables.
//
// Returns:
//   - ErrUnknownSchema when the document matches neither schema
//   - ErrUnresolvableLink (as *UnresolvableLinkError) when a slot references a link the links table lacks
//
// Missing endpoint nodes and similar inconsistencies are recorded in Graph.Anomalies instead.
// A prompt in the queued {"prompt": {...}} envelope is built from its node map.
func Build(raw []byte) (*Graph, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSchema, err)
	}

	format, ok := probeFormat(doc)
	if !ok {
		inner, innerDoc, wrapped := unwrapQueuedPrompt(doc)
		if !wrapped {
			return nil, ErrUnknownSchema
		}
		raw, doc, format = inner, innerDoc, FormatDirectEmbed
	}
	graph, err := parsers[format].parse(doc, raw)
	if err != nil {
		return nil, err
	}
	for _, a := range graph.Anomalies {
		slog.Debug("graph anomaly", "kind", a.Kind, "node", a.Node, "link", a.Link, "detail", a.Detail)
	}
	return graph, nil
}

// BuildFromReader reads a raw document from r and builds it
func BuildFromReader(r io.Reader) (*Graph, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Build(raw)
}

// BuildFromFile reads a raw document from disk and builds it
func BuildFromFile(path string) (*Graph, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return BuildFromReader(freader)
}

// probeFormat looks only at the top level shape: a "nodes" array means the editor
// workflow, an object of objects carrying class_type means a prompt.
func probeFormat(doc map[string]json.RawMessage) (Format, bool) {
	if nodes, ok := doc["nodes"]; ok && rawKind(nodes) == '[' {
		return FormatLinkedList, true
	}
	if len(doc) == 0 {
		// an empty prompt is still a prompt; tracing reports the empty graph
		return FormatDirectEmbed, true
	}
	for _, v := range doc {
		if rawKind(v) != '{' {
			return "", false
		}
		var probe struct {
			ClassType *string `json:"class_type"`
		}
		if err := json.Unmarshal(v, &probe); err != nil || probe.ClassType == nil {
			return "", false
		}
	}
	return FormatDirectEmbed, true
}

// PromptDocument returns the node map of a prompt in the queued
// {"prompt": {...}} envelope, and raw unchanged for any other document
func PromptDocument(raw []byte) []byte {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	if _, ok := probeFormat(doc); ok {
		return raw
	}
	if inner, _, wrapped := unwrapQueuedPrompt(doc); wrapped {
		return inner
	}
	return raw
}

// unwrapQueuedPrompt returns the node map of a queued prompt envelope, raw and decoded
func unwrapQueuedPrompt(doc map[string]json.RawMessage) (json.RawMessage, map[string]json.RawMessage, bool) {
	raw, ok := doc["prompt"]
	if !ok || rawKind(raw) != '{' {
		return nil, nil, false
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, nil, false
	}
	if format, ok := probeFormat(inner); !ok || format != FormatDirectEmbed {
		return nil, nil, false
	}
	return raw, inner, true
}

// validateEndpoints records anomalies for connections whose endpoints or slots
// do not exist. Shared by both strategies once all tables are filled.
func (t *Graph) validateEndpoints(linkOrder []LinkID) {
	for _, id := range linkOrder {
		conn := t.Connections[id]
		if conn == nil {
			continue
		}
		if _, ok := t.Nodes[conn.Source]; !ok {
			t.addAnomaly(AnomalyDanglingSource, conn.Source, id, "origin node %q does not exist", conn.Source)
		} else if sig := t.IO[conn.Source]; sig == nil || conn.SourceSlot < 0 || conn.SourceSlot >= len(sig.Outputs) {
			t.addAnomaly(AnomalySlotOutOfRange, conn.Source, id, "origin slot %d outside the node's outputs", conn.SourceSlot)
		}
		if _, ok := t.Nodes[conn.Target]; !ok {
			t.addAnomaly(AnomalyDanglingTarget, conn.Target, id, "target node %q does not exist", conn.Target)
		} else if sig := t.IO[conn.Target]; sig == nil || conn.TargetSlot < 0 || conn.TargetSlot >= len(sig.Inputs) {
			t.addAnomaly(AnomalySlotOutOfRange, conn.Target, id, "target slot %d outside the node's inputs", conn.TargetSlot)
		}
	}
}
