package graphapi

import (
	"encoding/json"
	"errors"
	"strings"
)

// LinkID identifies a connection. Workflow links carry their own numeric ids,
// prompt connections get a synthesised one.
type LinkID string

// Connection is a directed edge from an output slot to an input slot
type Connection struct {
	ID         LinkID                     `json:"id"`
	Source     NodeID                     `json:"source"`
	SourceSlot int                        `json:"source_slot"`
	Target     NodeID                     `json:"target"`
	TargetSlot int                        `json:"target_slot"`
	Type       string                     `json:"type"`
	Extra      map[string]json.RawMessage `json:"extra,omitempty"`
}

// Common slot types
const (
	TypeConditioning = "CONDITIONING"
	TypeModel        = "MODEL"
	TypeClip         = "CLIP"
	TypeString       = "STRING"
	TypeAny          = "*"
)

// SameType compares slot type tags. The wildcard matches everything and
// comma separated unions match any of their members.
func SameType(a, b string) bool {
	if a == TypeAny || b == TypeAny {
		return true
	}
	if strings.EqualFold(a, b) {
		return true
	}
	if strings.Contains(a, ",") || strings.Contains(b, ",") {
		for _, pa := range strings.Split(a, ",") {
			for _, pb := range strings.Split(b, ",") {
				if strings.EqualFold(strings.TrimSpace(pa), strings.TrimSpace(pb)) {
					return true
				}
			}
		}
	}
	return false
}

var linkObjectFields = []string{"id", "origin_id", "origin_slot", "target_id", "target_slot", "type"}

// parseLink decodes one entry of a workflow's links table. Top level links are
// tuples [id, origin, origin_slot, target, target_slot, type], subgraph-era
// frontends also write objects.
func parseLink(b json.RawMessage) (*Connection, error) {
	switch rawKind(b) {
	case '[':
		var tmp []json.RawMessage
		if err := json.Unmarshal(b, &tmp); err != nil {
			return nil, err
		}
		if len(tmp) < 6 {
			return nil, errors.New("wrong number of fields in JSON array")
		}
		return connectionFromFields(tmp[0], tmp[1], tmp[2], tmp[3], tmp[4], tmp[5], nil)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return nil, err
		}
		return connectionFromFields(obj["id"], obj["origin_id"], obj["origin_slot"], obj["target_id"], obj["target_slot"], obj["type"],
			splitFields(obj, linkObjectFields...))
	}
	return nil, errors.New("link is neither a tuple nor an object")
}

func connectionFromFields(id, origin, originSlot, target, targetSlot, typ json.RawMessage, extra map[string]json.RawMessage) (*Connection, error) {
	lid, ok := decodeID(id)
	if !ok {
		return nil, errors.New("link without id")
	}
	src, _ := decodeID(origin)
	dst, _ := decodeID(target)
	srcSlot, _ := decodeInt(originSlot)
	dstSlot, _ := decodeInt(targetSlot)
	return &Connection{
		ID:         LinkID(lid),
		Source:     NodeID(src),
		SourceSlot: srcSlot,
		Target:     NodeID(dst),
		TargetSlot: dstSlot,
		Type:       decodeTypeTag(typ),
		Extra:      extra,
	}, nil
}
