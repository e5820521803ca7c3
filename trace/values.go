package trace

import (
	"strings"

	"github.com/richinsley/comfytrace/graphapi"
)

// maximum number of nodes followed to find the string feeding a converted widget
const maxStringHops = 16

// stringSourceKeys name the widget holding the value of primitives and text nodes
var stringSourceKeys = []string{"value", "string", "text", "prompt"}

// prefer picks between the execution value and the widget value per the policy
func prefer[T any](p Precedence, exec, widget func() (T, bool)) (T, bool) {
	first, second := exec, widget
	if p == PreferWidget {
		first, second = widget, exec
	}
	if v, ok := first(); ok {
		return v, true
	}
	return second()
}

// encoderText is the prompt text of an encoder. Encoders with several text
// fields (SDXL, Flux) report each distinct one, one per line.
func (w *walk) encoderText(node *graphapi.Node) string {
	parts, _ := prefer(w.tr.opts.Precedence,
		func() ([]string, bool) {
			ps := w.executionText(node)
			return ps, len(ps) > 0
		},
		func() ([]string, bool) {
			ps := w.widgetText(node)
			return ps, len(ps) > 0
		})
	return strings.Join(parts, "\n")
}

func (w *walk) executionText(node *graphapi.Node) []string {
	if !w.rec.Has(node.ID, node.Type) {
		return nil
	}
	var parts []string
	for _, key := range textKeys {
		if s, ok := w.rec.ResolveString(node.ID, key); ok {
			parts = appendText(parts, s)
		}
	}
	return parts
}

// widgetText reads the edit-time text: named widgets first, then converted text
// inputs fed by another node, then the plain string widgets
func (w *walk) widgetText(node *graphapi.Node) []string {
	var parts []string
	for _, key := range textKeys {
		if v, ok := node.Widget(key); ok {
			if s, ok := v.(string); ok {
				parts = appendText(parts, s)
			}
		}
	}
	if len(parts) > 0 {
		return parts
	}

	if sig := w.g.Signature(node.ID); sig != nil {
		for i, in := range sig.Inputs {
			if !containsKey(textKeys, in.Name) {
				continue
			}
			if s, ok := w.stringFrom(w.g.GetInputLink(node.ID, i)); ok {
				parts = appendText(parts, s)
			}
		}
	}
	if len(parts) > 0 {
		return parts
	}

	// unnamed widgets carry other settings too (SDXL sizes), only strings are text
	for _, s := range node.StringWidgets() {
		parts = appendText(parts, s)
	}
	return parts
}

// stringFrom follows a STRING edge to the node whose widget holds the text
func (w *walk) stringFrom(conn *graphapi.Connection) (string, bool) {
	visited := make(map[graphapi.NodeID]bool)
	for hops := 0; conn != nil && hops < maxStringHops; hops++ {
		node := w.g.GetNodeById(conn.Source)
		if node == nil || visited[node.ID] {
			return "", false
		}
		visited[node.ID] = true

		for _, key := range stringSourceKeys {
			if v, ok := node.Widget(key); ok {
				if s, ok := v.(string); ok {
					return s, true
				}
			}
		}
		if ss := node.StringWidgets(); len(ss) > 0 {
			return ss[0], true
		}
		conn = w.sameTypeInput(node, conn)
	}
	return "", false
}

// str reads a string setting such as lora_name
func (w *walk) str(node *graphapi.Node, key string) string {
	s, _ := prefer(w.tr.opts.Precedence,
		func() (string, bool) {
			if !w.rec.Has(node.ID, node.Type) {
				return "", false
			}
			s, ok := w.rec.ResolveString(node.ID, key)
			return s, ok && s != ""
		},
		func() (string, bool) {
			if v, ok := node.Widget(key); ok {
				s, ok := v.(string)
				return s, ok && s != ""
			}
			if len(node.WidgetNames) == 0 {
				if ss := node.StringWidgets(); len(ss) > 0 {
					return ss[0], true
				}
			}
			return "", false
		})
	return s
}

// number reads a numeric setting. index is the position among the node's numeric
// widgets, used when the widgets are unnamed.
func (w *walk) number(node *graphapi.Node, key string, index int) (float64, bool) {
	return prefer(w.tr.opts.Precedence,
		func() (float64, bool) {
			if !w.rec.Has(node.ID, node.Type) {
				return 0, false
			}
			return w.rec.Number(node.ID, key)
		},
		func() (float64, bool) {
			if v, ok := node.Widget(key); ok {
				f, ok := v.(float64)
				return f, ok
			}
			if len(node.WidgetNames) == 0 {
				if nums := node.NumberWidgets(); index < len(nums) {
					return nums[index], true
				}
			}
			return 0, false
		})
}

func appendText(parts []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || containsKey(parts, s) {
		return parts
	}
	return append(parts, s)
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
