package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/richinsley/comfytrace/classify"
	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/trace"
)

func writeText(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	switch t := v.(type) {
	case *graphapi.Graph:
		graphText(&buf, t)
	case *trace.Result:
		resultText(&buf, t)
	case *classify.Classification:
		classificationText(&buf, t)
	case *NodeReport:
		fmt.Fprintf(&buf, "source: %s\n", t.Source)
		if t.Classification != nil {
			classificationText(&buf, t.Classification)
		}
		candidatesText(&buf, t.Candidates)
	case *Analysis:
		analysisText(&buf, t)
	case []*Analysis:
		for i, a := range t {
			if i > 0 {
				buf.WriteString("\n")
			}
			analysisText(&buf, a)
		}
	default:
		return fmt.Errorf("no text form for %T", v)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func section(buf *bytes.Buffer, name string) {
	fmt.Fprintf(buf, "[%s]\n", name)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func ids(list []graphapi.NodeID) string {
	s := make([]string, len(list))
	for i, id := range list {
		s[i] = string(id)
	}
	return strings.Join(s, ",")
}

func graphText(buf *bytes.Buffer, g *graphapi.Graph) {
	fmt.Fprintf(buf, "format: %s\n", g.Format)
	fmt.Fprintf(buf, "nodes: %d\n", len(g.Nodes))
	fmt.Fprintf(buf, "connections: %d\n", len(g.Connections))

	section(buf, "nodes")
	for _, n := range g.NodesInDocumentOrder() {
		fmt.Fprintf(buf, "node %s type=%q", n.ID, n.Type)
		if n.Title != "" {
			fmt.Fprintf(buf, " title=%q", n.Title)
		}
		fmt.Fprintf(buf, " mode=%s", n.Mode)
		for i, v := range n.WidgetValues {
			name := strconv.Itoa(i)
			if i < len(n.WidgetNames) {
				name = n.WidgetNames[i]
			}
			fmt.Fprintf(buf, " %s=%v", name, widgetValue(v))
		}
		buf.WriteString("\n")
	}

	section(buf, "io")
	for _, n := range g.NodesInDocumentOrder() {
		sig := g.Signature(n.ID)
		if sig == nil {
			continue
		}
		for i, in := range sig.Inputs {
			link := "-"
			if in.Link != nil {
				link = string(*in.Link)
			}
			fmt.Fprintf(buf, "node %s in %d %s %s link=%s\n", n.ID, i, in.Name, in.Type, link)
		}
		for i, out := range sig.Outputs {
			links := make([]string, len(out.Links))
			for j, l := range out.Links {
				links[j] = string(l)
			}
			fmt.Fprintf(buf, "node %s out %d %s %s links=%s\n", n.ID, i, out.Name, out.Type, strings.Join(links, ","))
		}
	}

	section(buf, "connections")
	for _, c := range connectionsInOrder(g) {
		fmt.Fprintf(buf, "link %s %s:%d -> %s:%d %s\n", c.ID, c.Source, c.SourceSlot, c.Target, c.TargetSlot, c.Type)
	}

	if len(g.Anomalies) != 0 {
		section(buf, "anomalies")
		for _, a := range g.Anomalies {
			fmt.Fprintf(buf, "%s\n", a)
		}
	}
}

// widgetValue keeps multi-line prompts on one line
func widgetValue(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return v
}

// connectionsInOrder lists connections by target node in document order, then
// target slot
func connectionsInOrder(g *graphapi.Graph) []*graphapi.Connection {
	order := func(id graphapi.NodeID) int {
		if n := g.GetNodeById(id); n != nil {
			return n.Order
		}
		return len(g.Nodes)
	}
	retv := make([]*graphapi.Connection, 0, len(g.Connections))
	for _, c := range g.Connections {
		retv = append(retv, c)
	}
	sort.Slice(retv, func(i, j int) bool {
		a, b := retv[i], retv[j]
		if oa, ob := order(a.Target), order(b.Target); oa != ob {
			return oa < ob
		}
		if a.TargetSlot != b.TargetSlot {
			return a.TargetSlot < b.TargetSlot
		}
		return a.ID < b.ID
	})
	return retv
}

func resultText(buf *bytes.Buffer, r *trace.Result) {
	for _, p := range r.Positive {
		promptText(buf, "positive", p)
	}
	for _, p := range r.Negative {
		promptText(buf, "negative", p)
	}
	for _, l := range r.Loras {
		fmt.Fprintf(buf, "lora %q model=%s clip=%s node=%s\n", l.Name, num(l.ModelStrength), num(l.ClipStrength), l.Node)
	}
	fmt.Fprintf(buf, "controlnet %t\n", r.UsesControlNet)
	fmt.Fprintf(buf, "sinks %s\n", ids(r.Sinks))
	for _, w := range r.Warnings {
		fmt.Fprintf(buf, "warning %s\n", w)
	}
}

func promptText(buf *bytes.Buffer, polarity string, p trace.Prompt) {
	fmt.Fprintf(buf, "%s %q weight=%s sources=%s sink=%s input=%s\n", polarity, p.Text, num(p.Weight), ids(p.Sources), p.Sink, p.Input)
}

func classificationText(buf *bytes.Buffer, c *classify.Classification) {
	for _, n := range c.BuiltIn {
		fmt.Fprintf(buf, "%s %s\n", classify.BuiltIn, n)
	}
	for _, n := range c.CustomInstalled {
		if repo := c.Repos[n]; repo != "" {
			fmt.Fprintf(buf, "%s %s repo=%s\n", classify.CustomInstalled, n, repo)
		} else {
			fmt.Fprintf(buf, "%s %s\n", classify.CustomInstalled, n)
		}
	}
	for _, n := range c.Unknown {
		fmt.Fprintf(buf, "%s %s\n", classify.Unknown, n)
	}
}

func analysisText(buf *bytes.Buffer, a *Analysis) {
	fmt.Fprintf(buf, "id: %s\n", a.ID)
	fmt.Fprintf(buf, "source: %s\n", a.Source)
	if a.Metadata.WorkflowKeyword != "" {
		fmt.Fprintf(buf, "workflow chunk: %s\n", a.Metadata.WorkflowKeyword)
	}
	if a.Metadata.PromptKeyword != "" {
		fmt.Fprintf(buf, "prompt chunk: %s\n", a.Metadata.PromptKeyword)
	}
	fmt.Fprintf(buf, "graph: %s nodes=%d connections=%d muted=%d bypassed=%d\n",
		a.Graph.Format, a.Graph.Nodes, a.Graph.Connections, a.Graph.Muted, a.Graph.Bypassed)
	for _, an := range a.Graph.Anomalies {
		fmt.Fprintf(buf, "anomaly %s\n", an)
	}
	if a.Trace != nil {
		section(buf, "trace")
		resultText(buf, a.Trace)
	}
	if a.Classification != nil {
		section(buf, "classification")
		classificationText(buf, a.Classification)
	}
	if len(a.Candidates) != 0 {
		section(buf, "candidates")
		candidatesText(buf, a.Candidates)
	}
	if a.Tables != nil {
		section(buf, "tables")
		graphText(buf, a.Tables)
	}
}

func candidatesText(buf *bytes.Buffer, candidates map[string][]string) {
	names := make([]string, 0, len(candidates))
	for n := range candidates {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(buf, "candidate %s %s\n", n, strings.Join(candidates[n], " "))
	}
}
