// Package report projects graphs, trace results and classifications into JSON,
// YAML and a line-oriented text form.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/richinsley/comfytrace/classify"
	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/pngmeta"
	"github.com/richinsley/comfytrace/trace"
	"gopkg.in/yaml.v3"
)

// Format selects the projection written by Write
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// Formats lists every supported format
var Formats = []Format{FormatJSON, FormatYAML, FormatText}

var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts a format name, case-insensitively. "yml" and "txt" are aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "text", "txt":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// MetadataSummary records which documents the image carried
type MetadataSummary struct {
	WorkflowKeyword string `json:"workflow_keyword,omitempty" yaml:"workflow_keyword,omitempty"`
	PromptKeyword   string `json:"prompt_keyword,omitempty" yaml:"prompt_keyword,omitempty"`
}

// GraphSummary is the size and shape of a graph without its tables
type GraphSummary struct {
	Format      graphapi.Format    `json:"format" yaml:"format"`
	Nodes       int                `json:"nodes" yaml:"nodes"`
	Connections int                `json:"connections" yaml:"connections"`
	Muted       int                `json:"muted" yaml:"muted"`
	Bypassed    int                `json:"bypassed" yaml:"bypassed"`
	Subgraphs   int                `json:"subgraphs,omitempty" yaml:"subgraphs,omitempty"`
	Anomalies   []graphapi.Anomaly `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
}

// Summarize counts the nodes and connections of g
func Summarize(g *graphapi.Graph) GraphSummary {
	s := GraphSummary{
		Format:      g.Format,
		Nodes:       len(g.Nodes),
		Connections: len(g.Connections),
		Subgraphs:   len(g.SubgraphIDs),
		Anomalies:   g.Anomalies,
	}
	for _, n := range g.Nodes {
		switch {
		case n.Mode.Muted():
			s.Muted++
		case n.Mode.Bypassed():
			s.Bypassed++
		}
	}
	return s
}

// Analysis is everything learned about one image
type Analysis struct {
	ID             string                   `json:"id" yaml:"id"`
	Source         string                   `json:"source" yaml:"source"`
	Metadata       MetadataSummary          `json:"metadata" yaml:"metadata"`
	Graph          GraphSummary             `json:"graph" yaml:"graph"`
	Trace          *trace.Result            `json:"trace" yaml:"trace"`
	Classification *classify.Classification `json:"classification,omitempty" yaml:"classification,omitempty"`
	Candidates     map[string][]string      `json:"candidates,omitempty" yaml:"candidates,omitempty"` // unknown type -> repositories that may provide it
	Tables         *graphapi.Graph          `json:"tables,omitempty" yaml:"tables,omitempty"`
}

// NewAnalysis assembles an analysis under a fresh id. meta and cls may be nil.
func NewAnalysis(source string, meta *pngmeta.Metadata, g *graphapi.Graph, res *trace.Result, cls *classify.Classification) *Analysis {
	a := &Analysis{
		ID:             uuid.NewString(),
		Source:         source,
		Graph:          Summarize(g),
		Trace:          res,
		Classification: cls,
	}
	if meta != nil {
		a.Metadata = MetadataSummary{WorkflowKeyword: meta.WorkflowKeyword, PromptKeyword: meta.PromptKeyword}
	}
	return a
}

// NodeReport is the node usage of one graph and, for unknown types, the
// repositories that may provide them
type NodeReport struct {
	Source         string                   `json:"source" yaml:"source"`
	Classification *classify.Classification `json:"classification" yaml:"classification"`
	Candidates     map[string][]string      `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// Write projects v in the requested format. Text output is available for
// *graphapi.Graph, *trace.Result, *classify.Classification, *NodeReport,
// *Analysis and slices of analyses.
func Write(w io.Writer, format Format, v interface{}) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	case FormatYAML:
		return writeYAML(w, v)
	case FormatText:
		return writeText(w, v)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteFile writes v to path, creating or truncating the file
func WriteFile(path string, format Format, v interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(file, format, v); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// writeYAML goes through the JSON form so that raw JSON extras and the json field
// names come out the same in both projections. Field order is kept by decoding
// into a yaml.Node rather than a map.
func writeYAML(w io.Writer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	clearStyle(&doc)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// clearStyle drops the flow and quoting styles carried over from the JSON text.
// The encoder still quotes strings that would otherwise read back as another type.
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
