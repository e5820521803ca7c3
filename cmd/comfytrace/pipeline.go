package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinsley/comfytrace/classify"
	"github.com/richinsley/comfytrace/client"
	"github.com/richinsley/comfytrace/finder"
	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/nodeset"
	"github.com/richinsley/comfytrace/pngmeta"
	"github.com/richinsley/comfytrace/report"
	"github.com/richinsley/comfytrace/trace"
)

// document is one workflow loaded from an image or a JSON file
type document struct {
	source string
	meta   *pngmeta.Metadata
	graph  *graphapi.Graph
	record graphapi.ExecutionRecord
}

// loadDocument reads a PNG written by ComfyUI, or a workflow or prompt saved as
// JSON. The graph is built from the workflow when there is one, otherwise from
// the prompt.
func (a *app) loadDocument(path string) (*document, error) {
	var meta *pngmeta.Metadata
	if strings.EqualFold(filepath.Ext(path), ".json") {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		meta = &pngmeta.Metadata{}
		if isWorkflow(raw) {
			meta.Workflow, meta.WorkflowKeyword = raw, "file"
		} else {
			meta.Prompt, meta.PromptKeyword = graphapi.PromptDocument(raw), "file"
		}
	} else {
		var err error
		meta, err = pngmeta.ExtractFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	raw := meta.Workflow
	if !meta.HasWorkflow() {
		a.logger.Debug("no workflow chunk, building from the prompt", "source", path)
		raw = meta.Prompt
	}
	g, err := graphapi.Build(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, an := range g.Anomalies {
		a.logger.Debug("graph anomaly", "source", path, "anomaly", an.String())
	}

	doc := &document{source: path, meta: meta, graph: g}
	if meta.HasPrompt() {
		rec, err := graphapi.ParseExecutionRecord(meta.Prompt)
		if err != nil {
			a.logger.Warn("ignoring unreadable prompt chunk", "source", path, "error", err)
		} else {
			doc.record = rec
		}
	}
	return doc, nil
}

// isWorkflow reports whether raw is an editor workflow rather than a prompt
func isWorkflow(raw []byte) bool {
	g, err := graphapi.Build(raw)
	return err == nil && g.Format == graphapi.FormatLinkedList
}

func (a *app) tracer() (*trace.Tracer, error) {
	opts, err := a.cfg.TraceOptions(a.logger)
	if err != nil {
		return nil, err
	}
	return trace.New(opts), nil
}

func (a *app) comfyClient() *client.ComfyClient {
	c := client.NewComfyClientWithTimeout(a.cfg.Server.Address, a.cfg.Server.Port, a.cfg.Server.Timeout)
	c.SetProtocol(a.cfg.Server.Protocol)
	return c
}

// knownNodes are the node types available to compare a graph against
type knownNodes struct {
	builtin   nodeset.Set
	installed nodeset.Set
}

// knownNodes gathers the core and installed node types from the embedded list,
// the configured ComfyUI installation and the configured server. It is computed
// once per run.
func (a *app) knownNodes(ctx context.Context) (*knownNodes, error) {
	if a.known != nil {
		return a.known, nil
	}
	known := &knownNodes{builtin: nodeset.Builtins(), installed: make(nodeset.Set)}

	var sources []nodeset.Source
	if a.cfg.ComfyUIPath != "" {
		s := nodeset.NewScanner(a.cfg.ComfyUIPath)
		s.Workers = a.cfg.Scan.Workers
		s.CacheFile = a.cfg.Scan.CacheFile
		s.Logger = a.logger
		if isTerminal(os.Stderr) {
			s.Progress = os.Stderr
		}
		builtin, err := s.ScanBuiltins(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", a.cfg.ComfyUIPath, err)
		}
		known.builtin.Merge(builtin)
		sources = append(sources, s)
	}
	if a.cfg.HasServer() {
		c := a.comfyClient()
		builtin, err := c.BuiltinTypeNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", a.cfg.Server.Address, err)
		}
		known.builtin.Merge(builtin)
		sources = append(sources, c)
	}
	if len(sources) == 0 {
		a.logger.Info("no ComfyUI installation or server configured, custom nodes will be reported as unknown")
	}
	for _, src := range sources {
		installed, err := src.InstalledCustomTypeNames(ctx)
		if err != nil {
			return nil, err
		}
		known.installed.Merge(installed)
	}
	a.known = known
	return known, nil
}

func (a *app) finder() (finder.Finder, error) {
	if a.cfg.NodeMap.Path != "" {
		m, err := finder.LoadNodeMapFile(a.cfg.NodeMap.Path)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return finder.NewRemote(a.cfg.NodeMap.URL), nil
}

func (a *app) classify(ctx context.Context, g *graphapi.Graph) (*classify.Classification, error) {
	known, err := a.knownNodes(ctx)
	if err != nil {
		return nil, err
	}
	return classify.New(known.builtin, known.installed).Graph(g), nil
}

// candidates searches the node map for the unknown types of a classification
func (a *app) candidates(ctx context.Context, cls *classify.Classification) (map[string][]string, error) {
	if len(cls.Unknown) == 0 {
		return nil, nil
	}
	f, err := a.finder()
	if err != nil {
		return nil, err
	}
	return f.Find(ctx, cls.Unknown)
}

type analyzeOptions struct {
	search bool
	tables bool
}

// analyze traces and classifies one document
func (a *app) analyze(ctx context.Context, doc *document, opts analyzeOptions) (*report.Analysis, error) {
	t, err := a.tracer()
	if err != nil {
		return nil, err
	}
	res, err := t.Trace(doc.graph, doc.record)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.source, err)
	}
	cls, err := a.classify(ctx, doc.graph)
	if err != nil {
		return nil, err
	}

	an := report.NewAnalysis(doc.source, doc.meta, doc.graph, res, cls)
	if opts.search {
		an.Candidates, err = a.candidates(ctx, cls)
		if err != nil {
			return nil, err
		}
	}
	if opts.tables {
		an.Tables = doc.graph
	}
	return an, nil
}

func (a *app) outputFormat() (report.Format, error) {
	return report.ParseFormat(a.cfg.Output.Format)
}
