package client

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/nodeset"
)

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version,omitempty"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

// ObjectInfo is the part of a /object_info entry needed to tell where a node comes from
type ObjectInfo struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Category     string `json:"category"`
	PythonModule string `json:"python_module"`
	OutputNode   bool   `json:"output_node"`
	Description  string `json:"description"`
}

// ObjectInfos maps node type names to their definitions
type ObjectInfos map[string]*ObjectInfo

// customModulePrefix marks node definitions loaded from a custom_nodes repository
const customModulePrefix = nodeset.CustomNodesDir + "."

// Repository returns the custom node repository the object was loaded from, or ""
// for core nodes
func (o *ObjectInfo) Repository() string {
	if !strings.HasPrefix(o.PythonModule, customModulePrefix) {
		return ""
	}
	repo := strings.TrimPrefix(o.PythonModule, customModulePrefix)
	if i := strings.IndexByte(repo, '.'); i >= 0 {
		repo = repo[:i]
	}
	return repo
}

// Split separates the core node types from those provided by custom nodes.
// Objects without a python_module are treated as core nodes.
func (o ObjectInfos) Split() (builtin nodeset.Set, custom nodeset.Set) {
	builtin = make(nodeset.Set)
	custom = make(nodeset.Set)
	for name, info := range o {
		if info == nil {
			builtin.Add(name, "")
			continue
		}
		if repo := info.Repository(); repo != "" {
			custom.Add(name, repo)
		} else {
			builtin.Add(name, "")
		}
	}
	return builtin, custom
}

// Missing returns the node types used by g that the server does not define.
// Frontend-only nodes and subgraph instances are never reported.
func (o ObjectInfos) Missing(g *graphapi.Graph) []string {
	frontend := nodeset.Builtins()
	for _, id := range g.SubgraphIDs {
		frontend.Add(id, "")
	}
	retv := make([]string, 0)
	for _, name := range g.TypeNames() {
		if _, ok := o[name]; ok || frontend.Has(name) {
			continue
		}
		retv = append(retv, name)
	}
	sort.Strings(retv)
	return retv
}

// HistoryItem is one finished prompt from the server's history
type HistoryItem struct {
	PromptID string
	Index    int
	Record   graphapi.ExecutionRecord // the prompt as executed
	Workflow json.RawMessage          // edit-time graph sent along with the prompt, nil when absent
}

// Graph builds the item's workflow, falling back to the executed prompt when the
// client did not send one
func (h *HistoryItem) Graph() (*graphapi.Graph, error) {
	if len(h.Workflow) != 0 {
		return graphapi.Build(h.Workflow)
	}
	raw, err := json.Marshal(h.Record)
	if err != nil {
		return nil, err
	}
	return graphapi.Build(raw)
}
