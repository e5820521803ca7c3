// Package classify sorts the node types used by a graph into core nodes,
// installed custom nodes and nodes that are missing from the installation.
package classify

import (
	"sort"
	"strings"

	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/nodeset"
)

// Category is the bucket a node type falls into
type Category string

const (
	BuiltIn         Category = "built_in"
	CustomInstalled Category = "custom_installed"
	Unknown         Category = "unknown"
)

// Classification partitions the node types of one graph. Every type appears in
// exactly one list; lists are sorted.
type Classification struct {
	BuiltIn         []string          `json:"built_in" yaml:"built_in"`
	CustomInstalled []string          `json:"custom_installed" yaml:"custom_installed"`
	Unknown         []string          `json:"unknown" yaml:"unknown"`
	Repos           map[string]string `json:"repos,omitempty" yaml:"repos,omitempty"` // custom type -> providing repository
}

// Category returns the bucket holding typeName, or "" when the graph does not use it
func (c *Classification) Category(typeName string) Category {
	for cat, names := range map[Category][]string{BuiltIn: c.BuiltIn, CustomInstalled: c.CustomInstalled, Unknown: c.Unknown} {
		i := sort.SearchStrings(names, typeName)
		if i < len(names) && names[i] == typeName {
			return cat
		}
	}
	return ""
}

// Classifier compares type names with a built-in and an installed set.
// It never modifies either set.
type Classifier struct {
	builtin   nodeset.Set
	installed nodeset.Set
}

// New returns a classifier over the given sets; either may be nil
func New(builtin, installed nodeset.Set) *Classifier {
	if builtin == nil {
		builtin = make(nodeset.Set)
	}
	if installed == nil {
		installed = make(nodeset.Set)
	}
	return &Classifier{builtin: builtin, installed: installed}
}

// Classify returns the category of a single type name and, for custom nodes, the
// repository providing it. Built-in wins when a name is in both sets.
//
// Display names of the form "Name (hint)" that are not found as such are matched
// against installed nodes from a repository whose name contains the hint.
func (c *Classifier) Classify(typeName string) (Category, string) {
	if c.builtin.Has(typeName) {
		return BuiltIn, ""
	}
	if c.installed.Has(typeName) {
		return CustomInstalled, c.installed.Repo(typeName)
	}
	if repo, ok := c.fuzzy(typeName); ok {
		return CustomInstalled, repo
	}
	return Unknown, ""
}

func (c *Classifier) fuzzy(typeName string) (string, bool) {
	open := strings.LastIndexByte(typeName, '(')
	end := strings.LastIndexByte(typeName, ')')
	if open < 0 || end < open {
		return "", false
	}
	hint := strings.ToLower(strings.TrimSpace(typeName[open+1 : end]))
	base := squash(typeName[:open])
	if hint == "" || base == "" {
		return "", false
	}
	// sorted for a deterministic answer when several installed nodes fit
	for _, name := range c.installed.Names() {
		repo := c.installed.Repo(name)
		if !strings.Contains(strings.ToLower(repo), hint) {
			continue
		}
		candidate := squash(name)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, base) || strings.Contains(base, candidate) {
			return repo, true
		}
	}
	return "", false
}

// squash lower-cases a name and drops spaces and underscores
func squash(s string) string {
	return strings.NewReplacer(" ", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// Partition classifies each distinct name once
func (c *Classifier) Partition(typeNames []string) *Classification {
	res := &Classification{
		BuiltIn:         make([]string, 0),
		CustomInstalled: make([]string, 0),
		Unknown:         make([]string, 0),
	}
	seen := make(map[string]bool)
	for _, name := range typeNames {
		if seen[name] {
			continue
		}
		seen[name] = true
		cat, repo := c.Classify(name)
		switch cat {
		case BuiltIn:
			res.BuiltIn = append(res.BuiltIn, name)
		case CustomInstalled:
			res.CustomInstalled = append(res.CustomInstalled, name)
			if repo != "" {
				if res.Repos == nil {
					res.Repos = make(map[string]string)
				}
				res.Repos[name] = repo
			}
		default:
			res.Unknown = append(res.Unknown, name)
		}
	}
	sort.Strings(res.BuiltIn)
	sort.Strings(res.CustomInstalled)
	sort.Strings(res.Unknown)
	return res
}

// Graph classifies the node types of g. Instances of subgraphs defined inside the
// workflow use the definition id as their type and count as built-in.
func (c *Classifier) Graph(g *graphapi.Graph) *Classification {
	if len(g.SubgraphIDs) == 0 {
		return c.Partition(g.TypeNames())
	}
	builtin := make(nodeset.Set, len(c.builtin)+len(g.SubgraphIDs))
	builtin.Merge(c.builtin)
	for _, id := range g.SubgraphIDs {
		builtin.Add(id, "")
	}
	return (&Classifier{builtin: builtin, installed: c.installed}).Partition(g.TypeNames())
}
