// Package nodeset holds the collections of node type names a classifier compares
// a graph against: the core nodes shipped with ComfyUI and the custom nodes
// installed next to it.
package nodeset

import (
	"bufio"
	"context"
	_ "embed"
	"sort"
	"strings"
)

// Set is a set of node type names. The value is the repository providing the
// node, empty when it is not known.
type Set map[string]string

// NewSet returns a set holding names, with no repositories
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = ""
	}
	return s
}

// Add records name as provided by repo
func (s Set) Add(name, repo string) {
	s[name] = repo
}

// Has reports whether name is in the set
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Repo returns the repository providing name
func (s Set) Repo(name string) string {
	return s[name]
}

// Names returns the members in sorted order
func (s Set) Names() []string {
	retv := make([]string, 0, len(s))
	for n := range s {
		retv = append(retv, n)
	}
	sort.Strings(retv)
	return retv
}

// Repos returns the distinct repositories, sorted
func (s Set) Repos() []string {
	seen := make(map[string]bool)
	retv := make([]string, 0)
	for _, r := range s {
		if r != "" && !seen[r] {
			seen[r] = true
			retv = append(retv, r)
		}
	}
	sort.Strings(retv)
	return retv
}

// Merge adds every member of other, keeping repositories already known
func (s Set) Merge(other Set) {
	for n, r := range other {
		if cur, ok := s[n]; ok && cur != "" {
			continue
		}
		s[n] = r
	}
}

// Source produces the custom node types installed in a ComfyUI instance. How
// and when the installation is re-examined is up to the implementation.
type Source interface {
	InstalledCustomTypeNames(ctx context.Context) (Set, error)
}

// Static is a Source with a fixed answer
type Static Set

func (s Static) InstalledCustomTypeNames(_ context.Context) (Set, error) {
	return Set(s), nil
}

//go:embed builtin_nodes.txt
var builtinList string

// Builtins returns the core node types. Every call returns a new set.
func Builtins() Set {
	return parseList(builtinList)
}

// parseList reads one name per line, ignoring blank lines and # comments
func parseList(list string) Set {
	s := make(Set)
	scanner := bufio.NewScanner(strings.NewReader(list))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s[line] = ""
	}
	return s
}
