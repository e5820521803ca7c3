// Package finder looks up which repositories provide node types that are not
// installed locally.
package finder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"sort"
	"sync"
)

// DefaultNodeMapURL is where ComfyUI-Manager publishes its extension node map
const DefaultNodeMapURL = "https://raw.githubusercontent.com/ltdrdata/ComfyUI-Manager/main/extension-node-map.json"

// Finder maps node type names to the repositories that might provide them.
// Names with no candidates are absent from the result.
type Finder interface {
	Find(ctx context.Context, names []string) (map[string][]string, error)
}

type pattern struct {
	re   *regexp.Regexp
	repo string
}

// NodeMap is an index over an extension node map document. That document maps
// each repository URL to a pair of [node names, metadata]; the metadata may carry
// a "nodename_pattern" regexp matching every node the repository provides.
type NodeMap struct {
	byName   map[string][]string
	patterns []pattern
}

type nodeMapMeta struct {
	Title           string `json:"title_aux"`
	NodenamePattern string `json:"nodename_pattern"`
}

// ParseNodeMap decodes an extension node map document
func ParseNodeMap(raw []byte) (*NodeMap, error) {
	var doc map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("extension node map: %w", err)
	}

	repos := make([]string, 0, len(doc))
	for repo := range doc {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	m := &NodeMap{byName: make(map[string][]string)}
	for _, repo := range repos {
		entry := doc[repo]
		if len(entry) == 0 {
			continue
		}
		var names []string
		if err := json.Unmarshal(entry[0], &names); err != nil {
			slog.Debug("skipping node map entry", "repo", repo, "error", err)
			continue
		}
		for _, n := range names {
			m.byName[n] = appendUnique(m.byName[n], repo)
		}
		if len(entry) < 2 {
			continue
		}
		var meta nodeMapMeta
		if err := json.Unmarshal(entry[1], &meta); err != nil || meta.NodenamePattern == "" {
			continue
		}
		re, err := regexp.Compile(meta.NodenamePattern)
		if err != nil {
			slog.Warn("ignoring invalid nodename_pattern", "repo", repo, "pattern", meta.NodenamePattern, "error", err)
			continue
		}
		m.patterns = append(m.patterns, pattern{re: re, repo: repo})
	}
	return m, nil
}

// ReadNodeMap decodes an extension node map from r
func ReadNodeMap(r io.Reader) (*NodeMap, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseNodeMap(raw)
}

// LoadNodeMapFile decodes the extension node map stored at path
func LoadNodeMapFile(path string) (*NodeMap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadNodeMap(file)
}

// Len returns the number of node names indexed by exact name
func (m *NodeMap) Len() int {
	return len(m.byName)
}

// Lookup returns the repositories providing name. Exact entries are listed first,
// followed by repositories whose name pattern matches.
func (m *NodeMap) Lookup(name string) []string {
	var retv []string
	for _, repo := range m.byName[name] {
		retv = appendUnique(retv, repo)
	}
	for _, p := range m.patterns {
		if p.re.MatchString(name) {
			retv = appendUnique(retv, p.repo)
		}
	}
	return retv
}

// Find implements Finder
func (m *NodeMap) Find(ctx context.Context, names []string) (map[string][]string, error) {
	retv := make(map[string][]string)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if repos := m.Lookup(name); len(repos) != 0 {
			retv[name] = repos
		}
	}
	return retv, nil
}

// Remote downloads the node map on first use and keeps it for later lookups
type Remote struct {
	URL        string
	HttpClient *http.Client

	mu     sync.Mutex
	loaded *NodeMap
}

// NewRemote returns a Finder reading the node map published at url
func NewRemote(url string) *Remote {
	if url == "" {
		url = DefaultNodeMapURL
	}
	return &Remote{URL: url, HttpClient: http.DefaultClient}
}

// Fetch downloads and parses the node map, reusing a previous download
func (r *Remote) Fetch(ctx context.Context) (*NodeMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded != nil {
		return r.loaded, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}
	client := r.HttpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", r.URL, resp.StatusCode)
	}

	m, err := ReadNodeMap(resp.Body)
	if err != nil {
		return nil, err
	}
	slog.Debug("fetched extension node map", "url", r.URL, "names", m.Len())
	r.loaded = m
	return m, nil
}

// Find implements Finder
func (r *Remote) Find(ctx context.Context, names []string) (map[string][]string, error) {
	m, err := r.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return m.Find(ctx, names)
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
