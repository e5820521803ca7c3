package nodeset

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// CustomNodesDir is the directory under a ComfyUI installation holding custom node repositories
const CustomNodesDir = "custom_nodes"

// Scanner reads node type names out of a ComfyUI installation on disk. The result
// of a custom node scan is kept and reused until the set of repository
// directories changes.
type Scanner struct {
	Root      string       // ComfyUI installation directory
	Workers   int          // repositories scanned in parallel, defaults to the CPU count
	Progress  io.Writer    // progress bar destination, nil for none
	Logger    *slog.Logger // defaults to slog.Default()
	CacheFile string       // keeps the custom node scan across runs when set

	mu          sync.Mutex
	fingerprint string
	cached      Set
}

// NewScanner returns a scanner for the installation at root
func NewScanner(root string) *Scanner {
	return &Scanner{Root: root}
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// repositories lists the repository directories under custom_nodes, sorted
func (s *Scanner) repositories() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, CustomNodesDir))
	if err != nil {
		return nil, err
	}
	retv := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || name == "__pycache__" {
			continue
		}
		retv = append(retv, name)
	}
	sort.Strings(retv)
	return retv, nil
}

// Fingerprint identifies the current set of custom node repositories
func (s *Scanner) Fingerprint() (string, error) {
	repos, err := s.repositories()
	if err != nil {
		return "", err
	}
	return fingerprintOf(repos), nil
}

func fingerprintOf(repos []string) string {
	sum := md5.Sum([]byte(strings.Join(repos, "|")))
	return hex.EncodeToString(sum[:])
}

// InstalledCustomTypeNames scans custom_nodes, mapping each node type to the
// repository directory it was found in. A missing custom_nodes directory yields
// an empty set.
func (s *Scanner) InstalledCustomTypeNames(ctx context.Context) (Set, error) {
	repos, err := s.repositories()
	if errors.Is(err, fs.ErrNotExist) {
		s.logger().Warn("no custom_nodes directory", "root", s.Root)
		return make(Set), nil
	}
	if err != nil {
		return nil, err
	}
	fingerprint := fingerprintOf(repos)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.fingerprint == fingerprint {
		s.logger().Debug("custom nodes unchanged, reusing scan", "fingerprint", fingerprint)
		return copySet(s.cached), nil
	}

	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, err
	}
	if s.CacheFile != "" {
		found, err := readScanCache(s.CacheFile, root, fingerprint)
		if err == nil {
			s.logger().Debug("custom nodes unchanged since last run", "cache", s.CacheFile)
			s.cached = found
			s.fingerprint = fingerprint
			return copySet(found), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger().Debug("not using scan cache", "cache", s.CacheFile, "error", err)
		}
	}

	found, err := s.scanRepositories(ctx, repos)
	if err != nil {
		return nil, err
	}
	s.cached = found
	s.fingerprint = fingerprint
	s.logger().Info("scanned custom nodes", "types", len(found), "repositories", len(repos))
	if s.CacheFile != "" {
		if err := writeScanCache(s.CacheFile, root, fingerprint, found); err != nil {
			s.logger().Warn("could not save scan cache", "cache", s.CacheFile, "error", err)
		}
	}
	return copySet(found), nil
}

func (s *Scanner) scanRepositories(ctx context.Context, repos []string) (Set, error) {
	var bar *progressbar.ProgressBar
	if s.Progress != nil {
		bar = progressbar.NewOptions(len(repos),
			progressbar.OptionSetWriter(s.Progress),
			progressbar.OptionSetDescription("scanning custom nodes"),
			progressbar.OptionShowCount(),
		)
		defer bar.Finish()
	}

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([][]string, len(repos))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, repo := range repos {
		i, repo := i, repo
		g.Go(func() error {
			names, err := s.scanTree(ctx, filepath.Join(s.Root, CustomNodesDir, repo))
			if err != nil {
				return fmt.Errorf("scan %s: %w", repo, err)
			}
			results[i] = names
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := make(Set)
	for i, names := range results {
		for _, n := range names {
			found.Add(n, repos[i])
		}
	}
	return found, nil
}

// scanTree collects the names from every Python file below dir. Dunder files
// other than __init__.py are skipped, as are hidden directories.
func (s *Scanner) scanTree(ctx context.Context, dir string) ([]string, error) {
	var retv []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries inside a repository are not worth failing the scan
			s.logger().Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || name == "__pycache__") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".py") || (strings.HasPrefix(name, "__") && name != "__init__.py") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			s.logger().Debug("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		retv = append(retv, PythonNodeNames(src)...)
		return nil
	})
	return retv, err
}

// builtinSources are the core files registering nodes, relative to the installation
var builtinSources = []string{"nodes.py", "comfy_extras"}

// ScanBuiltins reads the core node types from the installation's nodes.py and
// comfy_extras, merged with the embedded list
func (s *Scanner) ScanBuiltins(ctx context.Context) (Set, error) {
	found := Builtins()
	for _, rel := range builtinSources {
		path := filepath.Join(s.Root, rel)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var names []string
		if info.IsDir() {
			names, err = s.scanTree(ctx, path)
			if err != nil {
				return nil, err
			}
		} else {
			src, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			names = PythonNodeNames(src)
		}
		for _, n := range names {
			found.Add(n, "")
		}
	}
	return found, nil
}

func copySet(s Set) Set {
	retv := make(Set, len(s))
	for k, v := range s {
		retv[k] = v
	}
	return retv
}
