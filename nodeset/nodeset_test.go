package nodeset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initPy = `
from .nodes import Sharpen, Blur
from . import extra

NODE_CLASS_MAPPINGS = {
    "Sharpen (fancy)": Sharpen,
    'FancyBlur': extra.Blur,
}

NODE_CLASS_MAPPINGS["LateAddition"] = extra.Late
`

const nodesPy = `
class Sharpen:
    @classmethod
    def INPUT_TYPES(s):
        return {"required": {"image": ("IMAGE",)}}

class Blur(object):
    pass
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPythonNodeNames(t *testing.T) {
	names := PythonNodeNames([]byte(initPy + nodesPy))
	assert.ElementsMatch(t,
		[]string{"Sharpen", "Blur", "Sharpen (fancy)", "FancyBlur", "LateAddition", "Late"},
		names)
}

func TestPythonNodeNamesUpdate(t *testing.T) {
	src := `NODE_CLASS_MAPPINGS = {}
NODE_CLASS_MAPPINGS.update({"A": ANode, "B": BNode})
`
	assert.ElementsMatch(t, []string{"A", "ANode", "B", "BNode"}, PythonNodeNames([]byte(src)))
}

func TestBuiltins(t *testing.T) {
	b := Builtins()
	for _, name := range []string{"KSampler", "CLIPTextEncode", "LoraLoader", "Reroute", "PrimitiveNode", "Note"} {
		assert.True(t, b.Has(name), name)
	}
	assert.False(t, b.Has("# nodes.py"))
	assert.False(t, b.Has(""))

	// callers get their own copy
	b.Add("Mine", "")
	assert.False(t, Builtins().Has("Mine"))
}

func TestSet(t *testing.T) {
	s := NewSet("b", "a")
	s.Add("c", "repo-x")
	assert.Equal(t, []string{"a", "b", "c"}, s.Names())
	assert.Equal(t, "repo-x", s.Repo("c"))
	assert.Equal(t, []string{"repo-x"}, s.Repos())

	s.Merge(Set{"c": "repo-y", "d": "repo-y"})
	assert.Equal(t, "repo-x", s.Repo("c"))
	assert.Equal(t, "repo-y", s.Repo("d"))
}

func TestScannerInstalledCustomTypeNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, CustomNodesDir, "comfy-fancy", "__init__.py"), initPy)
	writeFile(t, filepath.Join(root, CustomNodesDir, "comfy-fancy", "nodes.py"), nodesPy)
	writeFile(t, filepath.Join(root, CustomNodesDir, "comfy-fancy", "__version__.py"), "class Hidden: pass\n")
	writeFile(t, filepath.Join(root, CustomNodesDir, "comfy-fancy", ".git", "hooks.py"), "class GitHook: pass\n")
	writeFile(t, filepath.Join(root, CustomNodesDir, "other-pack", "pack.py"), "class OtherNode:\n    pass\n")
	writeFile(t, filepath.Join(root, CustomNodesDir, ".disabled", "x.py"), "class Disabled: pass\n")
	writeFile(t, filepath.Join(root, CustomNodesDir, "README.md"), "not a repo")

	s := &Scanner{Root: root, Workers: 2, Progress: io.Discard}
	found, err := s.InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "comfy-fancy", found.Repo("Sharpen"))
	assert.Equal(t, "comfy-fancy", found.Repo("Sharpen (fancy)"))
	assert.Equal(t, "other-pack", found.Repo("OtherNode"))
	assert.False(t, found.Has("Hidden"))
	assert.False(t, found.Has("GitHook"))
	assert.False(t, found.Has("Disabled"))
	assert.Equal(t, []string{"comfy-fancy", "other-pack"}, found.Repos())
}

func TestScannerRescansOnChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, CustomNodesDir, "first", "a.py"), "class First: pass\n")

	s := NewScanner(root)
	before, err := s.Fingerprint()
	require.NoError(t, err)

	found, err := s.InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.True(t, found.Has("First"))

	// contents changed but the repository list did not: the previous scan stands
	writeFile(t, filepath.Join(root, CustomNodesDir, "first", "b.py"), "class Quiet: pass\n")
	found, err = s.InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.False(t, found.Has("Quiet"))

	writeFile(t, filepath.Join(root, CustomNodesDir, "second", "c.py"), "class Second: pass\n")
	after, err := s.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	found, err = s.InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.True(t, found.Has("Second"))
	assert.True(t, found.Has("Quiet"))
}

func TestScannerWithoutCustomNodes(t *testing.T) {
	s := NewScanner(t.TempDir())
	found, err := s.InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestScannerCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, CustomNodesDir, "first", "a.py"), "class First: pass\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScanner(root).InstalledCustomTypeNames(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanBuiltins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "nodes.py"), "class KSampler:\n    pass\nclass BrandNewCoreNode:\n    pass\n")
	writeFile(t, filepath.Join(root, "comfy_extras", "nodes_new.py"), "class ExtraCore: pass\n")

	found, err := NewScanner(root).ScanBuiltins(context.Background())
	require.NoError(t, err)
	assert.True(t, found.Has("BrandNewCoreNode"))
	assert.True(t, found.Has("ExtraCore"))
	assert.True(t, found.Has("CLIPTextEncode"))
}

func TestStatic(t *testing.T) {
	var src Source = Static(NewSet("X"))
	found, err := src.InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.True(t, found.Has("X"))
}

func TestScannerCacheFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, CustomNodesDir, "first", "a.py"), "class First: pass\n")
	cache := filepath.Join(t.TempDir(), "cache", "custom_nodes.snappy")

	s := &Scanner{Root: root, CacheFile: cache}
	found, err := s.InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.True(t, found.Has("First"))
	require.FileExists(t, cache)

	// a new scanner trusts the cache while the repository list is unchanged
	writeFile(t, filepath.Join(root, CustomNodesDir, "first", "b.py"), "class Quiet: pass\n")
	found, err = (&Scanner{Root: root, CacheFile: cache}).InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.True(t, found.Has("First"))
	assert.False(t, found.Has("Quiet"))

	// and rescans once it changes
	writeFile(t, filepath.Join(root, CustomNodesDir, "second", "c.py"), "class Second: pass\n")
	found, err = (&Scanner{Root: root, CacheFile: cache}).InstalledCustomTypeNames(context.Background())
	require.NoError(t, err)
	assert.True(t, found.Has("Quiet"))
	assert.Equal(t, "second", found.Repo("Second"))
}

func TestScanCacheRejectsOtherInstallations(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "c.snappy")
	require.NoError(t, writeScanCache(cache, "/a", "f1", NewSet("X")))

	got, err := readScanCache(cache, "/a", "f1")
	require.NoError(t, err)
	assert.True(t, got.Has("X"))

	_, err = readScanCache(cache, "/b", "f1")
	assert.ErrorIs(t, err, errStaleCache)
	_, err = readScanCache(cache, "/a", "f2")
	assert.ErrorIs(t, err, errStaleCache)

	require.NoError(t, os.WriteFile(cache, []byte("not snappy"), 0o644))
	_, err = readScanCache(cache, "/a", "f1")
	assert.Error(t, err)
}
