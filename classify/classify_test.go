package classify

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/nodeset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier() *Classifier {
	installed := nodeset.Set{
		"ImpactWildcardProcessor": "ComfyUI-Impact-Pack",
		"SAMLoader":               "ComfyUI-Impact-Pack",
		"Efficient Loader":        "efficiency-nodes-comfyui",
		"KSampler":                "some-fork", // shadows a core node
	}
	return New(nodeset.NewSet("KSampler", "CLIPTextEncode", "Reroute"), installed)
}

func TestClassify(t *testing.T) {
	c := testClassifier()
	tests := []struct {
		name     string
		wantCat  Category
		wantRepo string
	}{
		{"KSampler", BuiltIn, ""},
		{"CLIPTextEncode", BuiltIn, ""},
		{"SAMLoader", CustomInstalled, "ComfyUI-Impact-Pack"},
		{"SAMLoader (Impact)", CustomInstalled, "ComfyUI-Impact-Pack"},
		{"Efficient_Loader (efficiency)", CustomInstalled, "efficiency-nodes-comfyui"},
		{"SAMLoader (other-pack)", Unknown, ""},
		{"SomethingElse (Impact)", Unknown, ""},
		{" (Impact)", Unknown, ""},
		{"SAMLoader ()", Unknown, ""},
		{"Mystery", Unknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, repo := c.Classify(tt.name)
			assert.Equal(t, tt.wantCat, cat)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestPartition(t *testing.T) {
	res := testClassifier().Partition([]string{"Mystery", "KSampler", "SAMLoader", "KSampler", "Reroute"})
	assert.Equal(t, []string{"KSampler", "Reroute"}, res.BuiltIn)
	assert.Equal(t, []string{"SAMLoader"}, res.CustomInstalled)
	assert.Equal(t, []string{"Mystery"}, res.Unknown)
	assert.Equal(t, map[string]string{"SAMLoader": "ComfyUI-Impact-Pack"}, res.Repos)

	assert.Equal(t, BuiltIn, res.Category("Reroute"))
	assert.Equal(t, Unknown, res.Category("Mystery"))
	assert.Equal(t, Category(""), res.Category("NotInGraph"))
}

func TestEmptySets(t *testing.T) {
	res := New(nil, nil).Partition([]string{"A"})
	assert.Equal(t, []string{"A"}, res.Unknown)
	assert.Empty(t, res.BuiltIn)
	assert.NotNil(t, res.CustomInstalled)
}

func TestGraphSubgraphInstances(t *testing.T) {
	g, err := graphapi.Build([]byte(`{
		"nodes": [
			{"id": 1, "type": "KSampler"},
			{"id": 2, "type": "f2fdebf6-dfaf-43b6-9eb2-7f70613cfdc1"},
			{"id": 3, "type": "Mystery"}
		],
		"links": [],
		"definitions": {"subgraphs": [{"id": "f2fdebf6-dfaf-43b6-9eb2-7f70613cfdc1"}]}
	}`))
	require.NoError(t, err)

	c := testClassifier()
	res := c.Graph(g)
	assert.Equal(t, []string{"KSampler", "f2fdebf6-dfaf-43b6-9eb2-7f70613cfdc1"}, res.BuiltIn)
	assert.Equal(t, []string{"Mystery"}, res.Unknown)

	// the classifier's own sets are untouched
	cat, _ := c.Classify("f2fdebf6-dfaf-43b6-9eb2-7f70613cfdc1")
	assert.Equal(t, Unknown, cat)
}

func TestPartitionIsTotalAndDisjoint(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	pool := []string{"A", "B", "C", "D", "E", "F", "G (x)", "H (y)"}
	pick := func(picks []int) []string {
		retv := make([]string, 0, len(picks))
		for _, p := range picks {
			retv = append(retv, pool[p])
		}
		return retv
	}
	index := gen.IntRange(0, len(pool)-1)

	properties.Property("every name lands in exactly one bucket", prop.ForAll(
		func(builtinPicks, installedPicks, graphPicks []int) bool {
			installed := make(nodeset.Set)
			for _, n := range pick(installedPicks) {
				installed.Add(n, "repo-x")
			}
			res := New(nodeset.NewSet(pick(builtinPicks)...), installed).Partition(pick(graphPicks))

			counts := make(map[string]int)
			for _, list := range [][]string{res.BuiltIn, res.CustomInstalled, res.Unknown} {
				for _, n := range list {
					counts[n]++
				}
			}
			for _, n := range pick(graphPicks) {
				if counts[n] != 1 {
					return false
				}
			}
			return len(counts) == len(uniq(pick(graphPicks)))
		},
		gen.SliceOf(index),
		gen.SliceOf(index),
		gen.SliceOf(index),
	))

	properties.Property("built-in wins over installed", prop.ForAll(
		func(picks []int) bool {
			names := pick(picks)
			both := nodeset.NewSet(names...)
			res := New(both, both).Partition(names)
			return len(res.CustomInstalled) == 0 && len(res.Unknown) == 0
		},
		gen.SliceOf(index),
	))

	properties.TestingRun(t)
}

func uniq(names []string) []string {
	seen := make(map[string]bool)
	retv := make([]string, 0)
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			retv = append(retv, n)
		}
	}
	return retv
}
