package client

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/richinsley/comfytrace/pngmeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const objectInfoJSON = `{
	"KSampler": {"name": "KSampler", "display_name": "KSampler", "category": "sampling", "python_module": "nodes", "output_node": false},
	"SaveImage": {"display_name": "Save Image", "category": "image", "python_module": "nodes", "output_node": true},
	"ModelMergeSimple": {"name": "ModelMergeSimple", "python_module": "comfy_extras.nodes_model_merging"},
	"SAMLoader": {"name": "SAMLoader", "python_module": "custom_nodes.ComfyUI-Impact-Pack"},
	"FaceDetailer": {"name": "FaceDetailer", "python_module": "custom_nodes.ComfyUI-Impact-Pack.modules.impact"}
}`

const historyJSON = `{
	"bbb": {
		"prompt": [
			1, "bbb",
			{"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a hat", "clip": ["4", 1]}}},
			{"client_id": "x"},
			["9"]
		],
		"outputs": {}
	},
	"aaa": {
		"prompt": [
			0, "aaa",
			{"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a cat"}}},
			{"extra_pnginfo": {"workflow": {"nodes": [{"id": 6, "type": "CLIPTextEncode"}], "links": []}}},
			["9"]
		],
		"outputs": {}
	},
	"broken": {"prompt": [2]}
}`

func testServer(t *testing.T) (*ComfyClient, *int) {
	t.Helper()
	hits := new(int)
	mux := http.NewServeMux()
	mux.HandleFunc("/object_info", func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.Write([]byte(objectInfoJSON))
	})
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"system": {"os": "posix", "python_version": "3.11", "embedded_python": false},
			"devices": [{"name": "cuda:0", "type": "cuda", "index": 0, "vram_total": 100, "vram_free": 50}]}`))
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(historyJSON))
	})
	mux.HandleFunc("/history/aaa", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(historyJSON))
	})
	mux.HandleFunc("/history/zzz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	c := NewComfyClient(u.Hostname(), port)
	c.SetHttpClient(srv.Client())
	return c, hits
}

func TestObjectInfoSplit(t *testing.T) {
	c, hits := testServer(t)
	ctx := context.Background()

	assert.False(t, c.IsInitialized())
	custom, err := c.InstalledCustomTypeNames(ctx)
	require.NoError(t, err)
	assert.True(t, c.IsInitialized())
	assert.Equal(t, []string{"FaceDetailer", "SAMLoader"}, custom.Names())
	assert.Equal(t, "ComfyUI-Impact-Pack", custom.Repo("FaceDetailer"))

	builtin, err := c.BuiltinTypeNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"KSampler", "ModelMergeSimple", "SaveImage"}, builtin.Names())

	// definitions are fetched once
	assert.Equal(t, 1, *hits)
}

func TestObjectInfoNameDefaultsToKey(t *testing.T) {
	c, _ := testServer(t)
	objs, err := c.GetObjectInfos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SaveImage", objs["SaveImage"].Name)
	assert.True(t, objs["SaveImage"].OutputNode)
}

func TestSystemStats(t *testing.T) {
	c, _ := testServer(t)
	stats, err := c.GetSystemStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "posix", stats.System.OS)
	require.Len(t, stats.Devices, 1)
	assert.Equal(t, int64(50), stats.Devices[0].VRAM_Free)
}

func TestHistory(t *testing.T) {
	c, _ := testServer(t)
	items, err := c.GetHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "aaa", items[0].PromptID)
	assert.Equal(t, 0, items[0].Index)
	assert.NotNil(t, items[0].Workflow)
	assert.Equal(t, "CLIPTextEncode", items[0].Record["6"].ClassType)

	assert.Equal(t, "bbb", items[1].PromptID)
	assert.Nil(t, items[1].Workflow)

	g, err := items[0].Graph()
	require.NoError(t, err)
	assert.NotNil(t, g.GetNodeById("6"))

	// without a workflow the executed prompt is the graph
	g, err = items[1].Graph()
	require.NoError(t, err)
	assert.Equal(t, "CLIPTextEncode", g.GetNodeById("6").Type)
}

func TestHistoryItem(t *testing.T) {
	c, _ := testServer(t)
	item, err := c.GetHistoryItem(context.Background(), "aaa")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "aaa", item.PromptID)

	item, err = c.GetHistoryItem(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestStatusError(t *testing.T) {
	c, _ := testServer(t)
	err := c.getJSON(context.Background(), "/nope", &struct{}{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestCancelledContext(t *testing.T) {
	c, _ := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetObjectInfos(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGraphFromPNGReportsMissing(t *testing.T) {
	c, _ := testServer(t)
	workflow := `{"nodes": [
		{"id": 1, "type": "KSampler"},
		{"id": 2, "type": "Reroute"},
		{"id": 3, "type": "NotOnServer"},
		{"id": 4, "type": "SAMLoader"}
	], "links": []}`

	var buf bytes.Buffer
	require.NoError(t, pngmeta.Embed(&buf, bytes.NewReader(blankPNG(t)), map[string]string{"workflow": workflow}))

	g, missing, err := c.NewGraphFromPNGReader(context.Background(), &buf)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 4)
	assert.Equal(t, []string{"NotOnServer"}, missing)
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	return buf.Bytes()
}
