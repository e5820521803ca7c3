package pngmeta

import (
	"bytes"
	"compress/zlib"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pngWithChunks(t *testing.T, chunks map[string]string) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Embed(&out, bytes.NewReader(blankPNG(t)), chunks))
	return out.Bytes()
}

// insertRawChunk places an arbitrary chunk after IHDR, for chunk types Embed does not write
func insertRawChunk(t *testing.T, src []byte, chunkType string, data []byte) []byte {
	t.Helper()
	// signature (8) + IHDR length (4) + type (4) + data (13) + crc (4)
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	var out bytes.Buffer
	out.Write(src[:ihdrEnd])
	require.NoError(t, writeChunk(&out, chunkType, data))
	out.Write(src[ihdrEnd:])
	return out.Bytes()
}

func TestExtractWorkflowAndPrompt(t *testing.T) {
	data := pngWithChunks(t, map[string]string{
		"workflow": `{"nodes":[],"links":[]}`,
		"prompt":   `{"3":{"class_type":"KSampler","inputs":{}}}`,
	})

	md, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, md.HasWorkflow())
	assert.True(t, md.HasPrompt())
	assert.Equal(t, "workflow", md.WorkflowKeyword)
	assert.Equal(t, "prompt", md.PromptKeyword)
	assert.JSONEq(t, `{"nodes":[],"links":[]}`, string(md.Workflow))
}

func TestExtractCapitalisedKeywords(t *testing.T) {
	data := pngWithChunks(t, map[string]string{
		"Workflow": `{"nodes":[]}`,
	})

	md, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "Workflow", md.WorkflowKeyword)
	assert.False(t, md.HasPrompt())
}

func TestExtractPriorityFallsThroughInvalidCandidate(t *testing.T) {
	data := pngWithChunks(t, map[string]string{
		"workflow": `{not json`,
		"Workflow": `{"nodes":[]}`,
	})

	md, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "Workflow", md.WorkflowKeyword)
}

func TestExtractPromptOnly(t *testing.T) {
	data := pngWithChunks(t, map[string]string{
		"prompt": `{"1":{"class_type":"CLIPTextEncode","inputs":{"text":"cat"}}}`,
	})

	md, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)
	assert.False(t, md.HasWorkflow())
	assert.True(t, md.HasPrompt())
}

func TestExtractTruncatedStream(t *testing.T) {
	data := pngWithChunks(t, map[string]string{
		"workflow": `{"nodes":[],"links":[]}`,
		"prompt":   `{"3":{"class_type":"KSampler","inputs":{}}}`,
	})
	idat := bytes.Index(data, []byte("IDAT"))
	require.Greater(t, idat, 0)
	cut := data[:idat+6]

	chunks, err := ReadTextChunks(bytes.NewReader(cut))
	assert.ErrorIs(t, err, ErrDamagedStream)
	assert.Len(t, chunks, 2)

	md, err := Extract(bytes.NewReader(cut))
	require.NoError(t, err)
	assert.True(t, md.HasWorkflow())
	assert.True(t, md.HasPrompt())

	// cut inside IHDR, before any text chunk
	_, err = Extract(bytes.NewReader(data[:20]))
	assert.ErrorIs(t, err, ErrNotAWorkflowImage)
}

func TestExtractNotAWorkflowImage(t *testing.T) {
	t.Run("no chunks", func(t *testing.T) {
		_, err := Extract(bytes.NewReader(blankPNG(t)))
		assert.ErrorIs(t, err, ErrNotAWorkflowImage)
	})
	t.Run("unrelated chunks", func(t *testing.T) {
		data := pngWithChunks(t, map[string]string{"parameters": "a cat, Steps: 20"})
		_, err := Extract(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrNotAWorkflowImage)
	})
	t.Run("not a png", func(t *testing.T) {
		_, err := Extract(strings.NewReader("GIF89a........"))
		assert.ErrorIs(t, err, ErrNotAWorkflowImage)
	})
}

func TestExtractMalformedMetadata(t *testing.T) {
	data := pngWithChunks(t, map[string]string{
		"workflow": `{"nodes": [`,
		"prompt":   `{}`,
	})

	_, err := Extract(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrMalformedMetadata)
	assert.NotErrorIs(t, err, ErrNotAWorkflowImage)
}

func TestExtractSanitisesNonFiniteNumbers(t *testing.T) {
	data := pngWithChunks(t, map[string]string{
		"prompt": `{"1":{"class_type":"X","inputs":{"a":NaN,"b":-Infinity,"c":"NaN stays"}}}`,
	})

	md, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":{"class_type":"X","inputs":{"a":null,"b":null,"c":"NaN stays"}}}`, string(md.Prompt))
}

func TestReadCompressedTextChunks(t *testing.T) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write([]byte(`{"nodes":[{"id":1}]}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ztxt := append([]byte("workflow"), 0, 0)
	ztxt = append(ztxt, z.Bytes()...)

	itxt := append([]byte("prompt"), 0, 0, 0)
	itxt = append(itxt, 0)    // empty language tag
	itxt = append(itxt, 0)    // empty translated keyword
	itxt = append(itxt, "{}"...)

	data := insertRawChunk(t, blankPNG(t), "zTXt", ztxt)
	data = insertRawChunk(t, data, "iTXt", itxt)

	chunks, err := ReadTextChunks(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[{"id":1}]}`, chunks["workflow"])
	assert.Equal(t, "{}", chunks["prompt"])
}

func TestEmbedKeepsImageDecodable(t *testing.T) {
	data := pngWithChunks(t, map[string]string{"workflow": "{}"})
	_, err := png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}
