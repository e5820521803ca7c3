package graphapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExecutionRecord(t *testing.T) {
	queued := `{"prompt": {
		"1": {"class_type": "PrimitiveString", "inputs": {"value": "a castle"}},
		"2": {"class_type": "CLIPTextEncode", "inputs": {"text": ["1", 0], "clip": ["3", 1]}},
		"3": {"class_type": "LoraLoader", "inputs": {"lora_name": "detail.safetensors", "strength_model": 0.7}}
	}, "client_id": "abc"}`

	rec, err := ParseExecutionRecord([]byte(queued))
	require.NoError(t, err)
	require.Len(t, rec, 3)

	s, ok := rec.ResolveString("2", "text")
	assert.True(t, ok)
	assert.Equal(t, "a castle", s)

	f, ok := rec.Number("3", "strength_model")
	assert.True(t, ok)
	assert.Equal(t, 0.7, f)

	_, ok = rec.Number("3", "lora_name")
	assert.False(t, ok)

	assert.True(t, rec.Has("2", "cliptextencode"))
	assert.False(t, rec.Has("2", "KSampler"))
	assert.False(t, rec.Has("9", "KSampler"))

	_, ok = rec.ResolveString("9", "text")
	assert.False(t, ok)

	bare, err := ParseExecutionRecord([]byte(promptJSON))
	require.NoError(t, err)
	assert.Len(t, bare, 4)
	s, ok = bare.ResolveString("6", "text")
	assert.True(t, ok)
	assert.Equal(t, "a castle", s)
}

func TestResolveStringCycle(t *testing.T) {
	rec, err := ParseExecutionRecord([]byte(`{
		"1": {"class_type": "T", "inputs": {"text": ["2", 0]}},
		"2": {"class_type": "T", "inputs": {"text": ["1", 0]}}
	}`))
	require.NoError(t, err)

	_, ok := rec.ResolveString("1", "text")
	assert.False(t, ok)
}

func TestParseExecutionRecordRejectsGarbage(t *testing.T) {
	_, err := ParseExecutionRecord([]byte(`[1, 2]`))
	assert.Error(t, err)
}
