package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		typeName string
		want     Kind
	}{
		{"KSampler", KindSink},
		{"KSamplerAdvanced", KindSink},
		{"KSampler (Efficient)", KindSink},
		{"SamplerCustomAdvanced", KindSink},
		{"CFGGuider", KindSink},
		{"CLIPTextEncode", KindTextEncoder},
		{"CLIP Text Encode", KindTextEncoder},
		{"BNK_CLIPTextEncodeAdvanced", KindTextEncoder},
		{"ConditioningConcat", KindConcat},
		{"ConditioningAverage", KindAverage},
		{"ConditioningCombine", KindCombine},
		{"ConditioningSetAreaPercentageVideo", KindPassThrough},
		{"FluxGuidance", KindPassThrough},
		{"ConditioningZeroOut", KindZeroOut},
		{"ConditioningZeroOut_Advanced", KindZeroOut},
		{"Reroute", KindPassThrough},
		{"ControlNetApplyAdvanced", KindControlNet},
		{"ACN_AdvancedControlNetApply", KindControlNet},
		{"LoraLoader", KindLoraLoader},
		{"Power Lora Loader (rgthree)", KindLoraLoader},
		{"VAEDecode", KindUnknown},
		{"CheckpointLoaderSimple", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Classify(tt.typeName))
		})
	}
}

func TestRuleOverrides(t *testing.T) {
	rules, err := NewRules(map[Kind][]string{
		KindSink: {`^MySampler$`},
	})
	require.NoError(t, err)

	assert.Equal(t, KindSink, rules.Classify("MySampler"))
	// core names stay recognised whatever the patterns say
	assert.Equal(t, KindSink, rules.Classify("KSamplerAdvanced"))
	// the default sink patterns were replaced
	assert.Equal(t, KindUnknown, rules.Classify("KSampler (Efficient)"))

	_, err = NewRules(map[Kind][]string{KindTextEncoder: {`(`}})
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for k := range kindNames {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("sampler")
	assert.Error(t, err)
}
