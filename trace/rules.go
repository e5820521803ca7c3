package trace

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is how the tracer treats a node type
type Kind int

const (
	KindUnknown     Kind = iota // contributes nothing
	KindSink                    // sampler or guider whose conditioning inputs start a trace
	KindTextEncoder             // leaf holding prompt text
	KindConcat                  // joins the text of its inputs
	KindAverage                 // keeps both inputs, weighted by its strength
	KindCombine                 // keeps both inputs unweighted
	KindPassThrough             // modifies conditioning without changing its text
	KindControlNet              // pass-through that also marks ControlNet use
	KindLoraLoader              // records a LoRA and passes its input on
	KindZeroOut                 // replaces its input with empty conditioning
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindSink:        "sink",
	KindTextEncoder: "text_encoder",
	KindConcat:      "concat",
	KindAverage:     "average",
	KindCombine:     "combine",
	KindPassThrough: "pass_through",
	KindControlNet:  "controlnet",
	KindLoraLoader:  "lora_loader",
	KindZeroOut:     "zero_out",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown node kind %q", s)
}

// patterns are tried in this order, so the specific combiners win over the
// generic Conditioning* pass-through
var patternOrder = []Kind{
	KindLoraLoader,
	KindTextEncoder,
	KindConcat,
	KindAverage,
	KindCombine,
	KindControlNet,
	KindZeroOut,
	KindPassThrough,
	KindSink,
}

// builtinKinds covers the core node types by normalised name
var builtinKinds = map[string]Kind{
	"ksampler":                      KindSink,
	"ksampleradvanced":              KindSink,
	"samplercustom":                 KindSink,
	"cfgguider":                     KindSink,
	"basicguider":                   KindSink,
	"dualcfgguider":                 KindSink,
	"perpnegguider":                 KindSink,
	"cliptextencode":                KindTextEncoder,
	"cliptextencodesdxl":            KindTextEncoder,
	"cliptextencodesdxlrefiner":     KindTextEncoder,
	"cliptextencodeflux":            KindTextEncoder,
	"cliptextencodesd3":             KindTextEncoder,
	"cliptextencodehunyuandit":      KindTextEncoder,
	"conditioningconcat":            KindConcat,
	"conditioningaverage":           KindAverage,
	"conditioningcombine":           KindCombine,
	"controlnetapply":               KindControlNet,
	"controlnetapplyadvanced":       KindControlNet,
	"controlnetapplysd3":            KindControlNet,
	"conditioningsetarea":           KindPassThrough,
	"conditioningsetareapercentage": KindPassThrough,
	"conditioningsetareastrength":   KindPassThrough,
	"conditioningsetmask":           KindPassThrough,
	"conditioningsettimesteprange":  KindPassThrough,
	"conditioningzeroout":           KindZeroOut,
	"fluxguidance":                  KindPassThrough,
	"stylemodelapply":               KindPassThrough,
	"reroute":                       KindPassThrough,
	"loraloader":                    KindLoraLoader,
	"loraloadermodelonly":           KindLoraLoader,
}

// DefaultPatterns catch custom node packs that follow core naming
var DefaultPatterns = map[Kind][]string{
	KindSink:        {`(?i)^KSampler`, `(?i)^SamplerCustom`, `(?i)Guider$`},
	KindTextEncoder: {`(?i)TextEncode`},
	KindConcat:      {`(?i)ConditioningConcat`},
	KindAverage:     {`(?i)ConditioningAverage`},
	KindCombine:     {`(?i)ConditioningCombine`},
	KindControlNet:  {`(?i)ControlNet.*Apply`},
	KindZeroOut:     {`(?i)ZeroOut`},
	KindPassThrough: {`(?i)^Conditioning`, `(?i)Guidance$`, `(?i)^Reroute`},
	KindLoraLoader:  {`(?i)lora.*loader`},
}

// Rules maps node type names to kinds. Exact core names are looked up first, the
// regular expressions are the fallback. Rules are immutable and safe to share.
type Rules struct {
	exact    map[string]Kind
	patterns map[Kind][]*regexp.Regexp
}

// NewRules compiles the default rules with the given per-kind pattern lists
// replacing the defaults for those kinds
func NewRules(overrides map[Kind][]string) (*Rules, error) {
	r := &Rules{
		exact:    builtinKinds,
		patterns: make(map[Kind][]*regexp.Regexp),
	}
	for _, kind := range patternOrder {
		exprs := DefaultPatterns[kind]
		if o, ok := overrides[kind]; ok {
			exprs = o
		}
		for _, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%s pattern %q: %w", kind, expr, err)
			}
			r.patterns[kind] = append(r.patterns[kind], re)
		}
	}
	return r, nil
}

// DefaultRules returns the rules with the default patterns
func DefaultRules() *Rules {
	r, err := NewRules(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Classify returns the kind for a node type name
func (r *Rules) Classify(typeName string) Kind {
	if k, ok := r.exact[normaliseType(typeName)]; ok {
		return k
	}
	for _, kind := range patternOrder {
		for _, re := range r.patterns[kind] {
			if re.MatchString(typeName) {
				return kind
			}
		}
	}
	return KindUnknown
}

// normaliseType folds case and drops separators so "CLIP Text Encode" and
// "CLIPTextEncode" share a key
func normaliseType(typeName string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(typeName))
}
