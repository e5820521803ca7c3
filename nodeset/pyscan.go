package nodeset

import (
	"regexp"
	"strings"
)

var (
	classPattern    = regexp.MustCompile(`(?m)^[ \t]*class[ \t]+([A-Za-z_][A-Za-z0-9_]*)`)
	mappingsPattern = regexp.MustCompile(`NODE_CLASS_MAPPINGS\s*(?::\s*[^=\n]+)?=\s*\{`)
	updatePattern   = regexp.MustCompile(`NODE_CLASS_MAPPINGS\.update\(\s*\{`)
	entryPattern    = regexp.MustCompile(`["']([^"'\n]+)["']\s*:\s*([A-Za-z_][A-Za-z0-9_.]*)`)
	indexPattern    = regexp.MustCompile(`NODE_CLASS_MAPPINGS\[\s*["']([^"'\n]+)["']\s*\]\s*=\s*([A-Za-z_][A-Za-z0-9_.]*)`)
)

// PythonNodeNames lists the node type names a Python source file may register:
// every class it defines plus both sides of its NODE_CLASS_MAPPINGS entries.
// It is a textual scan, so classes that are not nodes are included too.
func PythonNodeNames(src []byte) []string {
	text := string(src)
	seen := make(map[string]bool)
	retv := make([]string, 0)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			retv = append(retv, name)
		}
	}

	for _, m := range classPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	var bodies []string
	for _, re := range []*regexp.Regexp{mappingsPattern, updatePattern} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			bodies = append(bodies, braceBody(text, loc[1]-1))
		}
	}
	for _, body := range bodies {
		for _, m := range entryPattern.FindAllStringSubmatch(body, -1) {
			add(m[1])
			add(className(m[2]))
		}
	}
	for _, m := range indexPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
		add(className(m[2]))
	}
	return retv
}

// braceBody returns the text between the brace at open and its partner, or the
// rest of the text when the braces never balance
func braceBody(text string, open int) string {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[open+1 : i]
			}
		}
	}
	return text[open+1:]
}

// className strips a module qualifier: nodes.KSampler -> KSampler
func className(ref string) string {
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
