// Package extraction turns raw model text into validated ExtractionRecords.
//
// Parsing is best effort and never repairs input: ExtractJSON tries the
// whole text, then a fenced code block, then the outermost brace span, and
// gives up when none of them is valid JSON. Validate checks the candidate
// against the record schema without coercing types. Evaluate combines both
// steps into a tagged Outcome.
package extraction

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// fencePattern matches the first fenced block, optionally tagged json.
var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")

// ExtractJSON returns the first JSON value found in text, trying in order:
// the trimmed text itself, the interior of the first fenced block, and the
// span from the first '{' to the last '}'. It returns false when no stage
// yields syntactically valid JSON.
func ExtractJSON(text string) (any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if v, ok := decode(trimmed); ok {
		return v, true
	}

	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		if v, ok := decode(strings.TrimSpace(m[1])); ok {
			return v, true
		}
	}

	if start := strings.Index(trimmed, "{"); start != -1 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			if v, ok := decode(trimmed[start : end+1]); ok {
				return v, true
			}
		}
	}

	return nil, false
}

// decode parses candidate, using gjson's validator to reject invalid input
// before paying for a full decode.
func decode(candidate string) (any, bool) {
	if candidate == "" || !gjson.Valid(candidate) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, false
	}
	return v, true
}
