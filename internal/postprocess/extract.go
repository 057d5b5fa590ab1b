package postprocess

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedJSONPattern matches fenced code blocks, optionally tagged "json",
// the same shape the primary agent's markdown output uses for structured
// asides (sign-off summaries, extracted questions, and the like).
var fencedJSONPattern = regexp.MustCompile("```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")

// ExtractJSONObjects returns every JSON object found in fenced code blocks
// within output, in document order. A primary agent may emit several
// blocks (reasoning, then a findings object); callers pick the one whose
// shape matches what they expect.
func ExtractJSONObjects(output string) []json.RawMessage {
	matches := fencedJSONPattern.FindAllStringSubmatch(output, -1)

	var out []json.RawMessage
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if candidate == "" || !json.Valid([]byte(candidate)) {
			continue
		}
		out = append(out, json.RawMessage(candidate))
	}
	return out
}

// FirstMatching scans the fenced JSON objects in output, unmarshalling each
// into a fresh *T via decode, and returns the first one for which accept
// reports true. This lets a pass look for "the block that has a `status`
// field" without caring whether it was the first or third fenced block.
func FirstMatching[T any](output string, accept func(*T) bool) (*T, bool) {
	for _, raw := range ExtractJSONObjects(output) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if accept(&v) {
			return &v, true
		}
	}
	return nil, false
}
