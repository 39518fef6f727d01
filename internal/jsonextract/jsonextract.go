// Package jsonextract pulls the first JSON object or array out of free-form
// model output. Local models wrap JSON in prose, markdown fences, and
// <think> blocks; the scanner counts brackets while respecting string and
// escape state, and a jsonrepair pass rescues almost-valid payloads.
package jsonextract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON means no candidate span was found at all.
var ErrNoJSON = errors.New("no JSON found in text")

// Object extracts and unmarshals the first {...} span into out.
func Object(text string, out interface{}) error {
	return extract(text, '{', '}', out)
}

// Array extracts and unmarshals the first [...] span into out.
func Array(text string, out interface{}) error {
	return extract(text, '[', ']', out)
}

func extract(text string, open, closer byte, out interface{}) error {
	span, ok := scan(text, open, closer)
	if !ok {
		return ErrNoJSON
	}

	if err := json.Unmarshal([]byte(span), out); err == nil {
		return nil
	}

	// Trailing commas, single quotes, unquoted keys: repair and retry.
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return errors.New("failed to parse JSON: " + err.Error())
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return errors.New("failed to parse repaired JSON: " + err.Error())
	}
	return nil
}

// scan returns the first balanced span delimited by open/closer, skipping
// bracket characters inside string literals.
func scan(text string, open, closer byte) (string, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	// Unterminated: hand the tail to the repairer.
	return text[start:], true
}
