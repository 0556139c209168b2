package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSONObject = errors.New("no json object found in model output")

// ExtractJSONObject pulls a JSON object out of free-form model output.
// It tries, in order: the whole text, the first fenced code block, and the
// first balanced top-level {...} span. Braces inside JSON strings are ignored.
func ExtractJSONObject(text string) (string, error) {
	t := strings.TrimSpace(text)
	if isJSONObject(t) {
		return t, nil
	}
	if block, ok := fencedBlock(t); ok {
		block = strings.TrimSpace(block)
		if isJSONObject(block) {
			return block, nil
		}
		if span, ok := firstObjectSpan(block); ok && isJSONObject(span) {
			return span, nil
		}
	}
	for start := 0; start < len(t); {
		span, ok := firstObjectSpan(t[start:])
		if !ok {
			break
		}
		if isJSONObject(span) {
			return span, nil
		}
		// Skip past the opening brace of a span that was not valid JSON.
		start += strings.Index(t[start:], "{") + 1
	}
	return "", ErrNoJSONObject
}

func isJSONObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil
}

// fencedBlock returns the body of the first ``` fence, dropping a language hint.
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open == -1 {
		return "", false
	}
	rest := s[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		hint := strings.TrimSpace(rest[:nl])
		if hint == "" || !strings.ContainsAny(hint, "{}") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return rest, true
	}
	return rest[:end], true
}

// firstObjectSpan returns the first balanced {...} span, tracking string
// literals so braces inside quoted values do not affect depth.
func firstObjectSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
