package modelclient

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// RepairJSON extracts a JSON object from raw model output. Models wrap JSON
// in prose or markdown fences and sometimes truncate mid-object; the ladder
// tries progressively heavier recovery before giving up:
//
//  1. parse as-is
//  2. strip markdown code fences
//  3. extract the first balanced {...} block
//  4. complete a truncated object by closing open strings and brackets
func RepairJSON(raw string) (json.RawMessage, error) {
	candidates := []string{
		strings.TrimSpace(raw),
		stripFences(raw),
		extractObject(raw),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
	}

	if completed := completeTruncated(extractPrefix(raw)); completed != "" {
		if json.Valid([]byte(completed)) {
			return json.RawMessage(completed), nil
		}
	}

	return nil, eris.New("modelclient: response is not repairable JSON")
}

// stripFences removes a ```json ... ``` (or bare ```) wrapper.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	s = s[start+3:]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && isFenceTag(s[:nl]) {
		s = s[nl+1:]
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	tag := strings.TrimSpace(s)
	return tag == "" || strings.EqualFold(tag, "json")
}

// extractObject returns the first balanced top-level object, tracking string
// and escape state so braces inside values do not confuse the count.
func extractObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

// extractPrefix returns from the first '{' to the end, the usual shape of a
// truncated response.
func extractPrefix(raw string) string {
	if start := strings.IndexByte(raw, '{'); start >= 0 {
		return strings.TrimSpace(raw[start:])
	}
	return ""
}

// completeTruncated closes an unfinished JSON object: terminates an open
// string, drops a trailing comma or dangling key, then closes brackets in
// reverse nesting order.
func completeTruncated(prefix string) string {
	if prefix == "" {
		return ""
	}

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			stack = append(stack, c)
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inString {
		return ""
	}

	s := prefix
	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\n\r")
	s = strings.TrimSuffix(s, ",")
	// A dangling `"key":` has no value to keep; replace it with null.
	if strings.HasSuffix(strings.TrimRight(s, " "), ":") {
		s += " null"
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}
