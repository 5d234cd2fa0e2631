package util

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFenceRe  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// ExtractJSON finds the first valid JSON object or array in model output.
// Reasoning blocks (<think>…</think>) and markdown code fences are handled.
// It returns "" when no valid JSON document can be found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(thinkBlockRe.ReplaceAllString(text, ""))
	if text == "" {
		return ""
	}
	if gjson.Valid(text) && (strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[")) {
		return text
	}

	for _, m := range codeFenceRe.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(m[1])
		if gjson.Valid(candidate) {
			return candidate
		}
	}

	for start := 0; start < len(text); start++ {
		c := text[start]
		if c != '{' && c != '[' {
			continue
		}
		if end := matchingBracket(text, start); end > start {
			candidate := text[start : end+1]
			if gjson.Valid(candidate) {
				return candidate
			}
		}
	}
	return ""
}

// matchingBracket returns the index of the bracket closing text[start],
// honoring JSON string literals, or -1.
func matchingBracket(text string, start int) int {
	open, close := text[start], byte('}')
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSON is ExtractJSON followed by gjson.Parse. The returned result does
// not exist when no JSON was found.
func ParseJSON(text string) gjson.Result {
	raw := ExtractJSON(text)
	if raw == "" {
		return gjson.Result{}
	}
	return gjson.Parse(raw)
}

// StringList reads r as a list of strings, accepting a single string too.
// Empty entries are dropped.
func StringList(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	var out []string
	add := func(v gjson.Result) {
		if s := strings.TrimSpace(v.String()); s != "" && v.Type == gjson.String {
			out = append(out, s)
		}
	}
	if r.IsArray() {
		for _, v := range r.Array() {
			add(v)
		}
		return out
	}
	add(r)
	return out
}
