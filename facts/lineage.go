package facts

import (
	"regexp"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/tidwall/gjson"
)

var urlRe = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}\\]+`)

// ValidSources returns the URLs a fact may cite, in order of first
// appearance: url/link/href fields of successful observation payloads, the
// url argument of the call, and http(s) URLs in the observation text.
func ValidSources(observations []core.Observation) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(raw string) {
		u := cleanURL(raw)
		if !isHTTP(u) {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	for _, obs := range observations {
		if obs.Failed() || obs.Internal || obs.Duplicate {
			continue
		}
		if u, ok := obs.Args["url"].(string); ok {
			add(u)
		}
		text := obs.Text()
		if gjson.Valid(text) {
			walkURLs(gjson.Parse(text), add)
		}
		for _, m := range urlRe.FindAllString(text, -1) {
			add(m)
		}
	}
	return out
}

func walkURLs(r gjson.Result, add func(string)) {
	switch {
	case r.IsObject():
		r.ForEach(func(key, value gjson.Result) bool {
			switch strings.ToLower(key.String()) {
			case "url", "link", "href", "sourceurl", "source_url":
				if value.Type == gjson.String {
					add(value.String())
				}
			}
			if value.IsObject() || value.IsArray() {
				walkURLs(value, add)
			}
			return true
		})
	case r.IsArray():
		for _, v := range r.Array() {
			walkURLs(v, add)
		}
	}
}

// MatchSource resolves a model-supplied URL against the valid sources. A URL
// matches when it equals a source or extends it with a path, query or
// fragment. The longest matching source is returned.
func MatchSource(raw string, sources []string) (string, bool) {
	u := strings.TrimSuffix(cleanURL(raw), "/")
	if !isHTTP(u) {
		return "", false
	}

	best := ""
	for _, s := range sources {
		base := strings.TrimSuffix(s, "/")
		if base == "" {
			continue
		}
		if u == base || (strings.HasPrefix(u, base) && strings.ContainsRune("/?#", rune(u[len(base)]))) {
			if len(base) > len(strings.TrimSuffix(best, "/")) {
				best = s
			}
		}
	}
	return best, best != ""
}

func cleanURL(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".,;:!'\"")
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Host returns the lower-cased host of a URL without a leading "www.".
func Host(raw string) string {
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(strings.ToLower(s), "www.")
}
