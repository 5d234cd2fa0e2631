// Package similarity implements the text comparison primitives shared by fact
// deduplication, duplicate-search detection and question merging: word plus
// bigram token sets, Jaccard similarity and numeric divergence.
package similarity

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// DefaultThreshold is the Jaccard similarity at or above which two texts are
// considered duplicates.
const DefaultThreshold = 0.7

// DefaultDivergence is the relative difference above which two numbers are
// considered different.
const DefaultDivergence = 0.10

// Tokens returns the set of lower-cased words and adjacent-word bigrams of s.
// Purely numeric words are left out; numbers are compared through Diverges.
func Tokens(s string) map[string]struct{} {
	words := words(s)
	set := make(map[string]struct{}, len(words)*2)
	for i, w := range words {
		set[w] = struct{}{}
		if i > 0 {
			set[words[i-1]+" "+w] = struct{}{}
		}
	}
	return set
}

func words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if isNumeric(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets share nothing (0).
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Score returns the Jaccard similarity of the token sets of two texts. Texts
// without word tokens (bare numbers, punctuation) score 1 only when their
// normalized forms are equal.
func Score(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		if Normalize(a) == Normalize(b) {
			return 1
		}
		return 0
	}
	return Jaccard(ta, tb)
}

// Kind classifies an extracted number.
type Kind string

const (
	KindPercent    Kind = "percent"
	KindMoney      Kind = "money"
	KindMultiplier Kind = "multiplier"
	// KindPlain covers counts, years and versions outside any unit.
	KindPlain Kind = "plain"
)

var (
	percentRe    = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(?:%|percent\b|per cent\b)`)
	moneyRe      = regexp.MustCompile(`(?i)(?:[$€£¥]\s?(\d[\d,]*(?:\.\d+)?)|(\d[\d,]*(?:\.\d+)?)\s*(?:usd|eur|dollars|euros)\b)\s*(k|thousand|m|mn|million|b|bn|billion|t|trillion)?\b`)
	multiplierRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:x\b|×|-fold\b|fold\b|times\b)`)
	plainRe      = regexp.MustCompile(`(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?`)
)

// Numbers extracts percentages, money amounts, multipliers and the remaining
// plain numbers from s. Money amounts are scaled by their magnitude suffix.
func Numbers(s string) map[Kind][]float64 {
	out := map[Kind][]float64{}
	masked := []byte(s)
	for _, re := range []*regexp.Regexp{percentRe, moneyRe, multiplierRe} {
		for _, loc := range re.FindAllStringIndex(s, -1) {
			maskDigits(masked[loc[0]:loc[1]])
		}
	}
	for _, raw := range plainRe.FindAllString(string(masked), -1) {
		if v, ok := parseNumber(raw); ok {
			out[KindPlain] = append(out[KindPlain], v)
		}
	}
	for _, m := range percentRe.FindAllStringSubmatch(s, -1) {
		if v, ok := parseNumber(m[1]); ok {
			out[KindPercent] = append(out[KindPercent], v)
		}
	}
	for _, m := range moneyRe.FindAllStringSubmatch(s, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, ok := parseNumber(raw); ok {
			out[KindMoney] = append(out[KindMoney], v*magnitude(m[3]))
		}
	}
	for _, m := range multiplierRe.FindAllStringSubmatch(s, -1) {
		if v, ok := parseNumber(m[1]); ok {
			out[KindMultiplier] = append(out[KindMultiplier], v)
		}
	}
	for k := range out {
		sort.Float64s(out[k])
	}
	return out
}

func maskDigits(b []byte) {
	for i, c := range b {
		if c >= '0' && c <= '9' {
			b[i] = ' '
		}
	}
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func magnitude(suffix string) float64 {
	switch strings.ToLower(suffix) {
	case "k", "thousand":
		return 1e3
	case "m", "mn", "million":
		return 1e6
	case "b", "bn", "billion":
		return 1e9
	case "t", "trillion":
		return 1e12
	default:
		return 1
	}
}

// Diverges reports whether two texts carry numbers of the same kind that
// differ by more than tolerance (relative to the larger magnitude). Plain
// numbers must match exactly. A value in either text with no counterpart in
// the other counts as a divergence. Texts without comparable numbers never
// diverge.
func Diverges(a, b string, tolerance float64) bool {
	na, nb := Numbers(a), Numbers(b)
	for kind, va := range na {
		vb, ok := nb[kind]
		if !ok {
			continue
		}
		tol := tolerance
		if kind == KindPlain {
			tol = 0
		}
		if unmatched(va, vb, tol) || unmatched(vb, va, tol) {
			return true
		}
	}
	return false
}

func unmatched(xs, ys []float64, tolerance float64) bool {
	for _, x := range xs {
		found := false
		for _, y := range ys {
			if relDiff(x, y) <= tolerance {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

func relDiff(x, y float64) float64 {
	m := math.Max(math.Abs(x), math.Abs(y))
	if m == 0 {
		return 0
	}
	return math.Abs(x-y) / m
}

// Duplicate reports whether candidate duplicates existing: similarity at or
// above threshold without numeric divergence.
func Duplicate(candidate, existing string, threshold, tolerance float64) bool {
	if Score(candidate, existing) < threshold {
		return false
	}
	return !Diverges(candidate, existing, tolerance)
}

// Normalize lower-cases s, strips punctuation and collapses whitespace. It is
// the key used for exact-text deduplication of questions and gaps.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
