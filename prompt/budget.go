package prompt

import "unicode/utf8"

// Budget holds per-section character limits for the serialized context.
type Budget struct {
	Hypothesis   int
	Plan         int
	Facts        int
	Observations int
	Reasoning    int
}

// DefaultBudget returns the full-size section budget.
func DefaultBudget() Budget {
	return Budget{
		Hypothesis:   600,
		Plan:         3000,
		Facts:        6000,
		Observations: 9000,
		Reasoning:    1200,
	}
}

// Scale returns the budget multiplied by f. Sections never drop below 40
// characters so headings stay meaningful.
func (b Budget) Scale(f float64) Budget {
	scale := func(n int) int {
		v := int(float64(n) * f)
		if v < 40 {
			v = 40
		}
		return v
	}
	return Budget{
		Hypothesis:   scale(b.Hypothesis),
		Plan:         scale(b.Plan),
		Facts:        scale(b.Facts),
		Observations: scale(b.Observations),
		Reasoning:    scale(b.Reasoning),
	}
}

// EstimateTokens approximates the token count of s as (chars+3)/4.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
