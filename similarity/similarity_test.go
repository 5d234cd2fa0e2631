package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensIncludeBigramsAndSkipNumbers(t *testing.T) {
	tokens := Tokens("Global EV sales rose 40% in 2023")

	assert.Contains(t, tokens, "global")
	assert.Contains(t, tokens, "ev sales")
	assert.Contains(t, tokens, "rose in")
	assert.NotContains(t, tokens, "40")
	assert.NotContains(t, tokens, "2023")
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.Equal(t, 1.0, Score("The cat sat", "the CAT sat!"))
	assert.Equal(t, 0.0, Score("alpha beta", "gamma delta"))

	a := map[string]struct{}{"a": {}, "b": {}}
	b := map[string]struct{}{"b": {}, "c": {}}
	assert.InDelta(t, 1.0/3.0, Jaccard(a, b), 1e-9)
}

func TestNumbers(t *testing.T) {
	n := Numbers("Revenue hit $2.5 billion, up 1,153% and 3x faster")

	require.Len(t, n[KindMoney], 1)
	assert.InDelta(t, 2.5e9, n[KindMoney][0], 1)
	assert.Equal(t, []float64{1153}, n[KindPercent])
	assert.Equal(t, []float64{3}, n[KindMultiplier])
}

func TestDivergesOnPercentages(t *testing.T) {
	a := "X increased 40%"
	b := "X increased 1,153%"

	assert.GreaterOrEqual(t, Score(a, b), DefaultThreshold)
	assert.True(t, Diverges(a, b, DefaultDivergence))
	assert.False(t, Duplicate(a, b, DefaultThreshold, DefaultDivergence))
}

func TestCloseNumbersStayDuplicates(t *testing.T) {
	a := "X increased 40%"
	b := "X increased 42%"

	assert.False(t, Diverges(a, b, DefaultDivergence))
	assert.True(t, Duplicate(a, b, DefaultThreshold, DefaultDivergence))
}

func TestDivergesIgnoresDifferentKinds(t *testing.T) {
	assert.False(t, Diverges("Costs rose 40%", "Costs rose to $40", DefaultDivergence))
	assert.False(t, Diverges("no numbers here", "none here either", DefaultDivergence))
}

func TestDivergesOnMoneyMagnitude(t *testing.T) {
	assert.True(t, Diverges("Funding of $5 million", "Funding of $5 billion", DefaultDivergence))
	assert.False(t, Diverges("Funding of $5 million", "Funding of $5,000,000", DefaultDivergence))
}

func TestDuplicateBelowThreshold(t *testing.T) {
	assert.False(t, Duplicate("solar panel efficiency records", "wind turbine maintenance costs", DefaultThreshold, DefaultDivergence))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "what is x", Normalize("  What is X?? "))
}

func TestPlainNumbersMustMatch(t *testing.T) {
	pairs := [][2]string{
		{"population of France 2010", "population of France 2020"},
		{"iPhone 14 battery life", "iPhone 15 battery life"},
		{"Paris had 2,100,000 residents", "Paris had 11,000,000 residents"},
	}
	for _, p := range pairs {
		assert.True(t, Diverges(p[0], p[1], DefaultDivergence), p[0])
		assert.False(t, Duplicate(p[0], p[1], DefaultThreshold, DefaultDivergence), p[0])
	}

	assert.True(t, Duplicate("population of France 2010", "Population of France, 2010", DefaultThreshold, DefaultDivergence))
}

func TestNumbersSeparatesPlainFromQuantities(t *testing.T) {
	n := Numbers("In 2023 sales rose 40% to $1.5 million across 2,100 stores")

	assert.Equal(t, []float64{2023, 2100}, n[KindPlain])
	assert.Equal(t, []float64{40}, n[KindPercent])
	require.Len(t, n[KindMoney], 1)
	assert.InDelta(t, 1.5e6, n[KindMoney][0], 1)
}

func TestScoreWithoutWordTokens(t *testing.T) {
	assert.Equal(t, 0.0, Score("2024", "1999"))
	assert.Equal(t, 1.0, Score("2024", " 2024 "))
	assert.False(t, Duplicate("2024", "1999", DefaultThreshold, DefaultDivergence))
}
