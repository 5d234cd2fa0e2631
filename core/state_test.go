package core

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() ResearchState {
	s := NewResearchState("Compare X and Y", "msg-1", "conv-1", 30, 3)
	s.ResearchPlan = []ResearchQuestion{
		{ID: "q_1", Text: "What is X?", Status: StatusAnswered, Priority: 2, SupportingFactIDs: []string{"f_1"}},
		{ID: "q_2", Text: "What is Y?", Status: StatusPending, Priority: 1},
		{ID: "q_3", Text: "How do they differ?", Status: StatusPending, Priority: 3},
	}
	s.GatheredFacts = []Fact{
		{ID: "f_1", Claim: "X is a thing", SourceURL: "https://a.example/x", Confidence: ConfidenceHigh, QuestionIDs: []string{"q_1"}},
		{ID: "f_2", Claim: "Y is another thing", SourceURL: "https://b.example/y", Confidence: ConfidenceLow},
	}
	s.PendingObservations = []Observation{{ToolCallID: "c1", ToolName: "web_search", Args: map[string]any{"query": "x"}}}
	return s
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleState()
	orig.SetReport("draft")
	c := orig.Clone()

	require.Empty(t, cmp.Diff(orig, c))

	c.ResearchPlan[0].SupportingFactIDs[0] = "changed"
	c.GatheredFacts[0].QuestionIDs[0] = "changed"
	c.PendingObservations[0].Args["query"] = "changed"
	*c.FinalReport = "changed"
	c.KnowledgeGaps = append(c.KnowledgeGaps, "gap")

	assert.Equal(t, "f_1", orig.ResearchPlan[0].SupportingFactIDs[0])
	assert.Equal(t, "q_1", orig.GatheredFacts[0].QuestionIDs[0])
	assert.Equal(t, "x", orig.PendingObservations[0].Args["query"])
	assert.Equal(t, "draft", *orig.FinalReport)
	assert.Empty(t, orig.KnowledgeGaps)
}

func TestStateJSONOmitsPendingObservations(t *testing.T) {
	s := sampleState()

	data, err := MarshalState(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pendingObservations")
	assert.Contains(t, string(data), `"originalQuery":"Compare X and Y"`)
	assert.Contains(t, string(data), `"finalReport":null`)

	back, err := UnmarshalState(data)
	require.NoError(t, err)
	assert.Nil(t, back.PendingObservations)

	s.PendingObservations = nil
	assert.Empty(t, cmp.Diff(s, back))
}

func TestUnmarshalStateNormalizesSlices(t *testing.T) {
	s, err := UnmarshalState([]byte(`{"originalQuery":"q","phase":"planning"}`))
	require.NoError(t, err)
	assert.NotNil(t, s.ResearchPlan)
	assert.NotNil(t, s.GatheredFacts)
	assert.NotNil(t, s.Citations)

	_, err = UnmarshalState([]byte(`{`))
	assert.Error(t, err)
}

func TestSortedPlanAndMinPriority(t *testing.T) {
	s := sampleState()
	order := s.SortedPlan()
	assert.Equal(t, []int{1, 0, 2}, order)
	assert.Equal(t, 1, s.MinPriority())
	assert.Equal(t, 3, s.MaxPriority())
}

func TestProtectedFactIDs(t *testing.T) {
	s := sampleState()
	s.Citations = []Citation{{FactID: "f_2"}}

	protected := s.ProtectedFactIDs()
	assert.Contains(t, protected, "f_1")
	assert.Contains(t, protected, "f_2")

	s.ResearchPlan[0].Status = StatusBlocked
	s.Citations = nil
	assert.Empty(t, s.ProtectedFactIDs())
}

func TestQuestionLifecycleIsTerminal(t *testing.T) {
	s := sampleState()

	s.StartQuestion(1)
	require.Equal(t, StatusInProgress, s.ResearchPlan[1].Status)
	require.NotNil(t, s.ResearchPlan[1].InProgressSince)

	assert.True(t, s.AnswerQuestion(1, " Y is Y ", []string{"f_2", "f_2"}))
	assert.Equal(t, "Y is Y", s.ResearchPlan[1].Answer)
	assert.Equal(t, []string{"f_2"}, s.ResearchPlan[1].SupportingFactIDs)

	assert.False(t, s.BlockQuestion(1))
	assert.False(t, s.AnswerQuestion(0, "again", nil))
	assert.Equal(t, StatusAnswered, s.ResearchPlan[1].Status)
}

func TestAdvanceStepClampsAtMax(t *testing.T) {
	s := NewResearchState("q", "m", "c", 2, 1)
	for i := 0; i < 5; i++ {
		s.AdvanceStep()
	}
	assert.Equal(t, 2, s.CurrentStep)
}

func TestAddGapDeduplicates(t *testing.T) {
	s := NewResearchState("q", "m", "c", 2, 1)
	assert.True(t, s.AddGap("Missing data for Y"))
	assert.False(t, s.AddGap("missing data for y"))
	assert.False(t, s.AddGap("  "))
	assert.Len(t, s.KnowledgeGaps, 1)
}

func TestValidate(t *testing.T) {
	s := sampleState()
	require.NoError(t, s.Validate())

	s.CurrentStep = 31
	s.GatheredFacts[1].Claim = strings.Repeat("a", MaxClaimLength+1)
	s.Citations = []Citation{{FactID: "f_missing"}}
	s.ResearchPlan[1].Status = StatusInProgress
	s.ResearchPlan[2].Status = StatusInProgress

	err := s.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "exceeds maxSteps")
	assert.Contains(t, msg, "claim exceeds")
	assert.Contains(t, msg, "unknown fact")
	assert.Contains(t, msg, "2 questions in progress")
}

func TestFactsForQuestion(t *testing.T) {
	s := sampleState()
	s.GatheredFacts[1].QuestionIDs = []string{"q_1"}

	facts := s.FactsForQuestion("q_1")
	require.Len(t, facts, 2)
	assert.Empty(t, s.FactsForQuestion("q_3"))
}

func TestNewID(t *testing.T) {
	id := NewID("f")
	assert.True(t, strings.HasPrefix(id, "f_"))
	assert.Len(t, id, 10)
	assert.NotEqual(t, id, NewID("f"))
	assert.Len(t, NewID(""), 36)
}

func TestParseEnums(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ParseConfidence(" HIGH "))
	assert.Equal(t, ConfidenceMedium, ParseConfidence("unsure"))
	assert.Equal(t, ComplexityMultiFaceted, ParseComplexity("multifaceted"))
	assert.Equal(t, ComplexitySimple, ParseComplexity(""))
	assert.True(t, PhaseError.IsTerminal())
	assert.False(t, PhaseSynthesizing.IsTerminal())
}

func TestCallLimiter(t *testing.T) {
	l := NewCallLimiter(2)
	require.NoError(t, l.Increment())
	require.NoError(t, l.Increment())
	assert.Equal(t, 0, l.Remaining())
	assert.Error(t, l.Increment())
	assert.Equal(t, 3, l.Count())

	assert.Equal(t, -1, NewCallLimiter(0).Remaining())
}
