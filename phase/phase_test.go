package phase

import (
	"context"
	"testing"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/executor"
	"github.com/hupe1980/researchmesh/facts"
	"github.com/hupe1980/researchmesh/internal/testutil"
	"github.com/hupe1980/researchmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponses(t *testing.T) {
	t.Run("plan with string questions", func(t *testing.T) {
		r := ParsePlan("Here you go:\n```json\n{\"hypothesis\":\"h\",\"questions\":[\"What is X?\",\"What is Y?\"]}\n```")
		p, ok := r.(Plan)
		require.True(t, ok)
		assert.Equal(t, "h", p.Hypothesis)
		require.Len(t, p.Questions, 2)
		assert.Equal(t, 2, p.Questions[1].Priority)
		assert.Equal(t, core.ComplexitySimple, p.Complexity)
	})

	t.Run("plan without questions", func(t *testing.T) {
		_, ok := ParsePlan(`{"hypothesis":"h","questions":[]}`).(Unparseable)
		assert.True(t, ok)
	})

	t.Run("answer needs answer type", func(t *testing.T) {
		_, ok := ParseAnswer(`{"type":"thought","answer":"x"}`).(Unparseable)
		assert.True(t, ok)
		a, ok := ParseAnswer(`{"type":"answer","questionIndex":"2","answer":"yes","factIds":["f_1"]}`).(Answer)
		require.True(t, ok)
		assert.Equal(t, 2, a.QuestionIndex)
		assert.Equal(t, []string{"f_1"}, a.FactIDs)
	})

	t.Run("evaluation score is clamped", func(t *testing.T) {
		e, ok := ParseEvaluation(`{"score":14,"missingAspects":["cost"]}`).(Evaluation)
		require.True(t, ok)
		assert.Equal(t, 10, e.Score)
		_, ok = ParseEvaluation(`{"missingAspects":["cost"]}`).(Unparseable)
		assert.True(t, ok)
	})

	t.Run("report citations as strings or objects", func(t *testing.T) {
		r, ok := ParseReport(`{"report":"R","citations":["f_a",{"factId":"f_b"}]}`).(Report)
		require.True(t, ok)
		assert.Equal(t, []string{"f_a", "f_b"}, r.CitationIDs)
	})

	t.Run("plain text is unparseable", func(t *testing.T) {
		_, ok := ParseSummary("just words").(Unparseable)
		assert.True(t, ok)
	})
}

func TestPlan(t *testing.T) {
	h := New(nil, nil)

	t.Run("structured plan", func(t *testing.T) {
		st := testutil.NewStateBuilder("Compare X and Y").Build()
		next := h.Plan(st, `{"hypothesis":"X is faster","complexity":"multi-faceted",
			"perspectives":[{"name":"Performance"},{"name":"Cost"}],
			"questions":[{"question":"How fast is X?","priority":1,"perspective":"performance"},
			{"question":"How fast is X?","priority":2},
			{"question":"What does Y cost?","priority":2,"perspective":"Unknown"}]}`)

		assert.Equal(t, core.PhaseGathering, next.Phase)
		assert.Equal(t, "X is faster", next.CurrentHypothesis)
		assert.Equal(t, core.ComplexityMultiFaceted, next.Complexity)
		assert.Equal(t, "Performance", next.CurrentPerspective)
		require.Len(t, next.ResearchPlan, 2)
		assert.Equal(t, "Performance", next.ResearchPlan[0].Perspective)
		assert.Empty(t, next.ResearchPlan[1].Perspective)
		assert.Empty(t, st.ResearchPlan, "input state must not change")
	})

	t.Run("fallback to query", func(t *testing.T) {
		st := testutil.NewStateBuilder("Compare X and Y").Build()
		next := h.Plan(st, "I cannot produce JSON today")
		require.Len(t, next.ResearchPlan, 1)
		assert.Equal(t, "Compare X and Y", next.ResearchPlan[0].Text)
		assert.Equal(t, core.PhaseGathering, next.Phase)
	})
}

func TestEnsureActive(t *testing.T) {
	st := testutil.NewStateBuilder("q").
		QuestionWith("done", core.StatusAnswered, "").
		Question("second").
		Question("third").
		Build()

	next, ok := EnsureActive(st)
	require.True(t, ok)
	assert.Equal(t, core.StatusInProgress, next.ResearchPlan[1].Status)
	assert.Equal(t, core.StatusPending, next.ResearchPlan[2].Status)

	again, ok := EnsureActive(next)
	require.True(t, ok)
	assert.Equal(t, 1, again.ActiveQuestionIndex())

	closed := testutil.NewStateBuilder("q").QuestionWith("done", core.StatusBlocked, "").Build()
	_, ok = EnsureActive(closed)
	assert.False(t, ok)
}

func TestGather_Answer(t *testing.T) {
	h := New(nil, nil)
	base := testutil.NewStateBuilder("q").
		Phase(core.PhaseGathering).
		QuestionWith("first", core.StatusInProgress, "").
		Question("second").
		Fact("first has an answer", "https://a.example.com", "q_00000001").
		Build()

	t.Run("by index", func(t *testing.T) {
		out := h.Gather(context.Background(), base, model.Response{
			Content: `{"type":"answer","questionIndex":2,"answer":"B","factIds":["f_00000001","f_missing"]}`,
		}, "")
		assert.Equal(t, "q_00000002", out.AnsweredID)
		q := out.State.ResearchPlan[1]
		assert.Equal(t, core.StatusAnswered, q.Status)
		assert.Equal(t, []string{"f_00000001"}, q.SupportingFactIDs)
	})

	t.Run("by id", func(t *testing.T) {
		out := h.Gather(context.Background(), base, model.Response{
			Content: `{"type":"answer","questionId":"q_00000002","answer":"B"}`,
		}, "")
		assert.Equal(t, "q_00000002", out.AnsweredID)
	})

	t.Run("falls back to active question", func(t *testing.T) {
		out := h.Gather(context.Background(), base, model.Response{
			Content: `{"type":"answer","questionIndex":9,"answer":"A"}`,
		}, "")
		require.Equal(t, "q_00000001", out.AnsweredID)
		q := out.State.ResearchPlan[0]
		assert.Equal(t, "A", q.Answer)
		assert.Equal(t, []string{"f_00000001"}, q.SupportingFactIDs, "linked facts are used when none are cited")
	})

	t.Run("last open question moves to evaluating", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").Phase(core.PhaseGathering).QuestionWith("only", core.StatusInProgress, "").Build()
		out := h.Gather(context.Background(), st, model.Response{Content: `{"type":"answer","answer":"done"}`}, "")
		assert.Equal(t, core.PhaseEvaluating, out.State.Phase)
	})

	t.Run("terminal target is text-only", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").
			Phase(core.PhaseGathering).
			QuestionWith("answered", core.StatusAnswered, "").
			QuestionWith("active", core.StatusInProgress, "").
			Build()
		out := h.Gather(context.Background(), st, model.Response{
			Content: `{"type":"answer","questionIndex":1,"answer":"again"}`,
		}, "")
		assert.True(t, out.TextOnly)
		assert.Empty(t, out.AnsweredID)
		assert.Equal(t, 1, out.State.ConsecutiveTextOnlySteps)
	})
}

func TestGather_TextOnlyFolding(t *testing.T) {
	h := New(nil, nil)
	st := testutil.NewStateBuilder("q").Phase(core.PhaseGathering).QuestionWith("a", core.StatusInProgress, "").Build()

	for i := 0; i < 3; i++ {
		st = h.Gather(context.Background(), st, model.Response{Content: "<think>hmm</think>Let me think about it."}, "").State
	}
	assert.Equal(t, 0, st.ConsecutiveTextOnlySteps)
	assert.Equal(t, 1, st.ConsecutiveUnproductiveSteps)
	assert.Equal(t, 3, st.StepsOnCurrentFocus)
	assert.Equal(t, "Let me think about it.", st.LastReasoning)
}

func TestGather_ToolCalls(t *testing.T) {
	m := testutil.NewScriptedModel().On("VALID SOURCES", testutil.JSON(map[string]any{
		"facts": []map[string]any{
			{"claim": "X handles 10k requests per second", "sourceUrl": "https://x-speed.example.com/article", "confidence": "high"},
			{"claim": "Made up", "sourceUrl": "https://elsewhere.example.org"},
		},
	}))
	ex := executor.New(testutil.Registry(testutil.SearchTool()))
	h := New(ex, facts.NewExtractor(m))

	st := testutil.NewStateBuilder("Compare X and Y").
		Phase(core.PhaseGathering).
		QuestionWith("How fast is X?", core.StatusInProgress, "").
		Mutate(func(s *core.ResearchState) { s.ConsecutiveUnproductiveSteps = 2 }).
		Build()

	out := h.Gather(context.Background(), st, model.Response{
		ToolCalls: []model.ToolCall{testutil.Call("c1", "web_search", map[string]any{"query": "x speed"})},
	}, "")

	require.NoError(t, out.ExtractionErr)
	assert.True(t, out.Productive)
	assert.Equal(t, 1, out.ToolsExecuted)
	assert.Equal(t, 1, out.NewFacts)
	assert.Equal(t, 0, out.State.ConsecutiveUnproductiveSteps)
	require.Len(t, out.State.GatheredFacts, 1)
	assert.Equal(t, []string{out.State.GatheredFacts[0].ID}, out.State.ResearchPlan[0].SupportingFactIDs)
	require.Len(t, out.State.SearchHistory, 1)
	assert.Len(t, out.State.PendingObservations, 1)
}

func TestGather_ToolCallsWithoutFacts(t *testing.T) {
	m := testutil.NewScriptedModel().On("VALID SOURCES", testutil.Text(`{"facts":[]}`))
	h := New(executor.New(testutil.Registry(testutil.SearchTool())), facts.NewExtractor(m))
	st := testutil.NewStateBuilder("q").Phase(core.PhaseGathering).QuestionWith("a", core.StatusInProgress, "").Build()

	out := h.Gather(context.Background(), st, model.Response{
		ToolCalls: []model.ToolCall{testutil.Call("c1", "web_search", map[string]any{"query": "anything"})},
	}, "")
	assert.False(t, out.Productive)
	assert.Equal(t, 1, out.State.ConsecutiveUnproductiveSteps)
}

func TestEvaluate(t *testing.T) {
	h := New(nil, nil)

	t.Run("unparseable goes to synthesis", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").Phase(core.PhaseEvaluating).Build()
		assert.Equal(t, core.PhaseSynthesizing, h.Evaluate(st, "no idea").Phase)
	})

	t.Run("high score synthesizes", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").Phase(core.PhaseEvaluating).Build()
		next := h.Evaluate(st, `{"score":8,"followUpQuestions":["more?"]}`)
		assert.Equal(t, core.PhaseSynthesizing, next.Phase)
		require.NotNil(t, next.LastEvaluation)
		assert.True(t, next.LastEvaluation.Ready)
	})

	t.Run("penalties for narrow research", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").
			Phase(core.PhaseEvaluating).
			Complexity(core.ComplexityControversial, "Pro", "Contra").
			QuestionWith("pro side", core.StatusAnswered, "Pro").
			Fact("a", "https://www.one.example.com/x").
			Fact("b", "https://one.example.com/y").
			Build()
		next := h.Evaluate(st, `{"score":8,"missingAspects":["contra view"],"followUpQuestions":["What do critics say?"]}`)
		// coverage 0.5 (-1), one host (-2)
		assert.Equal(t, 5, next.LastEvaluation.AdjustedScore)
		assert.Equal(t, core.PhaseCompressing, next.Phase)
		assert.Contains(t, next.KnowledgeGaps, "contra view")
	})

	t.Run("last round synthesizes", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").Phase(core.PhaseEvaluating).Round(3).Build()
		next := h.Evaluate(st, `{"score":2,"followUpQuestions":["more?"]}`)
		assert.Equal(t, core.PhaseSynthesizing, next.Phase)
	})

	t.Run("nothing left to research synthesizes", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").Phase(core.PhaseEvaluating).Build()
		assert.Equal(t, core.PhaseSynthesizing, h.Evaluate(st, `{"score":3}`).Phase)
	})

	t.Run("missing aspects without follow-ups compress", func(t *testing.T) {
		st := testutil.NewStateBuilder("q").Phase(core.PhaseEvaluating).Build()
		next := h.Evaluate(st, `{"score":3,"missingAspects":["long-term cost"]}`)
		assert.Equal(t, core.PhaseCompressing, next.Phase)
		require.NotNil(t, next.LastEvaluation)
		assert.False(t, next.LastEvaluation.Ready)
	})
}

func TestCompress(t *testing.T) {
	h := New(nil, nil)
	st := testutil.NewStateBuilder("q").
		Phase(core.PhaseCompressing).
		Step(9).
		Complexity(core.ComplexityMultiFaceted, "Performance", "Cost").
		QuestionWith("How fast is X?", core.StatusAnswered, "Performance").
		Mutate(func(s *core.ResearchState) {
			s.LastEvaluation = &core.Evaluation{FollowUpQuestions: []string{"How fast is X?", "What does Y cost per month?"}}
			s.StepsOnCurrentFocus = 4
		}).
		Build()

	next := h.Compress(st, `{"summary":"X is fast [f_00000001]."}`)

	assert.Equal(t, 2, next.CurrentRound)
	assert.Equal(t, 9, next.RoundStartStep)
	assert.Equal(t, 0, next.StepsOnCurrentFocus)
	assert.Equal(t, "Cost", next.CurrentPerspective)
	require.Len(t, next.RoundSummaries, 1)
	assert.Equal(t, 1, next.RoundSummaries[0].Round)
	assert.Equal(t, "Performance", next.RoundSummaries[0].Perspective)
	require.Len(t, next.ResearchPlan, 2)
	added := next.ResearchPlan[1]
	assert.Equal(t, "What does Y cost per month?", added.Text)
	assert.Equal(t, "Cost", added.Perspective)
	assert.Equal(t, 2, added.Priority)
	assert.Equal(t, core.PhaseGathering, next.Phase)
}

func TestCompress_MissingAspectsBecomeQuestions(t *testing.T) {
	h := New(nil, nil)
	st := testutil.NewStateBuilder("q").
		Phase(core.PhaseEvaluating).
		QuestionWith("What does X cost?", core.StatusAnswered, "").
		Build()

	st = h.Evaluate(st, `{"score":3,"missingAspects":["long-term maintenance of X"]}`)
	require.Equal(t, core.PhaseCompressing, st.Phase)

	next := h.Compress(st, `{"summary":"X is affordable."}`)
	require.Len(t, next.ResearchPlan, 2)
	assert.Equal(t, "long-term maintenance of X", next.ResearchPlan[1].Text)
	assert.Equal(t, core.StatusPending, next.ResearchPlan[1].Status)
	assert.Equal(t, core.PhaseGathering, next.Phase)
}

func TestCompress_NothingNew(t *testing.T) {
	h := New(nil, nil)
	st := testutil.NewStateBuilder("q").Phase(core.PhaseCompressing).QuestionWith("a", core.StatusAnswered, "").Build()
	next := h.Compress(st, "plain summary")
	assert.Equal(t, core.PhaseSynthesizing, next.Phase)
	assert.Equal(t, "plain summary", next.RoundSummaries[0].Summary)
}

func TestSynthesize(t *testing.T) {
	h := New(nil, nil)
	st := testutil.NewStateBuilder("q").
		Phase(core.PhaseSynthesizing).
		Fact("a", "https://a.example.com").
		Fact("b", "https://b.example.com").
		Build()

	t.Run("unknown citations dropped", func(t *testing.T) {
		next := h.Synthesize(st, `{"report":"R","citations":[{"factId":"f_00000001"},{"factId":"f_deadbeef"},"f_00000001"]}`)
		assert.Equal(t, core.PhaseComplete, next.Phase)
		require.NotNil(t, next.FinalReport)
		assert.Equal(t, "R", *next.FinalReport)
		require.Len(t, next.Citations, 1)
		assert.Equal(t, "https://a.example.com", next.Citations[0].SourceURL)
	})

	t.Run("raw text uses inline markers", func(t *testing.T) {
		next := h.Synthesize(st, "# Report\nX beats Y [f_00000002] but not [f_0badf00d].")
		assert.Equal(t, core.PhaseComplete, next.Phase)
		require.Len(t, next.Citations, 1)
		assert.Equal(t, "f_00000002", next.Citations[0].FactID)
	})

	t.Run("empty output falls back", func(t *testing.T) {
		next := h.Synthesize(st, "   ")
		assert.Equal(t, core.PhaseComplete, next.Phase)
		require.NotNil(t, next.FinalReport)
		assert.Contains(t, *next.FinalReport, "## Key facts")
		assert.Len(t, next.Citations, 2)
	})
}

func TestFinishWithFallback_NoFacts(t *testing.T) {
	st := testutil.NewStateBuilder("q").Build()
	next := FinishWithFallback(st, "iteration ceiling reached")
	assert.Equal(t, core.PhaseError, next.Phase)
	assert.Equal(t, "iteration ceiling reached", next.ErrorMessage)
	assert.Nil(t, next.FinalReport)
}

func TestNextPerspective(t *testing.T) {
	st := testutil.NewStateBuilder("q").
		Complexity(core.ComplexityMultiFaceted, "A", "B", "C").
		QuestionWith("x", core.StatusAnswered, "A").
		Mutate(func(s *core.ResearchState) {
			s.RoundSummaries = []core.RoundSummary{{Round: 1, Perspective: "B"}}
		}).
		Build()
	assert.Equal(t, "C", NextPerspective(st))
	assert.InDelta(t, 2.0/3.0, PerspectiveCoverage(st), 1e-9)
}
