package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/testutil"
	"github.com/hupe1980/researchmesh/intervention"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/researchlog"
	"github.com/hupe1980/researchmesh/session"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const extractionMarker = "VALID SOURCES"

var (
	sourceRe = regexp.MustCompile(`(?m)^- (https?://\S+)$`)
	factIDRe = regexp.MustCompile(`f_[0-9a-f]{8}`)
)

// extraction returns a reply that turns the first valid source of the
// extraction prompt into one fact, using claims in order.
func extraction(claims ...string) testutil.Reply {
	var n atomic.Int32
	return func(req model.Request) (model.Response, error) {
		m := sourceRe.FindStringSubmatch(req.System())
		if m == nil {
			return model.Response{Content: `{"facts":[]}`}, nil
		}
		i := int(n.Add(1)) - 1
		if i >= len(claims) {
			return model.Response{Content: `{"facts":[]}`}, nil
		}
		return testutil.JSON(map[string]any{
			"facts": []map[string]any{{
				"claim":      claims[i],
				"sourceUrl":  m[1],
				"confidence": "high",
			}},
		})(req)
	}
}

// citingReport cites the first fact id found in the prompt plus an unknown id.
func citingReport(req model.Request) (model.Response, error) {
	id := factIDRe.FindString(req.System())
	return testutil.JSON(map[string]any{
		"report":    fmt.Sprintf("X and Y differ [%s].", id),
		"citations": []map[string]any{{"factId": id}, {"factId": "f_ffffffff"}},
	})(req)
}

// gatherSteps calls fn after every gathering step, which is the only step
// that reports tool counts.
func gatherSteps(fn func(st core.ResearchState, meta map[string]any)) Callback {
	return NewFunctionCallback(CallbackStepCompleted, func(_ context.Context, cc *CallbackContext) error {
		if _, ok := cc.Metadata["tools_executed"]; ok {
			fn(cc.State, cc.Metadata)
		}
		return nil
	})
}

func search(id, query string) testutil.Reply {
	return testutil.Tools(testutil.Call(id, "web_search", map[string]any{"query": query}))
}

func plan(questions ...string) testutil.Reply {
	qs := make([]map[string]any, len(questions))
	for i, q := range questions {
		qs[i] = map[string]any{"question": q, "priority": i + 1}
	}
	return testutil.JSON(map[string]any{
		"hypothesis": "X and Y differ",
		"complexity": "simple",
		"questions":  qs,
	})
}

func answer(text string) testutil.Reply {
	return testutil.JSON(map[string]any{"type": "answer", "answer": text})
}

func newEngine(t *testing.T, m model.Model, optFns ...func(o *Options)) *Engine {
	t.Helper()
	eng, err := New(m, append([]func(o *Options){func(o *Options) {
		o.Tools = testutil.Registry(testutil.SearchTool())
	}}, optFns...)...)
	require.NoError(t, err)
	return eng
}

func TestResearch_CompareScenario(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(extractionMarker, extraction(
			"Xylophones are built from tuned hardwood bars",
			"Yodeling originated among herders in the central Alps",
		)).
		On(prompt.MarkerPlanning, plan("What is X?", "What is Y?")).
		On(prompt.MarkerGathering,
			search("c1", "what is x"),
			answer("X is a percussion instrument."),
			search("c2", "what is y"),
			answer("Y is a singing technique."),
		).
		On(prompt.MarkerEvaluating, testutil.JSON(map[string]any{"score": 8})).
		On(prompt.MarkerSynthesizing, citingReport)

	store := session.NewInMemoryStore()
	eng := newEngine(t, m, func(o *Options) { o.Store = store })

	state, err := eng.Research(context.Background(), Request{Query: "Compare X and Y", MessageID: "compare", MaxSteps: 30})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	require.NotNil(t, state.FinalReport)
	assert.Len(t, state.ResearchPlan, 2)
	assert.Equal(t, 2, state.CountByStatus(core.StatusAnswered))
	assert.Len(t, state.GatheredFacts, 2)
	require.Len(t, state.Citations, 1)
	for _, c := range state.Citations {
		assert.GreaterOrEqual(t, state.FactIndex(c.FactID), 0, "citation %s must reference a gathered fact", c.FactID)
	}
	assert.Equal(t, 7, state.CurrentStep)
	assert.NoError(t, state.Validate())

	saved, err := store.Load(context.Background(), "compare")
	require.NoError(t, err)
	assert.Equal(t, core.PhaseComplete, saved.Phase)
	assert.Empty(t, eng.ActiveRuns())
}

func TestResearch_TimeoutBlocksQuestion(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering, search("c1", "what is x")).
		On(prompt.MarkerEvaluating, testutil.JSON(map[string]any{"score": 2})).
		On(prompt.MarkerSynthesizing, testutil.JSON(map[string]any{"report": "Nothing conclusive was found."}))

	var (
		mu       sync.Mutex
		toolErrs []string
	)
	eng := newEngine(t, m, func(o *Options) {
		o.Tools = testutil.Registry(testutil.BlockingTool())
		o.Config.ToolTimeout = 20 * time.Millisecond
		o.Config.BatchTimeout = time.Second
		o.Callbacks = []Callback{gatherSteps(func(st core.ResearchState, _ map[string]any) {
			mu.Lock()
			defer mu.Unlock()
			for _, obs := range st.PendingObservations {
				if obs.Failed() {
					toolErrs = append(toolErrs, obs.Error)
				}
			}
		})}
	})

	state, err := eng.Research(context.Background(), Request{Query: "What is X?"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	require.Len(t, state.ResearchPlan, 1)
	assert.Equal(t, core.StatusBlocked, state.ResearchPlan[0].Status)
	assert.Contains(t, state.KnowledgeGaps, "No evidence found for: What is X?")
	assert.Equal(t, 3, m.Calls(prompt.MarkerGathering))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, toolErrs, 3)
	assert.Contains(t, toolErrs[0], "timed out")
}

func TestResearch_DuplicateSearchInSecondRound(t *testing.T) {
	var executed atomic.Int32
	counting := tool.NewFunctionTool("web_search", "Counting search", map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []string{"query"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		executed.Add(1)
		return map[string]any{"results": []map[string]any{{"url": "https://x.example.com/share", "title": "X share"}}}, nil
	})

	m := testutil.NewScriptedModel().
		On(extractionMarker, extraction("X holds a large share of its market")).
		On(prompt.MarkerPlanning, plan("What is the market share of X?")).
		On(prompt.MarkerGathering,
			search("c1", "x market share"),
			answer("X leads its market."),
			search("c2", "X market share"),
			answer("The trend is stable."),
		).
		On(prompt.MarkerEvaluating,
			testutil.JSON(map[string]any{"score": 4, "followUpQuestions": []string{"How did the market share of X change over time?"}}),
			testutil.JSON(map[string]any{"score": 9}),
		).
		On(prompt.MarkerCompressing, testutil.JSON(map[string]any{"summary": "X leads its market."})).
		On(prompt.MarkerSynthesizing, citingReport)

	var (
		mu       sync.Mutex
		dupObs   []core.Observation
		executes []any
	)
	eng := newEngine(t, m, func(o *Options) {
		o.Tools = testutil.Registry(counting)
		o.Callbacks = []Callback{gatherSteps(func(st core.ResearchState, meta map[string]any) {
			mu.Lock()
			defer mu.Unlock()
			for _, obs := range st.PendingObservations {
				if obs.Duplicate {
					dupObs = append(dupObs, obs)
					executes = append(executes, meta["tools_executed"])
				}
			}
		})}
	})

	state, err := eng.Research(context.Background(), Request{Query: "X market share"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	assert.Equal(t, int32(1), executed.Load())
	assert.Len(t, state.RoundSummaries, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dupObs, 1)
	assert.Contains(t, dupObs[0].Error, "duplicate search")
	require.NotEmpty(t, executes)
	assert.Equal(t, 0, executes[0])
}

func TestResearch_IterationCeiling(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, testutil.Text("not a plan")).
		On(prompt.MarkerGathering, testutil.Text("Let me think about this some more."))

	eng := newEngine(t, m, func(o *Options) { o.Config.MaxLoopIterations = 5 })

	state, err := eng.Research(context.Background(), Request{Query: "Endless question"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseError, state.Phase)
	assert.Equal(t, "iteration ceiling reached", state.ErrorMessage)
	assert.Equal(t, 6, state.LoopIterations)
	assert.Equal(t, 5, state.CurrentStep)
	require.Len(t, state.ResearchPlan, 1)
	assert.Equal(t, "Endless question", state.ResearchPlan[0].Text)
}

func TestResearch_IterationCeilingWithFactsCompletes(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(extractionMarker, extraction("Xenon is a noble gas used in lamps")).
		On(prompt.MarkerPlanning, plan("What is xenon?")).
		On(prompt.MarkerGathering, search("c1", "xenon"), testutil.Text("Still reading."))

	eng := newEngine(t, m, func(o *Options) { o.Config.MaxLoopIterations = 4 })

	state, err := eng.Research(context.Background(), Request{Query: "Xenon"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	require.NotNil(t, state.FinalReport)
	assert.Contains(t, *state.FinalReport, "Xenon is a noble gas")
	require.Len(t, state.Citations, 1)
	assert.Equal(t, state.GatheredFacts[0].ID, state.Citations[0].FactID)
}

// tripRecorder collects the guardrails a run trips, in order.
type tripRecorder struct {
	mu      sync.Mutex
	names   []string
	reasons []string
}

func (r *tripRecorder) callback() Callback {
	return NewFunctionCallback(CallbackGuardrail, func(_ context.Context, cc *CallbackContext) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.names = append(r.names, cc.Message)
		reason, _ := cc.Metadata["reason"].(string)
		r.reasons = append(r.reasons, reason)
		return nil
	})
}

func (r *tripRecorder) tripped() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...), append([]string(nil), r.reasons...)
}

// systemRecorder wraps a reply and keeps the system message of every request.
type systemRecorder struct {
	mu      sync.Mutex
	systems []string
}

func (r *systemRecorder) wrap(reply testutil.Reply) testutil.Reply {
	return func(req model.Request) (model.Response, error) {
		r.mu.Lock()
		r.systems = append(r.systems, req.System())
		r.mu.Unlock()
		return reply(req)
	}
}

func (r *systemRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.systems...)
}

func guardrailActivities(state core.ResearchState) []string {
	var out []string
	for _, a := range state.ActivityLog {
		if a.Kind == "guardrail" {
			out = append(out, a.Message)
		}
	}
	return out
}

func TestResearch_StepCeilingStillSynthesizes(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering, testutil.Text("Still thinking about X.")).
		On(prompt.MarkerSynthesizing, testutil.JSON(map[string]any{"report": "Nothing conclusive was found about X."}))

	trips := &tripRecorder{}
	eng := newEngine(t, m, func(o *Options) {
		o.Config.GlobalSoftLandingMargin = 0
		o.Config.UnproductiveLimit = 10
		o.Callbacks = []Callback{trips.callback()}
	})

	state, err := eng.Research(context.Background(), Request{Query: "What is X?", MaxSteps: 4, MaxRounds: 1})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	require.NotNil(t, state.FinalReport)
	assert.Equal(t, 3, m.Calls(prompt.MarkerGathering))
	assert.Equal(t, 0, m.Calls(prompt.MarkerEvaluating))
	assert.Equal(t, 1, m.Calls(prompt.MarkerSynthesizing))
	assert.Equal(t, 4, state.CurrentStep)
	assert.Equal(t, []string{"Step budget exhausted; writing the report"}, guardrailActivities(state))

	names, reasons := trips.tripped()
	assert.Equal(t, []string{"step ceiling"}, names)
	assert.Equal(t, []string{"step 4 of 4"}, reasons)
}

func TestResearch_RoundSoftLandingEvaluates(t *testing.T) {
	gathering, evaluating, synthesizing := &systemRecorder{}, &systemRecorder{}, &systemRecorder{}
	m := testutil.NewScriptedModel().
		On(extractionMarker, extraction()).
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering,
			gathering.wrap(search("c1", "x origins")),
			gathering.wrap(search("c2", "x materials")),
			gathering.wrap(search("c3", "x history")),
		).
		On(prompt.MarkerEvaluating, evaluating.wrap(testutil.JSON(map[string]any{"score": 9}))).
		On(prompt.MarkerSynthesizing, synthesizing.wrap(testutil.JSON(map[string]any{"report": "X has a long history."})))

	trips := &tripRecorder{}
	eng := newEngine(t, m, func(o *Options) {
		o.Config.UnproductiveLimit = 10
		o.Callbacks = []Callback{trips.callback()}
	})

	// 10 steps over 2 rounds allocates 5 per round; the round lands at 4.
	state, err := eng.Research(context.Background(), Request{Query: "What is X?", MaxSteps: 10, MaxRounds: 2})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	assert.Equal(t, 3, m.Calls(prompt.MarkerGathering))
	assert.Equal(t, 1, m.Calls(prompt.MarkerEvaluating))
	assert.Equal(t, 1, m.Calls(prompt.MarkerSynthesizing))
	assert.Equal(t, []string{"Round 1 budget reached; evaluating"}, guardrailActivities(state))
	assert.Empty(t, state.PendingObservations)

	names, reasons := trips.tripped()
	assert.Equal(t, []string{"round soft landing"}, names)
	assert.Equal(t, []string{"4 steps in round 1"}, reasons)

	gathers := gathering.all()
	require.Len(t, gathers, 3)
	assert.NotContains(t, gathers[0], "## Latest tool results")
	assert.Contains(t, gathers[1], "## Latest tool results")

	for _, sys := range append(evaluating.all(), synthesizing.all()...) {
		assert.NotContains(t, sys, "## Latest tool results")
	}
}

func TestResearch_GlobalSoftLandingSynthesizes(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering, testutil.Text("Still thinking about X.")).
		On(prompt.MarkerSynthesizing, testutil.JSON(map[string]any{"report": "Nothing conclusive was found about X."}))

	trips := &tripRecorder{}
	eng := newEngine(t, m, func(o *Options) {
		o.Config.GlobalSoftLandingMargin = 3
		o.Config.RoundSoftLanding = 1
		o.Config.UnproductiveLimit = 10
		o.Callbacks = []Callback{trips.callback()}
	})

	state, err := eng.Research(context.Background(), Request{Query: "What is X?", MaxSteps: 10, MaxRounds: 1})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	require.NotNil(t, state.FinalReport)
	assert.Equal(t, 6, m.Calls(prompt.MarkerGathering))
	assert.Equal(t, 0, m.Calls(prompt.MarkerEvaluating))
	assert.Equal(t, 1, m.Calls(prompt.MarkerSynthesizing))
	assert.Equal(t, 8, state.CurrentStep)
	assert.Equal(t, []string{"Step budget nearly exhausted; writing the report"}, guardrailActivities(state))

	names, reasons := trips.tripped()
	assert.Equal(t, []string{"global soft landing"}, names)
	assert.Equal(t, []string{"step 7 of 10"}, reasons)
}

func TestResearch_StalledQuestionIsBlocked(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering, testutil.Text("Let me think about X.")).
		On(prompt.MarkerEvaluating, testutil.JSON(map[string]any{"score": 2})).
		On(prompt.MarkerSynthesizing, testutil.JSON(map[string]any{"report": "Nothing conclusive was found about X."}))

	trips := &tripRecorder{}
	eng := newEngine(t, m, func(o *Options) {
		o.Config.MaxStepsPerQuestion = 2
		o.Config.UnproductiveLimit = 10
		o.Callbacks = []Callback{trips.callback()}
	})

	state, err := eng.Research(context.Background(), Request{Query: "What is X?"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	require.Len(t, state.ResearchPlan, 1)
	assert.Equal(t, core.StatusBlocked, state.ResearchPlan[0].Status)
	assert.Contains(t, state.KnowledgeGaps, "Stalled on: What is X?")
	assert.NotContains(t, state.KnowledgeGaps, "No evidence found for: What is X?")
	assert.Equal(t, 2, m.Calls(prompt.MarkerGathering))
	assert.Equal(t, 1, m.Calls(prompt.MarkerEvaluating))
	assert.Equal(t, 1, m.Calls(prompt.MarkerSynthesizing))
	assert.Equal(t, []string{"Blocked: What is X?"}, guardrailActivities(state))

	names, reasons := trips.tripped()
	assert.Equal(t, []string{"unproductive ceiling"}, names)
	assert.Equal(t, []string{"2 steps on one question"}, reasons)
}

func TestRun_Cancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?", "What is Y?")).
		On(prompt.MarkerGathering, func(req model.Request) (model.Response, error) {
			close(started)
			<-release
			return model.Response{Content: "late"}, nil
		})

	eng := newEngine(t, m)
	run, err := eng.Start(context.Background(), Request{Query: "Compare X and Y", MessageID: "cancel-me"})
	require.NoError(t, err)

	<-started
	require.NoError(t, eng.Cancel("cancel-me"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := run.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, core.PhaseError, state.Phase)
	assert.True(t, state.Cancelled)
	assert.Equal(t, "research cancelled", state.ErrorMessage)
	assert.Len(t, state.ResearchPlan, 2)
	assert.NotNil(t, state.CompletedAt)
}

func TestRun_CancelledParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := newEngine(t, testutil.NewScriptedModel())
	state, err := eng.Research(ctx, Request{Query: "Anything"})
	require.NoError(t, err)

	assert.True(t, state.Cancelled)
	assert.Equal(t, 1, state.LoopIterations)
}

func TestRun_WrapUpIntervention(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})

	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, func(req model.Request) (model.Response, error) {
			close(started)
			<-proceed
			return plan("What is X?", "What is Y?")(req)
		}).
		On(prompt.MarkerSynthesizing, testutil.JSON(map[string]any{"report": "Stopped early at the user's request."}))

	eng := newEngine(t, m)
	run, err := eng.Start(context.Background(), Request{Query: "Compare X and Y"})
	require.NoError(t, err)

	<-started
	require.NoError(t, run.Intervene(intervention.Command{Kind: intervention.WrapUp}))
	close(proceed)

	state, err := run.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	assert.True(t, state.IsManualTermination)
	assert.Equal(t, 0, m.Calls(prompt.MarkerGathering))
	require.NotNil(t, state.FinalReport)

	assert.ErrorIs(t, run.Intervene(intervention.Command{Kind: intervention.WrapUp}), ErrRunFinished)
}

func TestResearch_ModelCallLimit(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering, search("c1", "x"))

	eng := newEngine(t, m, func(o *Options) { o.Config.MaxModelCalls = 1 })

	state, err := eng.Research(context.Background(), Request{Query: "What is X?"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseError, state.Phase)
	assert.Equal(t, "model call limit reached", state.ErrorMessage)
	assert.Equal(t, 0, m.Calls(prompt.MarkerGathering))
}

func TestResearch_ModelFailure(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, testutil.Fail(errors.New("connection refused")))

	eng := newEngine(t, m)
	state, err := eng.Research(context.Background(), Request{Query: "What is X?"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseError, state.Phase)
	assert.False(t, state.Cancelled)
	assert.Contains(t, state.ErrorMessage, "connection refused")
}

type failingStore struct {
	session.Store
	saves atomic.Int32
}

func (f *failingStore) Save(context.Context, core.ResearchState) error {
	f.saves.Add(1)
	return errors.New("disk full")
}

func TestResearch_PersistenceFailureIsNotFatal(t *testing.T) {
	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering, answer("X is unknown.")).
		On(prompt.MarkerEvaluating, testutil.JSON(map[string]any{"score": 9})).
		On(prompt.MarkerSynthesizing, testutil.JSON(map[string]any{"report": "X is unknown."}))

	store := &failingStore{Store: session.NewInMemoryStore()}
	eng := newEngine(t, m, func(o *Options) { o.Store = store })

	state, err := eng.Research(context.Background(), Request{Query: "What is X?"})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseComplete, state.Phase)
	assert.GreaterOrEqual(t, store.saves.Load(), int32(1))
}

func TestResearch_ResearchLog(t *testing.T) {
	sink, err := researchlog.NewFileSink(t.TempDir())
	require.NoError(t, err)

	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, plan("What is X?")).
		On(prompt.MarkerGathering, answer("X is unknown.")).
		On(prompt.MarkerEvaluating, testutil.JSON(map[string]any{"score": 9})).
		On(prompt.MarkerSynthesizing, testutil.JSON(map[string]any{"report": "X is unknown."}))

	eng := newEngine(t, m, func(o *Options) { o.ResearchLog = sink })
	_, err = eng.Research(context.Background(), Request{Query: "What is X?", MessageID: "logged-run"})
	require.NoError(t, err)

	entries, err := sink.ReadAll("logged-run")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, string(CallbackStepCompleted))
	assert.Contains(t, kinds, string(CallbackPhaseChanged))
	assert.Equal(t, string(CallbackFinished), kinds[len(kinds)-1])
}

func TestEngine_Errors(t *testing.T) {
	eng := newEngine(t, testutil.NewScriptedModel())

	_, err := eng.Start(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	assert.ErrorIs(t, eng.Intervene("missing", intervention.Command{Kind: intervention.WrapUp}), ErrRunNotFound)
	assert.ErrorIs(t, eng.Cancel("missing"), ErrRunNotFound)

	_, err = New(nil)
	assert.Error(t, err)

	_, err = New(testutil.NewScriptedModel(), func(o *Options) { o.Config.MaxSteps = 0 })
	assert.Error(t, err)
}

func TestEngine_DuplicateRunID(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	m := testutil.NewScriptedModel().
		On(prompt.MarkerPlanning, func(req model.Request) (model.Response, error) {
			once.Do(func() { close(started) })
			<-release
			return model.Response{Content: "{}"}, nil
		})
	eng := newEngine(t, m)

	run, err := eng.Start(context.Background(), Request{Query: "q", MessageID: "same"})
	require.NoError(t, err)
	<-started

	_, err = eng.Start(context.Background(), Request{Query: "q", MessageID: "same"})
	assert.ErrorIs(t, err, ErrRunExists)

	got, ok := eng.Run("same")
	require.True(t, ok)
	assert.Equal(t, run, got)
	assert.Equal(t, []string{"same"}, eng.ActiveRuns())

	run.Cancel()
	close(release)
	<-run.Done()
	assert.True(t, strings.HasPrefix(run.Snapshot().ErrorMessage, "research cancelled"))
}
