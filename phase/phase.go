// Package phase implements the research state machine's phase handlers.
//
// Each handler takes a state value plus the model output for the current
// phase and returns a new state; the input is never modified. Model output is
// parsed into a Response variant first and every handler treats Unparseable
// as an ordinary case with a conservative fallback.
package phase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/executor"
	"github.com/hupe1980/researchmesh/facts"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/similarity"
)

// Options configures the Handlers.
type Options struct {
	ReadinessThreshold  int
	SimilarityThreshold float64
	TextOnlyLimit       int
	// MaxReasoningChars bounds the stored LastReasoning text.
	MaxReasoningChars int
	Logger            logging.Logger
}

// DefaultOptions returns the handler defaults.
func DefaultOptions() Options {
	return Options{
		ReadinessThreshold:  7,
		SimilarityThreshold: similarity.DefaultThreshold,
		TextOnlyLimit:       3,
		MaxReasoningChars:   2000,
		Logger:              logging.NoOpLogger{},
	}
}

// Handlers holds the collaborators the phase functions need.
type Handlers struct {
	exec      *executor.Executor
	extractor *facts.Extractor
	opts      Options
}

// New creates Handlers. exec and extractor are only used while gathering.
func New(exec *executor.Executor, extractor *facts.Extractor, optFns ...func(o *Options)) *Handlers {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TextOnlyLimit <= 0 {
		opts.TextOnlyLimit = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Handlers{exec: exec, extractor: extractor, opts: opts}
}

// Plan applies a planning response. Unparseable output or a plan without
// questions falls back to a single question made from the query.
func (h *Handlers) Plan(state core.ResearchState, content string) core.ResearchState {
	next := state.Clone()

	plan, ok := ParsePlan(content).(Plan)
	if !ok || len(plan.Questions) == 0 {
		h.opts.Logger.Warn("research.plan.fallback", "reason", "unparseable plan")
		plan = Plan{Questions: []PlannedQuestion{{Text: state.OriginalQuery, Priority: 1}}}
		next.LogActivity("plan", "Plan could not be parsed; researching the query directly")
	}

	if plan.Hypothesis != "" {
		next.CurrentHypothesis = plan.Hypothesis
	}
	next.Complexity = plan.Complexity
	if next.Complexity == "" {
		next.Complexity = core.ComplexitySimple
	}
	next.Perspectives = dedupePerspectives(plan.Perspectives)
	if len(next.Perspectives) > 0 {
		next.CurrentPerspective = next.Perspectives[0].Name
	}

	added := 0
	for _, pq := range plan.Questions {
		if h.similarQuestion(next, pq.Text) >= 0 {
			continue
		}
		next.ResearchPlan = append(next.ResearchPlan, newQuestion(pq.Text, pq.Priority, matchPerspective(next, pq.Perspective)))
		added++
	}

	next.Phase = core.PhaseGathering
	next.LogActivity("plan", fmt.Sprintf("Planned %d question(s)", added))
	next.Touch()
	return next
}

// EnsureActive promotes the first pending question in display order when no
// question is in progress. It reports whether an open question exists.
func EnsureActive(state core.ResearchState) (core.ResearchState, bool) {
	if state.ActiveQuestionIndex() >= 0 {
		return state, true
	}
	for _, i := range state.SortedPlan() {
		if state.ResearchPlan[i].Status == core.StatusPending {
			next := state.Clone()
			next.StartQuestion(i)
			next.LogActivity("focus", "Researching: "+next.ResearchPlan[i].Text)
			return next, true
		}
	}
	return state, false
}

// GatherOutcome reports what one gathering step did.
type GatherOutcome struct {
	State         core.ResearchState
	ToolsExecuted int
	ToolsSkipped  int
	NewFacts      int
	Productive    bool
	// AnsweredID is the question answered by this step, if any.
	AnsweredID string
	TextOnly   bool
	// ExtractionErr is a non-fatal fact extraction failure.
	ExtractionErr error
}

// Gather applies one gathering response. Tool calls are executed and their
// observations run through fact extraction; without tool calls the content
// is read as an answer to a question, or else counted as text-only output.
func (h *Handlers) Gather(ctx context.Context, state core.ResearchState, resp model.Response, endpoint string) GatherOutcome {
	if len(resp.ToolCalls) > 0 {
		return h.gatherTools(ctx, state, resp, endpoint)
	}

	next := state.Clone()
	next.PendingObservations = nil
	next.StepsOnCurrentFocus++

	if ans, ok := ParseAnswer(resp.Content).(Answer); ok {
		if i := resolveQuestion(next, ans); i >= 0 && !next.ResearchPlan[i].Status.IsTerminal() {
			id := next.ResearchPlan[i].ID
			next.AnswerQuestion(i, ans.Text, answerFacts(next, id, ans.FactIDs))
			next.LogActivity("answer", "Answered: "+next.ResearchPlan[i].Text)
			if !next.HasOpenQuestions() {
				next.Phase = core.PhaseEvaluating
			}
			next.Touch()
			h.opts.Logger.Info("research.question.answered", "question", id)
			return GatherOutcome{State: next, AnsweredID: id, Productive: true}
		}
		h.opts.Logger.Debug("research.answer.ignored", "reason", "no open question matches")
	}

	next.LastReasoning = truncateRunes(StripReasoning(resp.Content), h.opts.MaxReasoningChars)
	next.ConsecutiveTextOnlySteps++
	if next.ConsecutiveTextOnlySteps >= h.opts.TextOnlyLimit {
		next.ConsecutiveTextOnlySteps = 0
		next.ConsecutiveUnproductiveSteps++
		h.opts.Logger.Info("research.step.unproductive", "reason", "text-only responses")
	}
	next.Touch()
	return GatherOutcome{State: next, TextOnly: true}
}

func (h *Handlers) gatherTools(ctx context.Context, state core.ResearchState, resp model.Response, endpoint string) GatherOutcome {
	batch := h.exec.ExecuteBatch(ctx, resp.ToolCalls, state)
	out := GatherOutcome{
		ToolsExecuted: batch.ToolsExecuted,
		ToolsSkipped:  batch.ToolsSkipped,
	}

	next := batch.State
	next.PendingObservations = batch.Observations
	if text := StripReasoning(resp.Content); text != "" {
		next.LastReasoning = truncateRunes(text, h.opts.MaxReasoningChars)
	}

	if h.extractor != nil && batch.Productive() {
		res, err := h.extractor.Extract(ctx, next, endpoint)
		if err != nil {
			out.ExtractionErr = err
		}
		next = res.State
		out.NewFacts = len(res.NewFacts)
	}

	out.Productive = batch.Productive() && out.NewFacts > 0
	next.ConsecutiveTextOnlySteps = 0
	next.StepsOnCurrentFocus++
	if out.Productive {
		next.ConsecutiveUnproductiveSteps = 0
	} else {
		next.ConsecutiveUnproductiveSteps++
	}

	if batch.TransitionSignal == core.PhaseSynthesizing {
		next.Phase = core.PhaseSynthesizing
		next.LogActivity("phase", "Synthesis requested")
	}
	next.Touch()
	out.State = next
	return out
}

// resolveQuestion maps an answer onto a plan index: display number first,
// then question id, then the in-progress question.
func resolveQuestion(state core.ResearchState, ans Answer) int {
	if ans.QuestionIndex > 0 {
		if i := prompt.QuestionAt(state, ans.QuestionIndex); i >= 0 {
			return i
		}
	}
	if ans.QuestionID != "" {
		if i := state.QuestionIndex(ans.QuestionID); i >= 0 {
			return i
		}
	}
	return state.ActiveQuestionIndex()
}

// answerFacts keeps the cited ids that exist, or falls back to the facts
// already linked to the question.
func answerFacts(state core.ResearchState, questionID string, cited []string) []string {
	var ids []string
	for _, id := range cited {
		if state.FactIndex(id) >= 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids
	}
	for _, f := range state.FactsForQuestion(questionID) {
		ids = append(ids, f.ID)
	}
	return ids
}

// Evaluate applies an evaluating response and decides between synthesizing
// and compressing.
func (h *Handlers) Evaluate(state core.ResearchState, content string) core.ResearchState {
	next := state.Clone()

	ev, ok := ParseEvaluation(content).(Evaluation)
	if !ok {
		h.opts.Logger.Warn("research.evaluation.skipped", "reason", "unparseable evaluation")
		next.LogActivity("evaluation", "Evaluation could not be parsed; moving to synthesis")
		next.Phase = core.PhaseSynthesizing
		next.Touch()
		return next
	}

	r := Readiness(next, ev, h.opts.ReadinessThreshold)
	next.LastEvaluation = &core.Evaluation{
		Score:             ev.Score,
		AdjustedScore:     r.Adjusted,
		MissingAspects:    ev.MissingAspects,
		FollowUpQuestions: ev.FollowUps,
		Ready:             r.Ready,
	}
	for _, m := range ev.MissingAspects {
		next.AddGap(m)
	}

	if r.Ready {
		next.Phase = core.PhaseSynthesizing
	} else {
		next.Phase = core.PhaseCompressing
	}
	next.LogActivity("evaluation", fmt.Sprintf("Score %d (adjusted %d): %s", ev.Score, r.Adjusted, r.Reason))
	h.opts.Logger.Info("research.evaluation", "score", ev.Score, "adjusted", r.Adjusted, "ready", r.Ready, "reason", r.Reason)
	next.Touch()
	return next
}

// Compress applies a compressing response: it records the round summary,
// turns the last evaluation's follow-ups into new questions and starts the
// next round.
func (h *Handlers) Compress(state core.ResearchState, content string) core.ResearchState {
	next := state.Clone()

	summary, ok := ParseSummary(content).(Summary)
	if !ok {
		text := truncateRunes(StripReasoning(content), h.opts.MaxReasoningChars)
		if text == "" {
			text = fmt.Sprintf("Round %d completed with %d fact(s).", next.CurrentRound, len(next.GatheredFacts))
		}
		summary = Summary{Text: text}
	}

	next.RoundSummaries = append(next.RoundSummaries, core.RoundSummary{
		Round:       next.CurrentRound,
		Summary:     summary.Text,
		Perspective: next.CurrentPerspective,
		FactCount:   len(next.GatheredFacts),
		CreatedAt:   time.Now().UTC(),
	})

	perspective := matchPerspective(next, summary.Perspective)
	if perspective == "" {
		perspective = NextPerspective(next)
	}
	if perspective != "" {
		next.CurrentPerspective = perspective
	}

	var candidates []string
	if next.LastEvaluation != nil {
		candidates = next.LastEvaluation.FollowUpQuestions
		if len(candidates) == 0 {
			candidates = next.LastEvaluation.MissingAspects
		}
	}
	priority := next.MaxPriority()
	added := 0
	for _, text := range candidates {
		if h.similarQuestion(next, text) >= 0 {
			continue
		}
		priority++
		next.ResearchPlan = append(next.ResearchPlan, newQuestion(text, priority, perspective))
		added++
	}

	next.CurrentRound++
	next.RoundStartStep = next.CurrentStep
	next.ResetFocusCounters()
	next.LogActivity("round", fmt.Sprintf("Round %d started with %d new question(s)", next.CurrentRound, added))

	if next.HasOpenQuestions() && next.CurrentRound <= next.MaxRounds {
		next.Phase = core.PhaseGathering
	} else {
		next.Phase = core.PhaseSynthesizing
	}
	next.Touch()
	return next
}

// Synthesize applies a synthesizing response and finishes the run. Citations
// that name unknown facts are dropped.
func (h *Handlers) Synthesize(state core.ResearchState, content string) core.ResearchState {
	next := state.Clone()

	var text string
	var ids []string
	switch r := ParseReport(content).(type) {
	case Report:
		text, ids = r.Text, r.CitationIDs
		if len(ids) == 0 {
			ids = CitationMarkers(text)
		}
	case Unparseable:
		text = StripReasoning(r.Raw)
		ids = CitationMarkers(text)
		h.opts.Logger.Warn("research.report.raw", "reason", r.Reason)
	}

	if strings.TrimSpace(text) == "" {
		return FinishWithFallback(next, "model returned an empty report")
	}

	next.SetReport(text)
	next.Citations = Citations(next, ids)
	dropped := len(uniq(ids)) - len(next.Citations)
	if dropped > 0 {
		h.opts.Logger.Info("research.citation.dropped", "count", dropped)
	}
	next.LogActivity("report", fmt.Sprintf("Report written with %d citation(s)", len(next.Citations)))
	next.Finish(core.PhaseComplete, "")
	return next
}

// Citations builds citations for the given fact ids, skipping unknown and
// repeated ids.
func Citations(state core.ResearchState, ids []string) []core.Citation {
	out := []core.Citation{}
	for _, id := range uniq(ids) {
		i := state.FactIndex(id)
		if i < 0 {
			continue
		}
		f := state.GatheredFacts[i]
		out = append(out, core.Citation{FactID: f.ID, SourceURL: f.SourceURL, SourceTitle: f.SourceTitle})
	}
	return out
}

// NextPerspective returns the first declared perspective not yet covered, or
// the current perspective when all are covered.
func NextPerspective(state core.ResearchState) string {
	covered := coveredPerspectives(state)
	for _, p := range state.Perspectives {
		if _, ok := covered[strings.ToLower(p.Name)]; !ok {
			return p.Name
		}
	}
	return state.CurrentPerspective
}

func (h *Handlers) similarQuestion(state core.ResearchState, text string) int {
	return SimilarQuestion(state, text, h.opts.SimilarityThreshold)
}

// SimilarQuestion returns the plan index of a question equal or similar to
// text, or -1. Blank text reports 0 so callers never add it.
func SimilarQuestion(state core.ResearchState, text string, threshold float64) int {
	key := similarity.Normalize(text)
	if key == "" {
		return 0
	}
	for i, q := range state.ResearchPlan {
		if similarity.Normalize(q.Text) == key || similarity.Score(q.Text, text) >= threshold {
			return i
		}
	}
	return -1
}

func newQuestion(text string, priority int, perspective string) core.ResearchQuestion {
	return core.ResearchQuestion{
		ID:                core.NewID("q"),
		Text:              strings.TrimSpace(text),
		Status:            core.StatusPending,
		Priority:          priority,
		Perspective:       perspective,
		SupportingFactIDs: []string{},
		CreatedAt:         time.Now().UTC(),
	}
}

// NewQuestion creates a pending question.
func NewQuestion(text string, priority int, perspective string) core.ResearchQuestion {
	return newQuestion(text, priority, perspective)
}

func dedupePerspectives(in []core.Perspective) []core.Perspective {
	seen := map[string]struct{}{}
	var out []core.Perspective
	for _, p := range in {
		k := strings.ToLower(p.Name)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// matchPerspective returns the declared perspective named name, or "".
func matchPerspective(state core.ResearchState, name string) string {
	for _, p := range state.Perspectives {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p.Name
		}
	}
	return ""
}

func uniq(ids []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
