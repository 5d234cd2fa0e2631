package intervention

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/phase"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/similarity"
)

// Options configures an Applier.
type Options struct {
	SimilarityThreshold float64
	// MaxNewQuestions bounds the questions one AI-directed command adds.
	MaxNewQuestions int
	Logger          logging.Logger
}

// DefaultOptions returns the applier defaults.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: similarity.DefaultThreshold,
		MaxNewQuestions:     4,
		Logger:              logging.NoOpLogger{},
	}
}

// Applier applies commands to a research state.
type Applier struct {
	model model.Model
	opts  Options
}

// NewApplier creates an Applier. m serves the auxiliary calls of force-answer
// and the AI-directed commands.
func NewApplier(m model.Model, optFns ...func(o *Options)) *Applier {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxNewQuestions <= 0 {
		opts.MaxNewQuestions = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Applier{model: m, opts: opts}
}

// Apply returns the state with cmd applied. On error the returned state equals
// the input.
func (a *Applier) Apply(ctx context.Context, state core.ResearchState, cmd Command, endpoint string) (core.ResearchState, error) {
	if err := cmd.Validate(); err != nil {
		return state, err
	}
	if state.Phase.IsTerminal() {
		return state, fmt.Errorf("%s: research already finished", cmd.Kind)
	}

	var (
		next core.ResearchState
		err  error
	)
	switch cmd.Kind {
	case WrapUp:
		next = a.wrapUp(state)
	case SkipQuestion:
		next, err = a.skip(state, cmd)
	case SkipAllPending:
		next = a.skipAll(state)
	case AddQuestion:
		next = a.add(state, []string{cmd.Text}, state.MinPriority()-1, "")
	case ForceAnswer:
		next, err = a.forceAnswer(ctx, state, cmd, endpoint)
	case GenerateMoreQuestions:
		next, err = a.generate(ctx, state, endpoint, render(moreQuestionsTemplate, map[string]any{"Max": a.opts.MaxNewQuestions}), "")
	case GoDeeper:
		next, err = a.generate(ctx, state, endpoint, render(goDeeperTemplate, map[string]any{"Max": a.opts.MaxNewQuestions}), "")
	case ExpandQuestion:
		next, err = a.expand(ctx, state, cmd, endpoint)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
	if err != nil {
		a.opts.Logger.Warn("research.intervention.failed", "command", cmd.String(), "error", err.Error())
		return state, err
	}

	a.opts.Logger.Info("research.intervention.applied", "command", cmd.String())
	next.Touch()
	return next, nil
}

func (a *Applier) wrapUp(state core.ResearchState) core.ResearchState {
	next := state.Clone()
	next.IsManualTermination = true
	next.Phase = core.PhaseSynthesizing
	next.LogActivity("intervention", "Wrap-up requested")
	return next
}

func (a *Applier) resolve(state core.ResearchState, cmd Command) (int, error) {
	if cmd.QuestionID != "" {
		if i := state.QuestionIndex(cmd.QuestionID); i >= 0 {
			return i, nil
		}
		return -1, fmt.Errorf("%w: %s", ErrQuestionNotFound, cmd.QuestionID)
	}
	if i := prompt.QuestionAt(state, cmd.Number); i >= 0 {
		return i, nil
	}
	return -1, fmt.Errorf("%w: #%d", ErrQuestionNotFound, cmd.Number)
}

func (a *Applier) skip(state core.ResearchState, cmd Command) (core.ResearchState, error) {
	i, err := a.resolve(state, cmd)
	if err != nil {
		return state, err
	}
	next := state.Clone()
	skipQuestion(&next, i)
	return next, nil
}

func (a *Applier) skipAll(state core.ResearchState) core.ResearchState {
	next := state.Clone()
	n := 0
	for i := range next.ResearchPlan {
		if skipQuestion(&next, i) {
			n++
		}
	}
	next.LogActivity("intervention", fmt.Sprintf("Skipped %d open question(s)", n))
	return next
}

// skipQuestion blocks an open question and records a gap when it was the
// current focus.
func skipQuestion(state *core.ResearchState, i int) bool {
	q := state.ResearchPlan[i]
	if !q.Status.IsOpen() {
		return false
	}
	active := q.Status == core.StatusInProgress
	state.BlockQuestion(i)
	if active {
		state.AddGap("Skipped by user: " + q.Text)
	}
	state.LogActivity("intervention", "Skipped: "+q.Text)
	return true
}

// add appends the questions not already in the plan, starting at priority and
// counting up, and returns the run to gathering when it was between rounds.
func (a *Applier) add(state core.ResearchState, texts []string, priority int, parentID string) core.ResearchState {
	next := state.Clone()
	perspective := next.CurrentPerspective
	if parentID != "" {
		if i := next.QuestionIndex(parentID); i >= 0 {
			perspective = next.ResearchPlan[i].Perspective
		}
	}

	added := 0
	for _, text := range texts {
		if phase.SimilarQuestion(next, text, a.opts.SimilarityThreshold) >= 0 {
			a.opts.Logger.Debug("research.question.duplicate", "text", text)
			continue
		}
		q := phase.NewQuestion(text, priority, perspective)
		q.ParentID = parentID
		next.ResearchPlan = append(next.ResearchPlan, q)
		priority++
		added++
	}

	if added > 0 && (next.Phase == core.PhaseEvaluating || next.Phase == core.PhaseCompressing) {
		next.Phase = core.PhaseGathering
	}
	next.LogActivity("intervention", fmt.Sprintf("Added %d question(s)", added))
	return next
}

func (a *Applier) call(ctx context.Context, state core.ResearchState, factList []core.Fact, instruction, endpoint string) (model.Response, error) {
	if a.model == nil {
		return model.Response{}, fmt.Errorf("no model configured for auxiliary calls")
	}
	req := model.NewRequest(contextText(state, factList), instruction, nil)
	req.Endpoint = endpoint
	resp, err := model.Call(ctx, a.model, req)
	if err != nil {
		return model.Response{}, fmt.Errorf("auxiliary call: %w", err)
	}
	return resp, nil
}

func (a *Applier) forceAnswer(ctx context.Context, state core.ResearchState, cmd Command, endpoint string) (core.ResearchState, error) {
	i, err := a.resolve(state, cmd)
	if err != nil {
		return state, err
	}
	q := state.ResearchPlan[i]
	if q.Status.IsTerminal() {
		return state, fmt.Errorf("%s: question %s is already %s", cmd.Kind, q.ID, q.Status)
	}

	if len(state.GatheredFacts) == 0 {
		next := state.Clone()
		next.BlockQuestion(i)
		next.AddGap("No evidence found for: " + q.Text)
		next.LogActivity("intervention", "No facts to answer: "+q.Text)
		return next, nil
	}

	factList := state.FactsForQuestion(q.ID)
	if len(factList) == 0 {
		factList = topFacts(state)
	}
	resp, err := a.call(ctx, state, factList, render(forceAnswerTemplate, map[string]any{"Question": q.Text}), endpoint)
	if err != nil {
		return state, err
	}

	doc := util.ParseJSON(resp.Content)
	answer := strings.TrimSpace(doc.Get("answer").String())
	if answer == "" {
		answer = phase.StripReasoning(resp.Content)
	}
	var ids []string
	for _, id := range util.StringList(doc.Get("factIds")) {
		if state.FactIndex(id) >= 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for _, f := range factList {
			ids = append(ids, f.ID)
		}
	}

	next := state.Clone()
	next.Usage = next.Usage.Add(resp.CoreUsage())
	next.AnswerQuestion(i, answer, ids)
	next.LogActivity("intervention", "Forced answer: "+q.Text)
	return next, nil
}

func (a *Applier) generate(ctx context.Context, state core.ResearchState, endpoint, instruction, parentID string) (core.ResearchState, error) {
	resp, err := a.call(ctx, state, topFacts(state), instruction, endpoint)
	if err != nil {
		return state, err
	}
	texts := parseQuestions(resp.Content)
	if len(texts) > a.opts.MaxNewQuestions {
		texts = texts[:a.opts.MaxNewQuestions]
	}
	withUsage := state.Clone()
	withUsage.Usage = withUsage.Usage.Add(resp.CoreUsage())

	priority := withUsage.MaxPriority() + 1
	if parentID != "" {
		priority = withUsage.ResearchPlan[withUsage.QuestionIndex(parentID)].Priority
	}
	return a.add(withUsage, texts, priority, parentID), nil
}

func (a *Applier) expand(ctx context.Context, state core.ResearchState, cmd Command, endpoint string) (core.ResearchState, error) {
	i, err := a.resolve(state, cmd)
	if err != nil {
		return state, err
	}
	q := state.ResearchPlan[i]
	instruction := render(expandTemplate, map[string]any{"Question": q.Text, "Max": a.opts.MaxNewQuestions})
	return a.generate(ctx, state, endpoint, instruction, q.ID)
}
