package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/executor"
	"github.com/hupe1980/researchmesh/facts"
	"github.com/hupe1980/researchmesh/intervention"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/phase"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/session"
)

// finalSaveTimeout bounds the synchronous write of a terminal state.
const finalSaveTimeout = 10 * time.Second

// loop owns the collaborators of one run. Only the run goroutine touches it.
type loop struct {
	run       *Run
	cfg       Config
	model     model.Model
	handlers  *phase.Handlers
	applier   *intervention.Applier
	toolDefs  []model.ToolDefinition
	toolNames []string
	endpoint  string
	persist   *session.Debouncer
	callbacks *CallbackManager
	logger    logging.Logger
}

func (e *Engine) newLoop(run *Run, endpoint string) *loop {
	cfg := e.opts.Config
	logger := logging.Scoped(e.logger, run.id, "engine")

	mainModel, aux := e.model, e.opts.AuxiliaryModel
	if cfg.MaxModelCalls > 0 {
		limiter := core.NewCallLimiter(cfg.MaxModelCalls)
		mainModel = model.NewLimited(mainModel, limiter)
		aux = model.NewLimited(aux, limiter)
	}

	exec := executor.New(e.opts.Tools, func(o *executor.Options) {
		o.MaxParallel = cfg.MaxParallelTools
		o.ToolTimeout = cfg.ToolTimeout
		o.BatchTimeout = cfg.BatchTimeout
		o.SimilarityThreshold = cfg.SimilarityThreshold
		o.NumericDivergence = cfg.NumericDivergence
		o.MinFactsForSynthesis = cfg.MinFactsForSynthesis
		o.Logger = logging.Scoped(logger, "", "executor")
	})
	extractor := facts.NewExtractor(aux, func(o *facts.Options) {
		o.MaxFacts = cfg.MaxFacts
		o.SimilarityThreshold = cfg.SimilarityThreshold
		o.NumericDivergence = cfg.NumericDivergence
		o.Logger = logging.Scoped(logger, "", "extractor")
	})
	handlers := phase.New(exec, extractor, func(o *phase.Options) {
		o.ReadinessThreshold = cfg.ReadinessThreshold
		o.SimilarityThreshold = cfg.SimilarityThreshold
		o.TextOnlyLimit = cfg.TextOnlyLimit
		o.Logger = logging.Scoped(logger, "", "phase")
	})
	applier := intervention.NewApplier(aux, func(o *intervention.Options) {
		o.SimilarityThreshold = cfg.SimilarityThreshold
		o.Logger = logging.Scoped(logger, "", "intervention")
	})
	persist := session.NewDebouncer(e.opts.Store, func(o *session.DebouncerOptions) {
		o.Delay = cfg.PersistDebounce
		o.Logger = logging.Scoped(logger, "", "session")
	})

	var defs []model.ToolDefinition
	if e.opts.Tools != nil {
		defs = e.opts.Tools.Definitions()
	}
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Function.Name)
	}

	return &loop{
		run:       run,
		cfg:       cfg,
		model:     mainModel,
		handlers:  handlers,
		applier:   applier,
		toolDefs:  executor.Definitions(e.opts.Tools),
		toolNames: names,
		endpoint:  endpoint,
		persist:   persist,
		callbacks: e.callbacks,
		logger:    logger,
	}
}

// runLoop iterates until the state is terminal. The terminal state is always
// saved synchronously, also after a panic.
func (l *loop) runLoop(ctx context.Context, state core.ResearchState) (final core.ResearchState) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("research.loop.panic", "run", l.run.id, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if !state.Phase.IsTerminal() {
				state = state.Clone()
				state.Finish(core.PhaseError, fmt.Sprintf("internal error: %v", r))
			}
		}
		final = state
		l.finish(ctx, final)
	}()

	l.publish(ctx, state, "")
	for !state.Phase.IsTerminal() {
		prev := state.Phase
		state = l.iterate(ctx, state)
		l.publish(ctx, state, prev)
	}
	return state
}

func (l *loop) finish(ctx context.Context, state core.ResearchState) {
	l.run.setState(state)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
	defer cancel()
	if err := l.persist.SaveNow(saveCtx, state); err != nil {
		l.logger.Warn("research.persist.final_failed", "run", l.run.id, "error", err.Error())
	}
	if err := l.persist.Close(saveCtx); err != nil {
		l.logger.Warn("research.persist.close_failed", "run", l.run.id, "error", err.Error())
	}

	msg := "research complete"
	if state.Phase == core.PhaseError {
		msg = state.ErrorMessage
	}
	l.emit(saveCtx, CallbackFinished, state, msg, map[string]any{
		"facts":     len(state.GatheredFacts),
		"citations": len(state.Citations),
		"steps":     state.CurrentStep,
		"cancelled": state.Cancelled,
	})
	l.logger.Info("research.run.finished",
		"run", l.run.id,
		"phase", string(state.Phase),
		"steps", state.CurrentStep,
		"iterations", state.LoopIterations,
		"facts", len(state.GatheredFacts),
		"error", state.ErrorMessage,
	)
}

// iterate applies the guardrails in priority order and then dispatches the
// current phase.
func (l *loop) iterate(ctx context.Context, state core.ResearchState) core.ResearchState {
	state = state.Clone()
	state.LoopIterations++

	if next, stop := l.emergencyStop(ctx, state); stop {
		return next
	}
	if ctx.Err() != nil {
		return cancelled(state)
	}
	if cmd, ok := l.run.mailbox.Poll(); ok {
		state = l.intervene(ctx, state, cmd)
		if state.Phase.IsTerminal() {
			return state
		}
	}
	state = l.stepCeiling(ctx, state)
	state = l.unproductiveCeiling(ctx, state)
	state = l.roundSoftLanding(ctx, state)
	state = l.globalSoftLanding(ctx, state)
	if state.IsManualTermination && state.Phase != core.PhaseSynthesizing {
		state.Phase = core.PhaseSynthesizing
	}
	// Tool results only feed gathering prompts.
	if state.Phase != core.PhaseGathering {
		state.PendingObservations = nil
	}
	return l.dispatch(ctx, state)
}

func (l *loop) intervene(ctx context.Context, state core.ResearchState, cmd intervention.Command) core.ResearchState {
	next, err := l.applier.Apply(ctx, state, cmd, l.endpoint)
	if err != nil {
		l.logger.Warn("research.intervention.rejected", "run", l.run.id, "command", cmd.String(), "error", err.Error())
		l.emit(ctx, CallbackIntervention, state, "rejected: "+cmd.String(), map[string]any{"error": err.Error()})
		return state
	}
	l.logger.Info("research.intervention.applied", "run", l.run.id, "command", cmd.String())
	l.emit(ctx, CallbackIntervention, next, cmd.String(), map[string]any{"kind": string(cmd.Kind)})
	return next
}

// dispatch performs the main model call of the current phase and hands the
// response to its handler.
func (l *loop) dispatch(ctx context.Context, state core.ResearchState) core.ResearchState {
	if state.Phase == core.PhaseGathering {
		next, open := phase.EnsureActive(state)
		if !open {
			next = next.Clone()
			next.Phase = core.PhaseEvaluating
			next.LogActivity("phase", "No open questions left; evaluating")
			next.Touch()
			return next
		}
		state = next
	}

	opts := prompt.Options{
		Tools:                l.toolNames,
		RoundAllocation:      RoundAllocation(state.MaxSteps, state.MaxRounds),
		MinFactsForSynthesis: l.cfg.MinFactsForSynthesis,
	}
	if state.Phase == core.PhaseCompressing {
		opts.NextPerspective = phase.NextPerspective(state)
	}
	turn := prompt.BuildTurnMessagesWithBudget(state, l.cfg.ContextTokenBudget, opts)
	if turn.Warning != "" {
		l.logger.Warn("research.context.over_budget", "run", l.run.id, "warning", turn.Warning)
	}

	var defs []model.ToolDefinition
	if state.Phase == core.PhaseGathering {
		defs = l.toolDefs
	}

	started := time.Now()
	resp, err := model.Call(ctx, l.model, turn.Request(defs, l.endpoint))
	if err != nil {
		return l.modelFailure(ctx, state, err)
	}
	l.logger.Debug("research.model.called",
		"run", l.run.id,
		"phase", string(state.Phase),
		"tokens", turn.Tokens,
		"fraction", turn.Fraction,
		"duration", time.Since(started).String(),
		"tool_calls", len(resp.ToolCalls),
	)

	state.AdvanceStep()
	state.Usage = state.Usage.Add(resp.CoreUsage())

	meta := map[string]any{"phase": string(state.Phase)}
	switch state.Phase {
	case core.PhasePlanning:
		state = l.handlers.Plan(state, resp.Content)
		meta["questions"] = len(state.ResearchPlan)
	case core.PhaseGathering:
		out := l.handlers.Gather(ctx, state, resp, l.endpoint)
		if out.ExtractionErr != nil {
			l.logger.Warn("research.extraction.failed", "run", l.run.id, "error", out.ExtractionErr.Error())
		}
		state = out.State
		meta["tools_executed"] = out.ToolsExecuted
		meta["tools_skipped"] = out.ToolsSkipped
		meta["new_facts"] = out.NewFacts
		meta["productive"] = out.Productive
		if out.AnsweredID != "" {
			meta["answered"] = out.AnsweredID
		}
	case core.PhaseEvaluating:
		state = l.handlers.Evaluate(state, resp.Content)
		if ev := state.LastEvaluation; ev != nil {
			meta["score"] = ev.Score
			meta["adjusted_score"] = ev.AdjustedScore
		}
	case core.PhaseCompressing:
		state = l.handlers.Compress(state, resp.Content)
		meta["round"] = state.CurrentRound
	case core.PhaseSynthesizing:
		state = l.handlers.Synthesize(state, resp.Content)
		meta["citations"] = len(state.Citations)
	}

	l.logger.Info("research.step.completed",
		"run", l.run.id,
		"step", state.CurrentStep,
		"phase", string(state.Phase),
		"focus", phase.ActiveSummary(state),
		"facts", len(state.GatheredFacts),
	)
	l.emit(ctx, CallbackStepCompleted, state, fmt.Sprintf("step %d", state.CurrentStep), meta)
	return state
}

// modelFailure maps a failed main call onto a terminal state.
func (l *loop) modelFailure(ctx context.Context, state core.ResearchState, err error) core.ResearchState {
	switch {
	case ctx.Err() != nil:
		return cancelled(state)
	case errors.Is(err, model.ErrCallLimitExceeded):
		l.logger.Warn("research.guardrail", "run", l.run.id, "guardrail", "model call limit", "error", err.Error())
		next := phase.FinishWithFallback(state, "model call limit reached")
		l.emit(ctx, CallbackGuardrail, next, "model call limit reached", nil)
		return next
	default:
		l.logger.Error("research.model.failed", "run", l.run.id, "phase", string(state.Phase), "error", err.Error())
		next := state.Clone()
		next.LogActivity("error", "Model call failed: "+err.Error())
		next.Finish(core.PhaseError, "model call failed: "+err.Error())
		return next
	}
}

func cancelled(state core.ResearchState) core.ResearchState {
	next := state.Clone()
	next.Cancelled = true
	next.LogActivity("cancelled", "Research cancelled")
	next.Finish(core.PhaseError, "research cancelled")
	return next
}

// publish stores the snapshot, notifies observers and schedules a write.
// Terminal states are written by finish instead.
func (l *loop) publish(ctx context.Context, state core.ResearchState, prev core.Phase) {
	l.run.setState(state)
	if prev != "" && prev != state.Phase {
		l.emit(ctx, CallbackPhaseChanged, state, fmt.Sprintf("%s -> %s", prev, state.Phase), map[string]any{
			"from": string(prev),
			"to":   string(state.Phase),
		})
	}
	l.emit(ctx, CallbackStateUpdate, state, "", nil)
	if !state.Phase.IsTerminal() {
		l.persist.Schedule(state)
	}
}

// emit runs the callbacks of type t on a private copy of state. Callback
// errors are logged.
func (l *loop) emit(ctx context.Context, t CallbackType, state core.ResearchState, msg string, meta map[string]any) {
	if !l.callbacks.Has(t) {
		return
	}
	cc := &CallbackContext{
		RunID:        l.run.id,
		CallbackType: t,
		State:        state.Clone(),
		Message:      msg,
		Metadata:     meta,
	}
	if err := l.callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), t, cc); err != nil {
		l.logger.Warn("research.callback.failed", "run", l.run.id, "type", string(t), "error", err.Error())
	}
}
