package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/phase"
)

// Gap prefixes recorded when a guardrail gives up on a question.
const (
	gapNoEvidence = "No evidence found for: "
	gapStalled    = "Stalled on: "
)

// emergencyStop ends the run once the iteration ceiling is passed,
// whatever the phase.
func (l *loop) emergencyStop(ctx context.Context, state core.ResearchState) (core.ResearchState, bool) {
	ceiling := l.cfg.LoopCeiling(state.MaxSteps)
	if state.LoopIterations <= ceiling {
		return state, false
	}
	next := phase.FinishWithFallback(state, "iteration ceiling reached")
	l.trip(ctx, next, "iteration ceiling", fmt.Sprintf("loop iterations exceeded %d", ceiling))
	return next, true
}

// stepCeiling forces synthesis once every step is spent. The synthesis call
// itself still runs.
func (l *loop) stepCeiling(ctx context.Context, state core.ResearchState) core.ResearchState {
	if !forceable(state.Phase) || state.CurrentStep < state.MaxSteps {
		return state
	}
	state.Phase = core.PhaseSynthesizing
	state.LogActivity("guardrail", "Step budget exhausted; writing the report")
	l.trip(ctx, state, "step ceiling", fmt.Sprintf("step %d of %d", state.CurrentStep, state.MaxSteps))
	return state
}

// unproductiveCeiling blocks the active question after too many
// unproductive steps or too many steps overall.
func (l *loop) unproductiveCeiling(ctx context.Context, state core.ResearchState) core.ResearchState {
	if state.Phase != core.PhaseGathering {
		return state
	}
	i := state.ActiveQuestionIndex()
	if i < 0 {
		return state
	}

	var prefix, reason string
	switch {
	case state.ConsecutiveUnproductiveSteps >= l.cfg.UnproductiveLimit:
		prefix = gapNoEvidence
		reason = fmt.Sprintf("%d unproductive steps", state.ConsecutiveUnproductiveSteps)
	case state.StepsOnCurrentFocus >= l.cfg.MaxStepsPerQuestion:
		prefix = gapStalled
		reason = fmt.Sprintf("%d steps on one question", state.StepsOnCurrentFocus)
	default:
		return state
	}

	text := state.ResearchPlan[i].Text
	state.BlockQuestion(i)
	state.AddGap(prefix + text)
	state.LogActivity("guardrail", "Blocked: "+text)
	l.trip(ctx, state, "unproductive ceiling", reason)
	return state
}

// roundSoftLanding moves gathering on to evaluation once the round has used
// its share of the step allocation.
func (l *loop) roundSoftLanding(ctx context.Context, state core.ResearchState) core.ResearchState {
	if state.Phase != core.PhaseGathering {
		return state
	}
	limit := l.cfg.roundSoftLimit(state.MaxSteps, state.MaxRounds)
	if state.StepsInRound() < limit {
		return state
	}
	state.Phase = core.PhaseEvaluating
	state.LogActivity("guardrail", fmt.Sprintf("Round %d budget reached; evaluating", state.CurrentRound))
	l.trip(ctx, state, "round soft landing", fmt.Sprintf("%d steps in round %d", state.StepsInRound(), state.CurrentRound))
	return state
}

// globalSoftLanding forces synthesis shortly before the step ceiling.
func (l *loop) globalSoftLanding(ctx context.Context, state core.ResearchState) core.ResearchState {
	if !forceable(state.Phase) || state.CurrentStep < state.MaxSteps-l.cfg.GlobalSoftLandingMargin {
		return state
	}
	state.Phase = core.PhaseSynthesizing
	state.LogActivity("guardrail", "Step budget nearly exhausted; writing the report")
	l.trip(ctx, state, "global soft landing", fmt.Sprintf("step %d of %d", state.CurrentStep, state.MaxSteps))
	return state
}

// forceable reports whether a guardrail may redirect phase p to synthesis.
// Planning always runs so there is something to report on.
func forceable(p core.Phase) bool {
	switch p {
	case core.PhaseGathering, core.PhaseEvaluating, core.PhaseCompressing:
		return true
	default:
		return false
	}
}

func (l *loop) trip(ctx context.Context, state core.ResearchState, name, reason string) {
	l.logger.Info("research.guardrail", "run", l.run.id, "guardrail", name, "reason", reason, "step", state.CurrentStep)
	l.emit(ctx, CallbackGuardrail, state, name, map[string]any{"reason": reason})
}
