// Package engine implements the research loop orchestrator.
//
// The Engine drives a research session through the phase state machine
//
//	planning → gathering → evaluating → {compressing → gathering | synthesizing} → complete
//
// with error reachable from every phase. Each iteration of the loop is
// strictly sequential: it applies the guardrails, makes at most one main
// model call and hands the response to the phase handler for the current
// phase, which returns the next state value.
//
// # Guardrails
//
// Applied at the top of every iteration, in this order:
//
//   - absolute loop-iteration ceiling (emergency stop with a fallback report)
//   - cancellation
//   - pending human intervention, consumed before any model call
//   - hard step ceiling (forces synthesis)
//   - per-question ceilings: consecutive unproductive steps and staleness
//     (block the question and record a knowledge gap)
//   - round soft landing (gathering only, forces evaluation)
//   - global soft landing (forces synthesis near the step ceiling)
//
// # Runs
//
// Start launches a run in its own goroutine and returns a *Run handle for
// interventions, cancellation and snapshots. Runs are also addressable by id
// through Engine.Intervene and Engine.Cancel. Research is the synchronous
// form.
//
// # Persistence and observation
//
// Intermediate states are written through a session.Debouncer; terminal
// states are written synchronously before the run returns, and a final write
// is attempted even after a panic in the loop. Callbacks observe state
// updates, completed steps, phase changes, guardrails and interventions;
// the research log sink is one such callback. Persistence and callback
// failures are logged and never stop the loop.
//
// # Errors
//
// Once a run has started it never fails with a Go error: failures are data
// in the returned state (phase error with ErrorMessage, or cancelled).
package engine
