package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/researchlog"
)

// CallbackType defines the lifecycle points of a run where callbacks execute.
//
// Available callback types:
//   - StateUpdate: after every meaningful state mutation
//   - StepCompleted: after a main model call has been handled
//   - PhaseChanged: when the phase differs from the previous iteration
//   - Guardrail: when a guardrail forced a transition or blocked a question
//   - Intervention: after a human command was applied (or rejected)
//   - Finished: once, with the terminal state
//
// Callbacks run synchronously on the loop goroutine. Errors they return are
// logged and never stop the run.
type CallbackType string

const (
	CallbackStateUpdate   CallbackType = "state_update"
	CallbackStepCompleted CallbackType = "step_completed"
	CallbackPhaseChanged  CallbackType = "phase_changed"
	CallbackGuardrail     CallbackType = "guardrail"
	CallbackIntervention  CallbackType = "intervention"
	CallbackFinished      CallbackType = "finished"
)

// CallbackContext carries what a callback may inspect. State is a snapshot
// owned by the callback.
type CallbackContext struct {
	RunID        string
	CallbackType CallbackType
	State        core.ResearchState
	// Message is a short human readable description of the event.
	Message string
	// Metadata holds event specific values such as tool counts.
	Metadata map[string]any
}

// Callback defines the interface for run lifecycle hooks.
//
// Implementations should be fast: they run synchronously and delay the next
// iteration.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType
	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback of the given type from fn.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// StateObserver returns a StateUpdate callback that hands every snapshot to fn.
func StateObserver(fn func(state core.ResearchState)) *FunctionCallback {
	return NewFunctionCallback(CallbackStateUpdate, func(_ context.Context, cc *CallbackContext) error {
		fn(cc.State)
		return nil
	})
}

// CallbackManager manages and executes callbacks by type. It is safe for
// concurrent registration and execution.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty CallbackManager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback; callbacks of one type run in
// registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs every callback of the given type. All callbacks run
// even when one fails; the first error is returned.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	var first error
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil && first == nil {
			first = fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return first
}

// Has reports whether any callback of the given type is registered.
func (cm *CallbackManager) Has(callbackType CallbackType) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.callbacks[callbackType]) > 0
}

// LoggingCallback logs lifecycle events through a logging.Logger.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a callback that logs events of callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logging.OrNoOp(logger),
	}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	args := []any{"run", cc.RunID, "step", cc.State.CurrentStep, "phase", string(cc.State.Phase), "message", cc.Message}
	for k, v := range cc.Metadata {
		args = append(args, k, v)
	}
	c.logger.Info("research."+string(c.callbackType), args...)
	return nil
}

// StateValidationCallback checks state invariants after every update.
// Violations are returned as errors, which the engine logs.
type StateValidationCallback struct{}

// NewStateValidationCallback creates a StateValidationCallback.
func NewStateValidationCallback() *StateValidationCallback {
	return &StateValidationCallback{}
}

// Type implements Callback.
func (c *StateValidationCallback) Type() CallbackType {
	return CallbackStateUpdate
}

// Execute implements Callback.
func (c *StateValidationCallback) Execute(_ context.Context, cc *CallbackContext) error {
	return cc.State.Validate()
}

// ResearchLogCallbacks returns callbacks that append every non-StateUpdate
// event to sink, keyed by the run id.
func ResearchLogCallbacks(sink *researchlog.FileSink) []Callback {
	write := func(_ context.Context, cc *CallbackContext) error {
		return sink.Append(cc.RunID, researchlog.Entry{
			Kind:    string(cc.CallbackType),
			Step:    cc.State.CurrentStep,
			Phase:   string(cc.State.Phase),
			Message: cc.Message,
			Data:    cc.Metadata,
		})
	}
	var out []Callback
	for _, t := range []CallbackType{CallbackStepCompleted, CallbackPhaseChanged, CallbackGuardrail, CallbackIntervention, CallbackFinished} {
		out = append(out, NewFunctionCallback(t, write))
	}
	return out
}
