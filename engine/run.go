package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/intervention"
)

// Run is the handle of one research session.
type Run struct {
	id      string
	cancel  context.CancelFunc
	mailbox *intervention.Mailbox
	done    chan struct{}

	mu    sync.RWMutex
	state core.ResearchState
}

func newRun(id string, state core.ResearchState, cancel context.CancelFunc) *Run {
	return &Run{
		id:      id,
		cancel:  cancel,
		mailbox: intervention.NewMailbox(),
		done:    make(chan struct{}),
		state:   state.Clone(),
	}
}

// ID returns the run id, which is also the state's message id.
func (r *Run) ID() string { return r.id }

// Intervene queues cmd for the next iteration. An unread command is
// replaced.
func (r *Run) Intervene(cmd intervention.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case <-r.done:
		return ErrRunFinished
	default:
	}
	r.mailbox.Send(cmd)
	return nil
}

// Cancel requests cancellation. It does not wait for the loop to stop.
func (r *Run) Cancel() { r.cancel() }

// Done is closed once the run reached a terminal phase and was persisted.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is done or ctx ends and returns the latest state.
func (r *Run) Wait(ctx context.Context) (core.ResearchState, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Snapshot returns a copy of the latest published state.
func (r *Run) Snapshot() core.ResearchState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

func (r *Run) setState(state core.ResearchState) {
	st := state.Clone()
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
}
