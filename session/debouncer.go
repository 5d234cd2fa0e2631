package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

// DebouncerOptions configures a Debouncer.
type DebouncerOptions struct {
	// Delay is the idle window after the last Schedule before a write.
	Delay time.Duration
	// SaveTimeout bounds a background write.
	SaveTimeout time.Duration
	Logger      logging.Logger
}

// Debouncer coalesces state writes to a Store. Only the newest scheduled
// state is written; writes never run concurrently.
type Debouncer struct {
	store Store
	opts  DebouncerOptions

	mu      sync.Mutex
	pending *core.ResearchState
	timer   *time.Timer
	closed  bool

	saveMu sync.Mutex
}

// NewDebouncer creates a Debouncer writing to store.
func NewDebouncer(store Store, optFns ...func(o *DebouncerOptions)) *Debouncer {
	opts := DebouncerOptions{
		Delay:       500 * time.Millisecond,
		SaveTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Debouncer{store: store, opts: opts}
}

// Schedule queues state for a write after the idle window, replacing any
// queued state. It is a no-op after Close.
func (d *Debouncer) Schedule(state core.ResearchState) {
	st := state.Clone()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = &st
	if d.timer == nil {
		d.timer = time.AfterFunc(d.opts.Delay, d.fire)
		return
	}
	d.timer.Reset(d.opts.Delay)
}

// Flush writes the queued state, if any, synchronously.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	return d.write(ctx)
}

// SaveNow replaces the queued state with state and writes it synchronously.
func (d *Debouncer) SaveNow(ctx context.Context, state core.ResearchState) error {
	st := state.Clone()
	d.mu.Lock()
	d.pending = &st
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	return d.write(ctx)
}

// Close flushes and stops accepting new states.
func (d *Debouncer) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Flush(ctx)
}

func (d *Debouncer) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.SaveTimeout)
	defer cancel()
	_ = d.write(ctx)
}

func (d *Debouncer) write(ctx context.Context) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.Lock()
	st := d.pending
	d.pending = nil
	d.mu.Unlock()
	if st == nil {
		return nil
	}

	if err := d.store.Save(ctx, *st); err != nil {
		d.opts.Logger.Warn("research.persist.failed", "message_id", st.MessageID, "phase", string(st.Phase), "error", err.Error())
		return fmt.Errorf("persist state: %w", err)
	}
	d.opts.Logger.Debug("research.persist.saved", "message_id", st.MessageID, "phase", string(st.Phase))
	return nil
}
