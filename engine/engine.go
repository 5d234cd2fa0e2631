package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/intervention"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/researchlog"
	"github.com/hupe1980/researchmesh/session"
	"github.com/hupe1980/researchmesh/tool"
)

var (
	// ErrEmptyQuery is returned by Start for a blank query.
	ErrEmptyQuery = errors.New("research query is empty")
	// ErrRunNotFound is returned when no active run has the given id.
	ErrRunNotFound = errors.New("research run not found")
	// ErrRunExists is returned when a run with the same message id is active.
	ErrRunExists = errors.New("research run already active")
	// ErrRunFinished is returned when a command targets a finished run.
	ErrRunFinished = errors.New("research run already finished")
)

// Options configures an Engine.
type Options struct {
	Config Config
	// Tools is the external tool catalog offered while gathering.
	Tools tool.Catalog
	// Store persists run states. Defaults to an in-memory store.
	Store session.Store
	// ResearchLog, when set, receives one NDJSON entry per lifecycle event.
	ResearchLog *researchlog.FileSink
	Logger      logging.Logger
	// Endpoint is the default model endpoint for runs that name none.
	Endpoint string
	// AuxiliaryModel serves fact extraction and intervention calls. Defaults
	// to the main model.
	AuxiliaryModel model.Model
	// OnStateUpdate receives a snapshot after every meaningful mutation.
	OnStateUpdate func(state core.ResearchState)
	Callbacks     []Callback
}

// Engine runs research sessions. It is safe for concurrent use; every run
// has its own loop goroutine and its own state.
type Engine struct {
	model     model.Model
	opts      Options
	logger    logging.Logger
	callbacks *CallbackManager

	runs   map[string]*Run
	runsMu sync.RWMutex
}

// New creates an Engine driving m.
//
//	eng, err := engine.New(m, func(o *engine.Options) {
//	    o.Tools = registry
//	    o.Config.MaxSteps = 20
//	})
func New(m model.Model, optFns ...func(o *Options)) (*Engine, error) {
	if m == nil {
		return nil, errors.New("engine: model is required")
	}
	opts := Options{
		Config: DefaultConfig(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.AuxiliaryModel == nil {
		opts.AuxiliaryModel = m
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	cm := NewCallbackManager()
	if opts.OnStateUpdate != nil {
		cm.RegisterCallback(StateObserver(opts.OnStateUpdate))
	}
	if opts.ResearchLog != nil {
		for _, cb := range ResearchLogCallbacks(opts.ResearchLog) {
			cm.RegisterCallback(cb)
		}
	}
	for _, cb := range opts.Callbacks {
		cm.RegisterCallback(cb)
	}

	return &Engine{
		model:     m,
		opts:      opts,
		logger:    opts.Logger,
		callbacks: cm,
		runs:      make(map[string]*Run),
	}, nil
}

// Request describes one research run. Zero limits fall back to the engine
// config; an empty MessageID gets a generated one.
type Request struct {
	Query          string
	MessageID      string
	ConversationID string
	MaxSteps       int
	MaxRounds      int
	Endpoint       string
}

// Start launches a run in the background and returns its handle. The run
// stops when ctx is cancelled, when Run.Cancel is called or when it reaches
// a terminal phase.
func (e *Engine) Start(ctx context.Context, req Request) (*Run, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	id := req.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	maxSteps, maxRounds := req.MaxSteps, req.MaxRounds
	if maxSteps <= 0 {
		maxSteps = e.opts.Config.MaxSteps
	}
	if maxRounds <= 0 {
		maxRounds = e.opts.Config.MaxRounds
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = e.opts.Endpoint
	}

	state := core.NewResearchState(query, id, req.ConversationID, maxSteps, maxRounds)
	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(id, state, cancel)

	e.runsMu.Lock()
	if _, ok := e.runs[id]; ok {
		e.runsMu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrRunExists, id)
	}
	e.runs[id] = run
	e.runsMu.Unlock()

	l := e.newLoop(run, endpoint)
	e.logger.Info("research.run.started", "run", id, "query", query, "max_steps", maxSteps, "max_rounds", maxRounds)

	go func() {
		defer func() {
			e.runsMu.Lock()
			delete(e.runs, id)
			e.runsMu.Unlock()
			cancel()
			close(run.done)
		}()
		final := l.runLoop(runCtx, state)
		run.setState(final)
	}()
	return run, nil
}

// Research runs a session to completion and returns its final state. Run
// failures are reported in the state (phase error and ErrorMessage); the
// error result is only set when the run could not be started.
func (e *Engine) Research(ctx context.Context, req Request) (core.ResearchState, error) {
	run, err := e.Start(ctx, req)
	if err != nil {
		return core.ResearchState{}, err
	}
	<-run.Done()
	return run.Snapshot(), nil
}

// Intervene delivers cmd to the active run with runID.
func (e *Engine) Intervene(runID string, cmd intervention.Command) error {
	run, ok := e.Run(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.Intervene(cmd)
}

// Cancel stops the active run with runID. The run finishes in the error phase
// with its partial state preserved.
func (e *Engine) Cancel(runID string) error {
	run, ok := e.Run(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Cancel()
	return nil
}

// Run returns the active run with id.
func (e *Engine) Run(id string) (*Run, bool) {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	run, ok := e.runs[id]
	return run, ok
}

// ActiveRuns returns the ids of all active runs.
func (e *Engine) ActiveRuns() []string {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

// Store returns the engine's persistence store.
func (e *Engine) Store() session.Store {
	return e.opts.Store
}

// Config returns the engine's loop configuration.
func (e *Engine) Config() Config {
	return e.opts.Config
}
