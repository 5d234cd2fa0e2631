// Package researchmesh provides a high-level façade over the research Engine
// and its services (tools, session storage, research log and logging)
// enabling multi-round web research in a few lines. Most applications
// interact with this package by:
//  1. Creating a ResearchMesh via New() with a model (optionally overriding
//     the default in-memory store and empty tool catalog)
//  2. Running a query synchronously (Research) or starting it in the
//     background (Start) and steering it with Intervene
//  3. Reading finished sessions back through Load and List
//
// The façade delegates orchestration to engine.Engine. All defaults are safe
// for local development and testing; production deployments typically
// supply web search tools, a durable store and a structured logger.
package researchmesh

import (
	"context"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/intervention"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/researchlog"
	"github.com/hupe1980/researchmesh/session"
	"github.com/hupe1980/researchmesh/tool"
)

// Options configures the ResearchMesh instance.
type Options struct {
	// Engine configuration (budgets, guardrails, thresholds)
	EngineConfig engine.Config

	// Tools offered to the model while gathering evidence. Register a
	// websearch tool here; without one the engine can only plan and
	// synthesize.
	Tools tool.Catalog

	// SessionStore persists research states (defaults to in-memory).
	SessionStore session.Store

	// ResearchLog optionally records one NDJSON entry per lifecycle event.
	ResearchLog *researchlog.FileSink

	// AuxiliaryModel serves fact extraction and interventions; defaults to
	// the main model.
	AuxiliaryModel model.Model

	// Endpoint overrides the model base URL, e.g. a local server.
	Endpoint string

	// OnStateUpdate receives a state snapshot after every step.
	OnStateUpdate func(state core.ResearchState)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ResearchMesh is the high-level façade over the research engine.
type ResearchMesh struct {
	opts   Options
	engine *engine.Engine
}

// New creates a ResearchMesh driving m. Any unset service is initialized
// with an in-memory implementation.
func New(m model.Model, optFns ...func(o *Options)) (*ResearchMesh, error) {
	opts := Options{
		EngineConfig: engine.DefaultConfig(),
		SessionStore: session.NewInMemoryStore(),
		Tools:        tool.NewRegistry(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e, err := engine.New(m, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Tools = opts.Tools
		o.Store = opts.SessionStore
		o.ResearchLog = opts.ResearchLog
		o.AuxiliaryModel = opts.AuxiliaryModel
		o.Endpoint = opts.Endpoint
		o.OnStateUpdate = opts.OnStateUpdate
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	return &ResearchMesh{opts: opts, engine: e}, nil
}

// Research runs query to a terminal phase and returns the final state.
// Model and tool failures end up in the state (phase error); the error
// return covers invalid requests only.
func (m *ResearchMesh) Research(ctx context.Context, query string) (core.ResearchState, error) {
	return m.engine.Research(ctx, engine.Request{Query: query})
}

// Start launches a research run in the background.
func (m *ResearchMesh) Start(ctx context.Context, req engine.Request) (*engine.Run, error) {
	return m.engine.Start(ctx, req)
}

// Intervene queues a command for the active run with the given message id.
func (m *ResearchMesh) Intervene(messageID string, cmd intervention.Command) error {
	return m.engine.Intervene(messageID, cmd)
}

// Cancel cancels the active run with the given message id.
func (m *ResearchMesh) Cancel(messageID string) error {
	return m.engine.Cancel(messageID)
}

// Load returns a stored research state.
func (m *ResearchMesh) Load(ctx context.Context, messageID string) (core.ResearchState, error) {
	return m.opts.SessionStore.Load(ctx, messageID)
}

// List returns summaries of all stored research states.
func (m *ResearchMesh) List(ctx context.Context) ([]session.Summary, error) {
	return m.opts.SessionStore.List(ctx)
}

// Engine exposes the underlying engine.
func (m *ResearchMesh) Engine() *engine.Engine { return m.engine }
