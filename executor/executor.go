// Package executor runs the tool calls requested by one model turn.
//
// Calls are dispatched in groups bounded by MaxParallel. Each call has its own
// timeout and every failure (validation, transport, timeout, panic) becomes an
// error-bearing observation rather than a Go error, so one failing tool never
// aborts its siblings or the research loop. Search calls are checked against
// the search history first; near-duplicates are answered with a corrective
// observation instead of being executed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/similarity"
	"github.com/hupe1980/researchmesh/tool"
)

// Options configures an Executor.
type Options struct {
	MaxParallel          int
	ToolTimeout          time.Duration
	BatchTimeout         time.Duration
	SimilarityThreshold  float64
	NumericDivergence    float64
	MinFactsForSynthesis int
	Logger               logging.Logger
}

// DefaultOptions returns the executor defaults.
func DefaultOptions() Options {
	return Options{
		MaxParallel:          3,
		ToolTimeout:          30 * time.Second,
		BatchTimeout:         2 * time.Minute,
		SimilarityThreshold:  similarity.DefaultThreshold,
		NumericDivergence:    similarity.DefaultDivergence,
		MinFactsForSynthesis: 3,
		Logger:               logging.NoOpLogger{},
	}
}

// BatchResult is the outcome of one ExecuteBatch call. Observations are in the
// order of the requested calls, one per call.
type BatchResult struct {
	Observations  []core.Observation
	State         core.ResearchState
	ToolsExecuted int
	ToolsSkipped  int
	// TransitionSignal is set when an internal tool requests a phase change.
	TransitionSignal core.Phase
}

// Productive reports whether at least one external tool ran successfully.
func (r BatchResult) Productive() bool {
	for _, o := range r.Observations {
		if !o.Internal && !o.Duplicate && !o.Failed() {
			return true
		}
	}
	return false
}

// Executor dispatches tool calls to a tool.Executor.
type Executor struct {
	tools tool.Executor
	opts  Options
}

// New creates an Executor backed by tools.
func New(tools tool.Executor, optFns ...func(o *Options)) *Executor {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Executor{tools: tools, opts: opts}
}

type pendingCall struct {
	index int
	call  model.ToolCall
	args  map[string]any
	query string
}

// ExecuteBatch runs calls against a snapshot of state and returns the updated
// state. The input state is not modified.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []model.ToolCall, state core.ResearchState) BatchResult {
	res := BatchResult{
		Observations: make([]core.Observation, len(calls)),
		State:        state.Clone(),
	}
	if len(calls) == 0 {
		return res
	}

	batchQueries := make([]string, 0, len(calls))
	var external []pendingCall

	for i, call := range calls {
		obs := core.Observation{ToolCallID: call.ID, ToolName: call.Function.Name}
		if obs.ToolCallID == "" {
			obs.ToolCallID = core.NewID("call")
		}

		args, err := call.DecodeArguments()
		if err != nil {
			obs.Error = fmt.Sprintf("invalid arguments: %v", err)
			res.Observations[i] = obs
			res.ToolsSkipped++
			continue
		}
		obs.Args = args

		if IsInternal(call.Function.Name) {
			res.Observations[i] = e.runInternal(&res, obs)
			continue
		}

		query, isSearch := SearchQuery(args)
		if isSearch {
			if prev, dup := e.duplicateOf(query, res.State.SearchHistory, batchQueries); dup {
				obs.Duplicate = true
				obs.Error = fmt.Sprintf(
					"duplicate search: %q is too similar to the earlier search %q. Reformulate with different terms or fetch a source you already found.",
					query, prev,
				)
				res.Observations[i] = obs
				res.ToolsSkipped++
				e.opts.Logger.Info("research.tool.duplicate_search", "tool", call.Function.Name, "query", query, "previous", prev)
				continue
			}
			batchQueries = append(batchQueries, query)
		}

		external = append(external, pendingCall{index: i, call: call, args: args, query: query})
		res.Observations[i] = obs
	}

	if len(external) > 0 {
		e.runExternal(ctx, external, res.Observations)
		res.ToolsExecuted = len(external)
	}

	// Search history is only touched here, after every call has joined.
	for _, pc := range external {
		if pc.query == "" || res.Observations[pc.index].Failed() {
			continue
		}
		res.State.SearchHistory = append(res.State.SearchHistory, core.SearchRecord{
			Query: pc.query,
			Step:  res.State.CurrentStep,
			Round: res.State.CurrentRound,
		})
	}

	return res
}

// runExternal executes calls in groups of MaxParallel under the batch deadline.
func (e *Executor) runExternal(ctx context.Context, calls []pendingCall, out []core.Observation) {
	batchCtx, cancel := context.WithTimeout(ctx, e.opts.BatchTimeout)
	defer cancel()

	start := time.Now()
	for lo := 0; lo < len(calls); lo += e.opts.MaxParallel {
		hi := lo + e.opts.MaxParallel
		if hi > len(calls) {
			hi = len(calls)
		}

		var wg sync.WaitGroup
		for _, pc := range calls[lo:hi] {
			wg.Add(1)
			go func(pc pendingCall) {
				defer wg.Done()
				out[pc.index] = e.runOne(ctx, batchCtx, pc, out[pc.index])
			}(pc)
		}
		wg.Wait()
	}

	e.opts.Logger.Debug(
		"research.tool.batch.complete",
		"count", len(calls),
		"parallelism", e.opts.MaxParallel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type outcome struct {
	data any
	err  error
}

func (e *Executor) runOne(parent, batchCtx context.Context, pc pendingCall, obs core.Observation) core.Observation {
	name := pc.call.Function.Name
	if err := batchCtx.Err(); err != nil {
		obs.Error = abortMessage(parent, name, e.opts.BatchTimeout)
		return obs
	}

	callCtx, cancel := context.WithTimeout(batchCtx, e.opts.ToolTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				pe := panicError(name, r)
				o = outcome{err: pe}
				e.opts.Logger.Error("research.tool.panic", "tool", name, "recover", fmt.Sprint(r), "stack", string(pe.stack))
			}
			done <- o
		}()
		o.data, o.err = e.tools.Execute(callCtx, name, pc.args)
	}()

	var o outcome
	select {
	case o = <-done:
	case <-callCtx.Done():
	}
	// A tool that gave up because its context ended is reported like one that never returned.
	if callCtx.Err() != nil && (o.err != nil || o.data == nil) {
		switch {
		case parent.Err() != nil || batchCtx.Err() != nil:
			o = outcome{err: errors.New(abortMessage(parent, name, e.opts.BatchTimeout))}
		default:
			o = outcome{err: tool.NewToolError(name, fmt.Sprintf("timed out after %s", e.opts.ToolTimeout), tool.CodeTimeout)}
		}
	}

	if o.err != nil {
		obs.Error = o.err.Error()
	} else {
		obs.Data = o.data
	}

	e.opts.Logger.Info(
		"research.tool.executed",
		"tool", name,
		"call_id", obs.ToolCallID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", o.err != nil,
	)
	return obs
}

func abortMessage(parent context.Context, name string, batchTimeout time.Duration) string {
	if parent.Err() != nil {
		return fmt.Sprintf("tool %s cancelled: %v", name, parent.Err())
	}
	return fmt.Sprintf("tool %s aborted: batch deadline of %s exceeded", name, batchTimeout)
}

// duplicateOf reports whether query repeats an earlier search, returning the
// earlier query.
func (e *Executor) duplicateOf(query string, history []core.SearchRecord, batch []string) (string, bool) {
	for _, h := range history {
		if e.sameSearch(query, h.Query) {
			return h.Query, true
		}
	}
	for _, q := range batch {
		if e.sameSearch(query, q) {
			return q, true
		}
	}
	return "", false
}

func (e *Executor) sameSearch(a, b string) bool {
	if similarity.Normalize(a) == similarity.Normalize(b) {
		return true
	}
	return similarity.Duplicate(a, b, e.opts.SimilarityThreshold, e.opts.NumericDivergence)
}

// SearchQuery extracts the search query from tool arguments.
func SearchQuery(args map[string]any) (string, bool) {
	for _, key := range []string{"query", "q", "search_query", "searchQuery"} {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

type panicErr struct {
	tool  string
	val   any
	stack []byte
}

func (p *panicErr) Error() string {
	return fmt.Sprintf("tool error [%s] in %s: panic: %v", tool.CodePanic, p.tool, p.val)
}

func panicError(name string, r any) *panicErr {
	return &panicErr{tool: name, val: r, stack: debug.Stack()}
}
