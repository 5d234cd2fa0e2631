// Package facts turns tool observations into verified Fact records.
//
// Extraction is strictly ordered: build a prompt listing only the URLs that
// actually appear in the observations, parse the model's JSON defensively,
// reject any fact whose URL cannot be traced to one of those sources,
// deduplicate against the knowledge store (keeping numerically divergent
// near-duplicates), store the accepted facts and finally prune the store
// without touching protected facts.
package facts

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/similarity"
	"github.com/tidwall/gjson"
)

// Options configures an Extractor.
type Options struct {
	MaxFacts            int
	SimilarityThreshold float64
	NumericDivergence   float64
	// MaxObservationChars bounds the text of all observations in the prompt.
	MaxObservationChars int
	Logger              logging.Logger
}

// DefaultOptions returns the extractor defaults.
func DefaultOptions() Options {
	return Options{
		MaxFacts:            60,
		SimilarityThreshold: similarity.DefaultThreshold,
		NumericDivergence:   similarity.DefaultDivergence,
		MaxObservationChars: 24000,
		Logger:              logging.NoOpLogger{},
	}
}

// Result is the outcome of one extraction.
type Result struct {
	NewFacts            []core.Fact
	DiscardedInvalidURL int
	DiscardedDuplicates int
	Pruned              []string
	State               core.ResearchState
}

// Extractor extracts facts with an auxiliary model call.
type Extractor struct {
	model model.Model
	opts  Options
}

// NewExtractor creates an Extractor.
func NewExtractor(m model.Model, optFns ...func(o *Options)) *Extractor {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Extractor{model: m, opts: opts}
}

// Extract processes state.PendingObservations. A failed model call returns the
// error together with a Result whose State equals the input; callers log it
// and carry on.
func (x *Extractor) Extract(ctx context.Context, state core.ResearchState, endpoint string) (Result, error) {
	res := Result{State: state.Clone()}

	sources := ValidSources(state.PendingObservations)
	if len(sources) == 0 {
		x.opts.Logger.Debug("research.facts.skipped", "reason", "no sources in observations")
		return res, nil
	}

	system, user, err := buildExtractionPrompt(state, sources, x.opts.MaxObservationChars)
	if err != nil {
		return res, fmt.Errorf("build extraction prompt: %w", err)
	}

	req := model.NewRequest(system, user, nil)
	req.Endpoint = endpoint
	resp, err := model.Call(ctx, x.model, req)
	if err != nil {
		x.opts.Logger.Warn("research.facts.llm_failed", "error", err.Error())
		return res, fmt.Errorf("fact extraction: %w", err)
	}

	next := state.Clone()
	next.Usage = next.Usage.Add(resp.CoreUsage())

	active, hasActive := next.ActiveQuestion()
	for _, c := range parseCandidates(resp.Content) {
		src, ok := MatchSource(c.url, sources)
		if !ok {
			res.DiscardedInvalidURL++
			x.opts.Logger.Info("research.fact.rejected", "reason", "source not in observations", "url", c.url)
			continue
		}

		claim := TruncateClaim(c.claim)
		match := FindMatch(claim, next.GatheredFacts, x.opts.SimilarityThreshold, x.opts.NumericDivergence)
		if match.Duplicate != nil {
			res.DiscardedDuplicates++
			x.opts.Logger.Debug("research.fact.rejected", "reason", "duplicate", "existing", match.Duplicate.ID)
			continue
		}

		fact := core.Fact{
			ID:             core.NewID("f"),
			Claim:          claim,
			SourceURL:      src,
			SourceTitle:    c.title,
			Confidence:     c.confidence,
			GatheredAtStep: next.CurrentStep,
			QuestionIDs:    knownQuestionIDs(next, c.questionIDs),
		}
		if len(fact.QuestionIDs) == 0 && hasActive {
			fact.QuestionIDs = []string{active.ID}
		}

		if match.Conflict != nil {
			addContradiction(&next, fact, *match.Conflict)
		}

		next.GatheredFacts = append(next.GatheredFacts, fact)
		if i := next.ActiveQuestionIndex(); i >= 0 && containsID(fact.QuestionIDs, next.ResearchPlan[i].ID) {
			next.LinkFact(i, fact.ID)
		}
		res.NewFacts = append(res.NewFacts, fact)
	}

	next, res.Pruned = Prune(next, x.opts.MaxFacts)
	if len(res.NewFacts) > 0 {
		next.LogActivity("facts", fmt.Sprintf("Extracted %d new fact(s)", len(res.NewFacts)))
	}

	x.opts.Logger.Info(
		"research.facts.extracted",
		"new", len(res.NewFacts),
		"invalid_url", res.DiscardedInvalidURL,
		"duplicates", res.DiscardedDuplicates,
		"pruned", len(res.Pruned),
		"total", len(next.GatheredFacts),
	)

	res.State = next
	return res, nil
}

type candidate struct {
	claim       string
	url         string
	title       string
	confidence  core.Confidence
	questionIDs []string
}

// parseCandidates reads {"facts":[...]} or a bare array. Malformed entries are
// dropped.
func parseCandidates(content string) []candidate {
	doc := util.ParseJSON(content)
	if !doc.Exists() {
		return nil
	}
	list := doc
	if doc.IsObject() {
		list = doc.Get("facts")
	}
	if !list.IsArray() {
		return nil
	}

	var out []candidate
	for _, item := range list.Array() {
		if !item.IsObject() {
			continue
		}
		c := candidate{
			claim:       strings.TrimSpace(first(item, "claim", "fact", "statement").String()),
			url:         strings.TrimSpace(first(item, "sourceUrl", "source_url", "url", "source").String()),
			title:       strings.TrimSpace(first(item, "sourceTitle", "source_title", "title").String()),
			confidence:  core.ParseConfidence(item.Get("confidence").String()),
			questionIDs: util.StringList(first(item, "questionIds", "question_ids", "questionId")),
		}
		if c.claim == "" || c.url == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func first(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func knownQuestionIDs(state core.ResearchState, ids []string) []string {
	var out []string
	for _, id := range ids {
		if state.QuestionIndex(id) >= 0 && !containsID(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func addContradiction(state *core.ResearchState, fresh, existing core.Fact) {
	note := fmt.Sprintf("%q (%s) conflicts with %q (%s)", fresh.Claim, fresh.SourceURL, existing.Claim, existing.SourceURL)
	for _, c := range state.Contradictions {
		if c == note {
			return
		}
	}
	state.Contradictions = append(state.Contradictions, note)
}
