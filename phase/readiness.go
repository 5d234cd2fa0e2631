package phase

import (
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/facts"
)

// ReadinessResult is the outcome of the synthesis readiness check.
type ReadinessResult struct {
	Adjusted int
	Ready    bool
	Reason   string
	Coverage float64
	Hosts    int
}

// Readiness adjusts the evaluation score for perspective coverage and source
// diversity (non-simple queries only) and decides whether to synthesize.
func Readiness(state core.ResearchState, ev Evaluation, threshold int) ReadinessResult {
	r := ReadinessResult{
		Adjusted: ev.Score,
		Coverage: PerspectiveCoverage(state),
		Hosts:    DistinctHosts(state),
	}

	if state.Complexity != "" && state.Complexity != core.ComplexitySimple {
		switch {
		case r.Coverage < 0.5:
			r.Adjusted -= 2
		case r.Coverage < 1:
			r.Adjusted--
		}
		switch {
		case r.Hosts < 2:
			r.Adjusted -= 2
		case r.Hosts < 3:
			r.Adjusted--
		}
		if r.Adjusted < 1 {
			r.Adjusted = 1
		}
	}

	switch {
	case r.Adjusted >= threshold:
		r.Ready, r.Reason = true, "score meets threshold"
	case state.CurrentRound >= state.MaxRounds:
		r.Ready, r.Reason = true, "round budget exhausted"
	case len(ev.FollowUps) == 0 && len(ev.MissingAspects) == 0:
		r.Ready, r.Reason = true, "nothing left to research"
	default:
		r.Reason = "more research needed"
	}
	return r
}

// PerspectiveCoverage returns the share of declared perspectives covered by
// an answered question or a round summary. Without perspectives it is 1.
func PerspectiveCoverage(state core.ResearchState) float64 {
	if len(state.Perspectives) == 0 {
		return 1
	}
	covered := coveredPerspectives(state)
	n := 0
	for _, p := range state.Perspectives {
		if _, ok := covered[strings.ToLower(p.Name)]; ok {
			n++
		}
	}
	return float64(n) / float64(len(state.Perspectives))
}

func coveredPerspectives(state core.ResearchState) map[string]struct{} {
	covered := map[string]struct{}{}
	for _, q := range state.ResearchPlan {
		if q.Status == core.StatusAnswered && q.Perspective != "" {
			covered[strings.ToLower(q.Perspective)] = struct{}{}
		}
	}
	for _, rs := range state.RoundSummaries {
		if rs.Perspective != "" {
			covered[strings.ToLower(rs.Perspective)] = struct{}{}
		}
	}
	return covered
}

// DistinctHosts counts the distinct source hosts among gathered facts.
func DistinctHosts(state core.ResearchState) int {
	hosts := map[string]struct{}{}
	for _, f := range state.GatheredFacts {
		if h := facts.Host(f.SourceURL); h != "" {
			hosts[h] = struct{}{}
		}
	}
	return len(hosts)
}
