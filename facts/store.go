package facts

import (
	"fmt"
	"sort"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/similarity"
)

// TruncateClaim trims a claim to core.MaxClaimLength runes, ending with an
// ellipsis when shortened.
func TruncateClaim(claim string) string {
	r := []rune(claim)
	if len(r) <= core.MaxClaimLength {
		return claim
	}
	return string(r[:core.MaxClaimLength-1]) + "…"
}

// Match is the result of comparing a candidate claim with stored facts.
type Match struct {
	// Duplicate is set when an existing fact already states the claim.
	Duplicate *core.Fact
	// Conflict is set when a similar fact carries different figures.
	Conflict *core.Fact
}

// FindMatch compares claim with existing facts. Claims at or above threshold
// similarity are duplicates unless their numbers diverge by more than
// divergence, in which case they are distinct and reported as a conflict.
func FindMatch(claim string, existing []core.Fact, threshold, divergence float64) Match {
	var m Match
	for i := range existing {
		f := &existing[i]
		if similarity.Score(claim, f.Claim) < threshold {
			continue
		}
		if similarity.Diverges(claim, f.Claim, divergence) {
			if m.Conflict == nil {
				m.Conflict = f
			}
			continue
		}
		m.Duplicate = f
		return m
	}
	return m
}

// Score ranks a fact for retention and prompt ordering:
// 0.4 recency + 0.4 confidence + 0.2 references (saturating at 3).
func Score(f core.Fact, state core.ResearchState) float64 {
	step := state.CurrentStep
	if step <= 0 {
		step = 1
	}
	recency := float64(f.GatheredAtStep) / float64(step)
	if recency > 1 {
		recency = 1
	}
	refs := state.ReferenceCount(f.ID)
	if refs > 3 {
		refs = 3
	}
	return 0.4*recency + 0.4*f.Confidence.Weight() + 0.2*float64(refs)/3
}

// Rank returns the facts ordered by descending score. Ties keep gathering order.
func Rank(state core.ResearchState) []core.Fact {
	out := make([]core.Fact, len(state.GatheredFacts))
	copy(out, state.GatheredFacts)
	scores := make(map[string]float64, len(out))
	for _, f := range out {
		scores[f.ID] = Score(f, state)
	}
	sort.SliceStable(out, func(i, j int) bool { return scores[out[i].ID] > scores[out[j].ID] })
	return out
}

// Prune drops the lowest scoring unprotected facts until at most maxFacts
// remain. Facts referenced by an answered or in-progress question or by a
// citation are never removed, so the result may exceed maxFacts. It returns
// the new state and the removed IDs.
func Prune(state core.ResearchState, maxFacts int) (core.ResearchState, []string) {
	next := state.Clone()
	excess := len(next.GatheredFacts) - maxFacts
	if maxFacts <= 0 || excess <= 0 {
		return next, nil
	}

	protected := next.ProtectedFactIDs()
	type candidate struct {
		index int
		score float64
	}
	var candidates []candidate
	for i, f := range next.GatheredFacts {
		if _, ok := protected[f.ID]; ok {
			continue
		}
		candidates = append(candidates, candidate{index: i, score: Score(f, next)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	if excess > len(candidates) {
		excess = len(candidates)
	}
	drop := make(map[int]struct{}, excess)
	removed := make([]string, 0, excess)
	for _, c := range candidates[:excess] {
		drop[c.index] = struct{}{}
		removed = append(removed, next.GatheredFacts[c.index].ID)
	}

	kept := next.GatheredFacts[:0]
	for i, f := range next.GatheredFacts {
		if _, ok := drop[i]; !ok {
			kept = append(kept, f)
		}
	}
	next.GatheredFacts = kept

	// Dropped facts may still be listed by pending or blocked questions.
	gone := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
	}
	for i := range next.ResearchPlan {
		ids := next.ResearchPlan[i].SupportingFactIDs[:0]
		for _, id := range next.ResearchPlan[i].SupportingFactIDs {
			if _, ok := gone[id]; !ok {
				ids = append(ids, id)
			}
		}
		next.ResearchPlan[i].SupportingFactIDs = ids
	}

	if len(removed) > 0 {
		next.LogActivity("prune", fmt.Sprintf("Pruned %d low-value fact(s)", len(removed)))
	}
	return next, removed
}
