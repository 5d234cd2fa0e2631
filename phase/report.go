package phase

import (
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/facts"
	"github.com/hupe1980/researchmesh/prompt"
)

// maxFallbackFacts bounds the facts listed in a fallback report.
const maxFallbackFacts = 25

// FallbackReport renders a report from the state alone, without a model
// call. It lists answered questions, the highest-ranked facts and open gaps.
func FallbackReport(state core.ResearchState) (string, []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research summary: %s\n\n", state.OriginalQuery)
	b.WriteString("_This report was assembled from the gathered facts without a final synthesis step._\n")

	if state.CurrentHypothesis != "" {
		fmt.Fprintf(&b, "\n## Working hypothesis\n\n%s\n", state.CurrentHypothesis)
	}

	answered := false
	for _, i := range state.SortedPlan() {
		q := state.ResearchPlan[i]
		if q.Status != core.StatusAnswered || q.Answer == "" {
			continue
		}
		if !answered {
			b.WriteString("\n## Findings\n")
			answered = true
		}
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", q.Text, q.Answer)
	}

	ranked := facts.Rank(state)
	if len(ranked) > maxFallbackFacts {
		ranked = ranked[:maxFallbackFacts]
	}
	var cited []string
	if len(ranked) > 0 {
		b.WriteString("\n## Key facts\n\n")
		for _, f := range ranked {
			fmt.Fprintf(&b, "- %s [%s] (%s)\n", f.Claim, f.ID, f.SourceURL)
			cited = append(cited, f.ID)
		}
	}

	if len(state.Contradictions) > 0 {
		b.WriteString("\n## Conflicting evidence\n\n")
		for _, c := range state.Contradictions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(state.KnowledgeGaps) > 0 {
		b.WriteString("\n## Open gaps\n\n")
		for _, g := range state.KnowledgeGaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	return b.String(), cited
}

// FinishWithFallback completes the run with a fallback report when facts
// exist and fails it with reason otherwise.
func FinishWithFallback(state core.ResearchState, reason string) core.ResearchState {
	next := state.Clone()
	if len(next.GatheredFacts) == 0 {
		next.LogActivity("error", reason)
		next.Finish(core.PhaseError, reason)
		return next
	}
	report, ids := FallbackReport(next)
	next.SetReport(report)
	next.Citations = Citations(next, ids)
	next.LogActivity("report", "Fallback report: "+reason)
	next.Finish(core.PhaseComplete, "")
	return next
}

// ActiveSummary is a one-line description of the state's focus, used in logs.
func ActiveSummary(state core.ResearchState) string {
	q, ok := state.ActiveQuestion()
	if !ok {
		return string(state.Phase)
	}
	return fmt.Sprintf("%s #%d %s", state.Phase, prompt.QuestionNumber(state, q.ID), q.Text)
}
