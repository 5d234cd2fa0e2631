// Package prompt renders research state into the two-message model requests.
//
// The serializer produces a deterministic, budgeted summary of the state.
// Under pressure it keeps open questions ahead of answered ones, keeps the
// highest ranked facts and shortens every observation proportionally.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/facts"
)

const maxListedGaps = 10

// ContextInjection is the serialized state, per section and combined.
type ContextInjection struct {
	Status       string
	Hypothesis   string
	Plan         string
	Facts        string
	Observations string
	Reasoning    string
	Text         string
}

// Serialize renders state within budget.
func Serialize(state core.ResearchState, budget Budget) ContextInjection {
	ci := ContextInjection{
		Status:       renderStatus(state),
		Hypothesis:   truncate(state.CurrentHypothesis, budget.Hypothesis),
		Plan:         renderPlan(state, budget.Plan),
		Facts:        renderFacts(state, budget.Facts),
		Observations: renderObservations(state.PendingObservations, budget.Observations),
		Reasoning:    truncate(state.LastReasoning, budget.Reasoning),
	}

	var sb strings.Builder
	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		sb.WriteString("## ")
		sb.WriteString(title)
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(body, "\n"))
		sb.WriteString("\n\n")
	}
	section("Status", ci.Status)
	section("Current hypothesis", ci.Hypothesis)
	section("Research plan", ci.Plan)
	section("Gathered facts", ci.Facts)
	section("Latest tool results", ci.Observations)
	section("Previous reasoning", ci.Reasoning)
	ci.Text = strings.TrimRight(sb.String(), "\n")
	return ci
}

func renderStatus(state core.ResearchState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n", state.OriginalQuery)
	fmt.Fprintf(&sb, "Phase: %s | Step %d of %d | Round %d of %d\n",
		state.Phase, state.CurrentStep, state.MaxSteps, state.CurrentRound, state.MaxRounds)
	if state.Complexity != "" {
		fmt.Fprintf(&sb, "Complexity: %s\n", state.Complexity)
	}
	if len(state.Perspectives) > 0 {
		names := make([]string, len(state.Perspectives))
		for i, p := range state.Perspectives {
			names[i] = p.Name
		}
		fmt.Fprintf(&sb, "Perspectives: %s\n", strings.Join(names, ", "))
	}
	if state.CurrentPerspective != "" {
		fmt.Fprintf(&sb, "Current focus perspective: %s\n", state.CurrentPerspective)
	}
	for _, rs := range state.RoundSummaries {
		fmt.Fprintf(&sb, "Round %d summary: %s\n", rs.Round, truncate(rs.Summary, 400))
	}
	if n := len(state.KnowledgeGaps); n > 0 {
		gaps := state.KnowledgeGaps
		if n > maxListedGaps {
			gaps = gaps[n-maxListedGaps:]
		}
		fmt.Fprintf(&sb, "Knowledge gaps: %s\n", strings.Join(gaps, "; "))
	}
	if n := len(state.Contradictions); n > 0 {
		fmt.Fprintf(&sb, "Contradictions to resolve: %d (latest: %s)\n", n, truncate(state.Contradictions[n-1], 300))
	}
	if n := len(state.SearchHistory); n > 0 {
		recent := state.SearchHistory
		if n > 8 {
			recent = recent[n-8:]
		}
		qs := make([]string, len(recent))
		for i, r := range recent {
			qs[i] = fmt.Sprintf("%q", r.Query)
		}
		fmt.Fprintf(&sb, "Searches already run (do not repeat): %s\n", strings.Join(qs, ", "))
	}
	return sb.String()
}

// PlanLine renders one question as shown in prompts. Numbers are 1-based
// positions in state.SortedPlan.
func PlanLine(number int, q core.ResearchQuestion) string {
	line := fmt.Sprintf("%d. [%s] (%s) %s", number, q.ID, q.Status, q.Text)
	if q.Perspective != "" {
		line += fmt.Sprintf(" {perspective: %s}", q.Perspective)
	}
	if q.Status == core.StatusAnswered && q.Answer != "" {
		line += " => " + truncate(q.Answer, 200)
	}
	return line
}

func renderPlan(state core.ResearchState, budget int) string {
	order := state.SortedPlan()
	if len(order) == 0 {
		return ""
	}

	lines := make([]string, len(order))
	size := 0
	for n, i := range order {
		lines[n] = PlanLine(n+1, state.ResearchPlan[i])
		size += len([]rune(lines[n])) + 1
	}

	// Drop terminal questions from the end first, then open ones.
	keep := make([]bool, len(order))
	for i := range keep {
		keep[i] = true
	}
	omitted := 0
	for pass := 0; pass < 2 && size > budget; pass++ {
		for n := len(order) - 1; n >= 0 && size > budget; n-- {
			q := state.ResearchPlan[order[n]]
			if !keep[n] || (pass == 0 && q.Status.IsOpen()) {
				continue
			}
			keep[n] = false
			size -= len([]rune(lines[n])) + 1
			omitted++
		}
	}

	var sb strings.Builder
	for n, line := range lines {
		if keep[n] {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	if omitted > 0 {
		fmt.Fprintf(&sb, "(%d more question(s) omitted)\n", omitted)
	}
	return sb.String()
}

// FactLine renders one fact as shown in prompts.
func FactLine(f core.Fact) string {
	return fmt.Sprintf("[%s] %s (source: %s, confidence: %s)", f.ID, f.Claim, f.SourceURL, f.Confidence)
}

func renderFacts(state core.ResearchState, budget int) string {
	ranked := facts.Rank(state)
	var sb strings.Builder
	used, shown := 0, 0
	for _, f := range ranked {
		line := FactLine(f)
		n := len([]rune(line)) + 1
		if used+n > budget {
			break
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		used += n
		shown++
	}
	if omitted := len(ranked) - shown; omitted > 0 {
		fmt.Fprintf(&sb, "(%d lower-ranked fact(s) omitted)\n", omitted)
	}
	return sb.String()
}

func renderObservations(observations []core.Observation, budget int) string {
	if len(observations) == 0 {
		return ""
	}
	per := budget / len(observations)

	var sb strings.Builder
	for _, o := range observations {
		header := fmt.Sprintf("### %s", o.ToolName)
		if q, ok := o.Args["query"].(string); ok {
			header += fmt.Sprintf(" %q", q)
		} else if u, ok := o.Args["url"].(string); ok {
			header += " " + u
		}
		if o.Duplicate {
			header += " (skipped)"
		}
		sb.WriteString(header)
		sb.WriteString("\n")
		sb.WriteString(truncate(o.Text(), per))
		sb.WriteString("\n")
	}
	return sb.String()
}
