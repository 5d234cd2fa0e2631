package prompt

import (
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/util"
)

// Marker lines identify the phase of a request. Test doubles key off them.
const (
	MarkerPlanning     = "RESEARCH PHASE: PLANNING"
	MarkerGathering    = "RESEARCH PHASE: GATHERING"
	MarkerEvaluating   = "RESEARCH PHASE: EVALUATING"
	MarkerCompressing  = "RESEARCH PHASE: COMPRESSING"
	MarkerSynthesizing = "RESEARCH PHASE: SYNTHESIZING"
)

// Marker returns the marker line for phase.
func Marker(phase core.Phase) string {
	switch phase {
	case core.PhasePlanning:
		return MarkerPlanning
	case core.PhaseGathering:
		return MarkerGathering
	case core.PhaseEvaluating:
		return MarkerEvaluating
	case core.PhaseCompressing:
		return MarkerCompressing
	default:
		return MarkerSynthesizing
	}
}

const rolePreamble = `You are a meticulous research assistant working through a multi-step research process.
All research state is given below. Rely only on gathered facts and tool results; never invent sources.`

var instructions = map[core.Phase]string{
	core.PhasePlanning: `Create a research plan for the query.
Classify the query complexity as "simple", "multi-faceted" or "controversial".
For multi-faceted or controversial queries, list 2-4 perspectives (distinct angles) to cover.
Write 3-6 focused sub-questions, most important first (priority 1 is highest).

Respond with JSON only:
{"hypothesis":"initial working answer","complexity":"simple|multi-faceted|controversial","perspectives":[{"name":"...","description":"..."}],"questions":[{"question":"...","priority":1,"perspective":"..."}]}`,

	core.PhaseGathering: `Gather evidence for the current question{{if .Active}}: #{{.ActiveNumber}} [{{.Active.ID}}] {{.Active.Text}}{{end}}.
{{- if .RoundStepsLeft}}
About {{.RoundStepsLeft}} step(s) remain in this round.
{{- end}}

Either:
1. Call tools ({{join ", " .Tools}}) to find new evidence. Prefer specific queries and fetch promising sources. Do not repeat earlier searches.
2. Or, if the gathered facts already answer the question, respond with JSON only:
{"type":"answer","questionIndex":{{if .Active}}{{.ActiveNumber}}{{else}}1{{end}},"questionId":"{{if .Active}}{{.Active.ID}}{{end}}","answer":"concise answer citing [fact ids]","factIds":["f_..."]}
{{- if .CanSynthesize}}
If the research as a whole is sufficient, call request_synthesis.
{{- end}}`,

	core.PhaseEvaluating: `Evaluate how well the gathered facts answer the original query.
Score adequacy from 1 (nothing useful) to 10 (complete, well-sourced answer).
List important missing aspects and up to 4 follow-up questions that would close them.

Respond with JSON only:
{"score":7,"missingAspects":["..."],"followUpQuestions":["..."]}`,

	core.PhaseCompressing: `Round {{.Round}} is finished. Summarize what this round established in 3-5 sentences, citing fact ids.
{{- if .NextPerspective}}
The next round will focus on the perspective "{{.NextPerspective}}".
{{- end}}

Respond with JSON only:
{"summary":"...","perspective":"{{.NextPerspective}}"}`,

	core.PhaseSynthesizing: `Write the final research report answering the original query.
Use markdown with a short summary first, then the details. Cite facts inline with their ids in brackets, e.g. [f_1a2b3c4d].
Only cite fact ids listed under gathered facts. Mention open knowledge gaps and contradictions honestly.

Respond with JSON only:
{"report":"markdown report","citations":[{"factId":"f_..."}]}`,
}

// Options carries run settings that shape the phase instruction.
type Options struct {
	// Tools names the external tools offered in the gathering phase.
	Tools []string
	// RoundAllocation is the number of steps allotted to one round.
	RoundAllocation int
	// MinFactsForSynthesis gates the request_synthesis hint.
	MinFactsForSynthesis int
	// NextPerspective is shown while compressing.
	NextPerspective string
}

// Instruction renders the user-message instruction for the state's phase.
// Rendering failures fall back to the raw template text.
func Instruction(state core.ResearchState, opts Options) string {
	tmpl, ok := instructions[state.Phase]
	if !ok {
		tmpl = instructions[core.PhaseSynthesizing]
	}

	data := map[string]any{
		"Tools":           opts.Tools,
		"Round":           state.CurrentRound,
		"NextPerspective": opts.NextPerspective,
		"CanSynthesize":   len(state.GatheredFacts) >= opts.MinFactsForSynthesis && opts.MinFactsForSynthesis > 0,
		"Active":          nil,
		"ActiveNumber":    0,
		"RoundStepsLeft":  0,
	}
	if len(opts.Tools) == 0 {
		data["Tools"] = []string{"web_search", "web_fetch"}
	}
	if q, ok := state.ActiveQuestion(); ok {
		data["Active"] = q
		data["ActiveNumber"] = QuestionNumber(state, q.ID)
	}
	if opts.RoundAllocation > 0 {
		if left := opts.RoundAllocation - state.StepsInRound(); left > 0 {
			data["RoundStepsLeft"] = left
		}
	}

	out, err := util.RenderTemplate(tmpl, data)
	if err != nil {
		return tmpl
	}
	return out
}

// QuestionNumber returns the 1-based display number of a question, or 0.
func QuestionNumber(state core.ResearchState, id string) int {
	for n, i := range state.SortedPlan() {
		if state.ResearchPlan[i].ID == id {
			return n + 1
		}
	}
	return 0
}

// QuestionAt resolves a 1-based display number to a plan index, or -1.
func QuestionAt(state core.ResearchState, number int) int {
	order := state.SortedPlan()
	if number < 1 || number > len(order) {
		return -1
	}
	return order[number-1]
}
