package facts

import (
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/util"
)

const extractionSystem = `You extract verifiable facts from tool results for a research assistant.

Research query: {{.Query}}
{{- if .Active}}
Current question ({{.Active.ID}}): {{.Active.Text}}
{{- end}}

Open questions:
{{- range .Questions}}
- {{.ID}}: {{.Text}}
{{- end}}

VALID SOURCES (cite only these URLs, exactly as written):
{{- range .Sources}}
- {{.}}
{{- end}}

TOOL RESULTS:
{{- range .Observations}}

[{{.Name}}{{if .Ref}} {{.Ref}}{{end}}]
{{.Text}}
{{- end}}`

const extractionUser = `Extract the facts from the tool results that help answer the research query.
Rules:
- Each fact is one self-contained, specific claim (include numbers, dates and names).
- sourceUrl must be one of the VALID SOURCES. Never invent URLs.
- confidence is "high" for primary or authoritative sources, "medium" for reputable secondary sources, "low" otherwise.
- questionIds lists the question IDs the fact helps answer.
- Return an empty list if nothing relevant was found.

Respond with JSON only:
{"facts":[{"claim":"...","sourceUrl":"...","sourceTitle":"...","confidence":"high|medium|low","questionIds":["q_..."]}]}`

type observationView struct {
	Name string
	Ref  string
	Text string
}

func buildExtractionPrompt(state core.ResearchState, sources []string, maxChars int) (string, string, error) {
	var observations []observationView
	for _, o := range state.PendingObservations {
		if o.Failed() || o.Internal || o.Duplicate {
			continue
		}
		ref := ""
		if u, ok := o.Args["url"].(string); ok {
			ref = u
		} else if q, ok := o.Args["query"].(string); ok {
			ref = "query: " + q
		}
		observations = append(observations, observationView{Name: o.ToolName, Ref: ref, Text: o.Text()})
	}

	if maxChars > 0 && len(observations) > 0 {
		per := maxChars / len(observations)
		for i := range observations {
			observations[i].Text = truncateRunes(observations[i].Text, per)
		}
	}

	var questions []core.ResearchQuestion
	for _, i := range state.SortedPlan() {
		if q := state.ResearchPlan[i]; q.Status.IsOpen() {
			questions = append(questions, q)
		}
	}
	var active *core.ResearchQuestion
	if q, ok := state.ActiveQuestion(); ok {
		active = &q
	}

	system, err := util.RenderTemplate(extractionSystem, map[string]any{
		"Query":        state.OriginalQuery,
		"Active":       active,
		"Questions":    questions,
		"Sources":      sources,
		"Observations": observations,
	})
	if err != nil {
		return "", "", err
	}
	return system, extractionUser, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[...truncated...]"
}
