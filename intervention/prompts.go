package intervention

import (
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/facts"
	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/similarity"
	"github.com/tidwall/gjson"
)

// Marker lines identify auxiliary requests.
const (
	MarkerForceAnswer   = "INTERVENTION: FORCE ANSWER"
	MarkerMoreQuestions = "INTERVENTION: MORE QUESTIONS"
	MarkerExpand        = "INTERVENTION: EXPAND QUESTION"
	MarkerGoDeeper      = "INTERVENTION: GO DEEPER"
)

const contextTemplate = `You assist a research process that a human is steering.

Research query: {{.Query}}
{{- if .Hypothesis}}
Current hypothesis: {{.Hypothesis}}
{{- end}}

Research plan:
{{- range .Plan}}
{{.}}
{{- end}}
{{- if .Facts}}

Gathered facts:
{{- range .Facts}}
{{.}}
{{- end}}
{{- end}}`

const forceAnswerTemplate = MarkerForceAnswer + `
Answer the question "{{.Question}}" using only the gathered facts above. Say plainly what remains uncertain.

Respond with JSON only:
{"answer":"concise answer citing [fact ids]","factIds":["f_..."]}`

const moreQuestionsTemplate = MarkerMoreQuestions + `
Propose up to {{.Max}} new research questions that cover aspects of the query the plan does not address yet.
Do not repeat existing questions.

Respond with JSON only:
{"questions":["..."]}`

const expandTemplate = MarkerExpand + `
Break the question "{{.Question}}" into up to {{.Max}} narrower sub-questions that together answer it.

Respond with JSON only:
{"questions":["..."]}`

const goDeeperTemplate = MarkerGoDeeper + `
Based on the answers and facts so far, propose up to {{.Max}} follow-up questions that dig deeper into the most important findings: causes, mechanisms, evidence quality, exceptions.

Respond with JSON only:
{"questions":["..."]}`

// maxPromptFacts bounds the facts listed in auxiliary prompts.
const maxPromptFacts = 30

func contextText(state core.ResearchState, factList []core.Fact) string {
	var plan []string
	for n, i := range state.SortedPlan() {
		plan = append(plan, prompt.PlanLine(n+1, state.ResearchPlan[i]))
	}
	var lines []string
	for _, f := range factList {
		lines = append(lines, prompt.FactLine(f))
	}
	out, err := util.RenderTemplate(contextTemplate, map[string]any{
		"Query":      state.OriginalQuery,
		"Hypothesis": state.CurrentHypothesis,
		"Plan":       plan,
		"Facts":      lines,
	})
	if err != nil {
		return state.OriginalQuery
	}
	return out
}

func render(tmpl string, data map[string]any) string {
	out, err := util.RenderTemplate(tmpl, data)
	if err != nil {
		return tmpl
	}
	return out
}

// topFacts returns the highest-ranked facts, limited to maxPromptFacts.
func topFacts(state core.ResearchState) []core.Fact {
	ranked := facts.Rank(state)
	if len(ranked) > maxPromptFacts {
		ranked = ranked[:maxPromptFacts]
	}
	return ranked
}

// parseQuestions reads {"questions":[...]} where entries are strings or
// objects with a question/text field. Blank and repeated entries are dropped.
func parseQuestions(content string) []string {
	doc := util.ParseJSON(content)
	list := doc.Get("questions")
	if doc.IsArray() {
		list = doc
	}
	seen := map[string]struct{}{}
	var out []string
	for _, v := range list.Array() {
		text := v.String()
		if v.IsObject() {
			text = v.Get("question").String()
			if text == "" {
				text = v.Get("text").String()
			}
		} else if v.Type != gjson.String {
			continue
		}
		text = strings.TrimSpace(text)
		key := similarity.Normalize(text)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, text)
	}
	return out
}
