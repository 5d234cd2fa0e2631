package phase

import (
	"regexp"
	"strings"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/tidwall/gjson"
)

// Response is the parsed form of a phase's model output. Exactly one of the
// concrete types below is returned; Unparseable is a regular variant that
// every handler deals with.
type Response interface {
	kind() string
}

// PlannedQuestion is one question proposed by the planner.
type PlannedQuestion struct {
	Text        string
	Priority    int
	Perspective string
}

// Plan is the planning response.
type Plan struct {
	Hypothesis   string
	Complexity   core.Complexity
	Perspectives []core.Perspective
	Questions    []PlannedQuestion
}

// Answer is a gathering response that answers one question.
type Answer struct {
	// QuestionIndex is the 1-based display number, 0 when absent.
	QuestionIndex int
	QuestionID    string
	Text          string
	FactIDs       []string
}

// Evaluation is the evaluating response.
type Evaluation struct {
	Score          int
	MissingAspects []string
	FollowUps      []string
}

// Summary is the compressing response.
type Summary struct {
	Text        string
	Perspective string
}

// Report is the synthesizing response.
type Report struct {
	Text        string
	CitationIDs []string
}

// Unparseable carries model output that did not match the expected shape.
type Unparseable struct {
	Raw    string
	Reason string
}

func (Plan) kind() string        { return "plan" }
func (Answer) kind() string      { return "answer" }
func (Evaluation) kind() string  { return "evaluation" }
func (Summary) kind() string     { return "summary" }
func (Report) kind() string      { return "report" }
func (Unparseable) kind() string { return "unparseable" }

var (
	thinkRe      = regexp.MustCompile(`(?s)<think>.*?</think>`)
	factMarkerRe = regexp.MustCompile(`\bf_[0-9a-fA-F]{8}\b`)
)

func parseObject(content string) (gjson.Result, *Unparseable) {
	doc := util.ParseJSON(content)
	if !doc.IsObject() {
		return doc, &Unparseable{Raw: content, Reason: "no JSON object in response"}
	}
	return doc, nil
}

func firstOf(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// ParsePlan parses a planning response.
func ParsePlan(content string) Response {
	doc, bad := parseObject(content)
	if bad != nil {
		return *bad
	}

	p := Plan{
		Hypothesis: strings.TrimSpace(firstOf(doc, "hypothesis", "currentHypothesis").String()),
		Complexity: core.ParseComplexity(doc.Get("complexity").String()),
	}

	for _, v := range doc.Get("perspectives").Array() {
		var per core.Perspective
		if v.Type == gjson.String {
			per.Name = strings.TrimSpace(v.String())
		} else {
			per.Name = strings.TrimSpace(firstOf(v, "name", "perspective", "title").String())
			per.Description = strings.TrimSpace(v.Get("description").String())
		}
		if per.Name != "" {
			p.Perspectives = append(p.Perspectives, per)
		}
	}

	for i, v := range firstOf(doc, "questions", "researchPlan", "plan").Array() {
		q := PlannedQuestion{Priority: i + 1}
		if v.Type == gjson.String {
			q.Text = strings.TrimSpace(v.String())
		} else {
			q.Text = strings.TrimSpace(firstOf(v, "question", "text").String())
			if pr := v.Get("priority"); pr.Exists() && pr.Int() > 0 {
				q.Priority = int(pr.Int())
			}
			q.Perspective = strings.TrimSpace(v.Get("perspective").String())
		}
		if q.Text != "" {
			p.Questions = append(p.Questions, q)
		}
	}

	if len(p.Questions) == 0 {
		return Unparseable{Raw: content, Reason: "plan has no questions"}
	}
	return p
}

// ParseAnswer parses a gathering response without tool calls.
func ParseAnswer(content string) Response {
	doc, bad := parseObject(content)
	if bad != nil {
		return *bad
	}
	typ := strings.ToLower(doc.Get("type").String())
	text := strings.TrimSpace(doc.Get("answer").String())
	if (typ != "" && typ != "answer") || text == "" {
		return Unparseable{Raw: content, Reason: "not an answer"}
	}
	return Answer{
		QuestionIndex: int(firstOf(doc, "questionIndex", "question_index").Int()),
		QuestionID:    strings.TrimSpace(firstOf(doc, "questionId", "question_id").String()),
		Text:          text,
		FactIDs:       util.StringList(firstOf(doc, "factIds", "fact_ids", "supportingFactIds")),
	}
}

// ParseEvaluation parses an evaluating response. The score is clamped to 1..10.
func ParseEvaluation(content string) Response {
	doc, bad := parseObject(content)
	if bad != nil {
		return *bad
	}
	score := firstOf(doc, "score", "adequacy", "adequacyScore")
	if !score.Exists() {
		return Unparseable{Raw: content, Reason: "evaluation has no score"}
	}
	s := int(score.Float() + 0.5)
	if s < 1 {
		s = 1
	}
	if s > 10 {
		s = 10
	}
	return Evaluation{
		Score:          s,
		MissingAspects: util.StringList(firstOf(doc, "missingAspects", "missing_aspects", "gaps")),
		FollowUps:      util.StringList(firstOf(doc, "followUpQuestions", "follow_up_questions", "followUps")),
	}
}

// ParseSummary parses a compressing response.
func ParseSummary(content string) Response {
	doc, bad := parseObject(content)
	if bad != nil {
		return *bad
	}
	text := strings.TrimSpace(firstOf(doc, "summary", "roundSummary").String())
	if text == "" {
		return Unparseable{Raw: content, Reason: "summary is empty"}
	}
	return Summary{Text: text, Perspective: strings.TrimSpace(firstOf(doc, "perspective", "nextPerspective").String())}
}

// ParseReport parses a synthesizing response. Citation ids may be objects
// ({"factId": ...}) or plain strings.
func ParseReport(content string) Response {
	doc, bad := parseObject(content)
	if bad != nil {
		return *bad
	}
	text := strings.TrimSpace(firstOf(doc, "report", "finalReport").String())
	if text == "" {
		return Unparseable{Raw: content, Reason: "report is empty"}
	}
	r := Report{Text: text}
	for _, c := range doc.Get("citations").Array() {
		id := c.String()
		if c.IsObject() {
			id = firstOf(c, "factId", "fact_id", "id").String()
		}
		if id = strings.TrimSpace(id); id != "" {
			r.CitationIDs = append(r.CitationIDs, id)
		}
	}
	return r
}

// CitationMarkers returns the fact ids cited inline as f_xxxxxxxx.
func CitationMarkers(text string) []string {
	return factMarkerRe.FindAllString(text, -1)
}

// StripReasoning removes <think> blocks from model text.
func StripReasoning(text string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(text, ""))
}
