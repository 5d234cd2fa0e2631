package core

import (
	"sort"
	"strings"
	"time"
)

// Phase is one state of the research state machine.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseGathering    Phase = "gathering"
	PhaseEvaluating   Phase = "evaluating"
	PhaseCompressing  Phase = "compressing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
)

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseGathering, PhaseEvaluating, PhaseCompressing, PhaseSynthesizing, PhaseComplete, PhaseError:
		return true
	}
	return false
}

// QuestionStatus is the lifecycle state of a ResearchQuestion.
type QuestionStatus string

const (
	StatusPending    QuestionStatus = "pending"
	StatusInProgress QuestionStatus = "in-progress"
	StatusAnswered   QuestionStatus = "answered"
	StatusBlocked    QuestionStatus = "blocked"
)

// IsTerminal reports whether the status can never change again.
func (s QuestionStatus) IsTerminal() bool {
	return s == StatusAnswered || s == StatusBlocked
}

// IsOpen reports whether the question still needs work.
func (s QuestionStatus) IsOpen() bool {
	return s == StatusPending || s == StatusInProgress
}

// Confidence grades how strongly a source supports a claim.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps free-form model output onto a Confidence, defaulting to medium.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceLow:
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// Weight returns the numeric weight used for fact ranking.
func (c Confidence) Weight() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceLow:
		return 0.3
	default:
		return 0.6
	}
}

// Complexity classifies a query during planning.
type Complexity string

const (
	ComplexitySimple        Complexity = "simple"
	ComplexityMultiFaceted  Complexity = "multi-faceted"
	ComplexityControversial Complexity = "controversial"
)

// ParseComplexity maps free-form model output onto a Complexity, defaulting to simple.
func ParseComplexity(s string) Complexity {
	switch Complexity(strings.ToLower(strings.TrimSpace(s))) {
	case ComplexityMultiFaceted, "multifaceted", "multi_faceted":
		return ComplexityMultiFaceted
	case ComplexityControversial:
		return ComplexityControversial
	default:
		return ComplexitySimple
	}
}

// MaxClaimLength is the maximum number of runes kept in a Fact claim.
const MaxClaimLength = 500

// ResearchQuestion is one sub-question of the research plan.
type ResearchQuestion struct {
	ID                string         `json:"id"`
	Text              string         `json:"text"`
	Status            QuestionStatus `json:"status"`
	Priority          int            `json:"priority"`
	ParentID          string         `json:"parentId,omitempty"`
	Perspective       string         `json:"perspective,omitempty"`
	SupportingFactIDs []string       `json:"supportingFactIds"`
	Answer            string         `json:"answer,omitempty"`
	InProgressSince   *int           `json:"inProgressSince,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// Fact is a verified claim extracted from a tool observation.
type Fact struct {
	ID             string     `json:"id"`
	Claim          string     `json:"claim"`
	SourceURL      string     `json:"sourceUrl"`
	SourceTitle    string     `json:"sourceTitle,omitempty"`
	Confidence     Confidence `json:"confidence"`
	GatheredAtStep int        `json:"gatheredAtStep"`
	QuestionIDs    []string   `json:"questionIds"`
}

// Citation links the final report to a gathered fact.
type Citation struct {
	FactID      string `json:"factId"`
	SourceURL   string `json:"sourceUrl"`
	SourceTitle string `json:"sourceTitle,omitempty"`
}

// Perspective is a research angle declared during planning.
type Perspective struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoundSummary is the compressed narrative of one research round. It is
// immutable once appended to the state.
type RoundSummary struct {
	Round       int       `json:"round"`
	Summary     string    `json:"summary"`
	Perspective string    `json:"perspective,omitempty"`
	FactCount   int       `json:"factCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SearchRecord remembers an executed search query for duplicate detection.
type SearchRecord struct {
	Query string `json:"query"`
	Step  int    `json:"step"`
	Round int    `json:"round"`
}

// ActivityEntry is one line of the research activity log.
type ActivityEntry struct {
	Step    int       `json:"step"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Evaluation is the parsed outcome of the most recent evaluating step.
type Evaluation struct {
	Score             int      `json:"score"`
	AdjustedScore     int      `json:"adjustedScore"`
	MissingAspects    []string `json:"missingAspects,omitempty"`
	FollowUpQuestions []string `json:"followUpQuestions,omitempty"`
	Ready             bool     `json:"ready"`
}

// TokenUsage accumulates model token counts across a run.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add returns the sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ResearchState is the serializable scratchpad of a research session.
//
// The JSON shape is provider-agnostic and is what persistence collaborators
// store. PendingObservations is ephemeral and never serialized.
type ResearchState struct {
	OriginalQuery  string     `json:"originalQuery"`
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`

	CurrentHypothesis  string             `json:"currentHypothesis"`
	ResearchPlan       []ResearchQuestion `json:"researchPlan"`
	GatheredFacts      []Fact             `json:"gatheredFacts"`
	Complexity         Complexity         `json:"complexity,omitempty"`
	Perspectives       []Perspective      `json:"perspectives,omitempty"`
	CurrentPerspective string             `json:"currentPerspective,omitempty"`
	RoundSummaries     []RoundSummary     `json:"roundSummaries,omitempty"`

	CurrentStep    int `json:"currentStep"`
	MaxSteps       int `json:"maxSteps"`
	LoopIterations int `json:"loopIterations"`
	CurrentRound   int `json:"currentRound"`
	MaxRounds      int `json:"maxRounds"`
	RoundStartStep int `json:"roundStartStep"`

	Phase          Phase    `json:"phase"`
	KnowledgeGaps  []string `json:"knowledgeGaps"`
	Contradictions []string `json:"contradictions"`

	SearchHistory  []SearchRecord  `json:"searchHistory,omitempty"`
	ActivityLog    []ActivityEntry `json:"activityLog,omitempty"`
	LastReasoning  string          `json:"lastReasoning,omitempty"`
	LastEvaluation *Evaluation     `json:"lastEvaluation,omitempty"`

	PendingObservations []Observation `json:"-"`

	FinalReport *string    `json:"finalReport"`
	Citations   []Citation `json:"citations"`

	ConsecutiveUnproductiveSteps int `json:"consecutiveUnproductiveSteps"`
	ConsecutiveTextOnlySteps     int `json:"consecutiveTextOnlySteps"`
	StepsOnCurrentFocus          int `json:"stepsOnCurrentFocus"`

	IsManualTermination bool       `json:"isManualTermination"`
	Cancelled           bool       `json:"cancelled,omitempty"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
	Usage               TokenUsage `json:"usage"`
}

// NewResearchState creates the initial planning-phase state for a query.
func NewResearchState(query, messageID, conversationID string, maxSteps, maxRounds int) ResearchState {
	now := time.Now().UTC()
	return ResearchState{
		OriginalQuery:  strings.TrimSpace(query),
		MessageID:      messageID,
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ResearchPlan:   []ResearchQuestion{},
		GatheredFacts:  []Fact{},
		MaxSteps:       maxSteps,
		MaxRounds:      maxRounds,
		CurrentRound:   1,
		Phase:          PhasePlanning,
		KnowledgeGaps:  []string{},
		Contradictions: []string{},
		Citations:      []Citation{},
	}
}

// Clone returns a deep copy of the state. Slices, nested slices and pointer
// fields are copied so the result shares no memory with s.
func (s ResearchState) Clone() ResearchState {
	c := s

	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.FinalReport != nil {
		r := *s.FinalReport
		c.FinalReport = &r
	}
	if s.LastEvaluation != nil {
		e := *s.LastEvaluation
		e.MissingAspects = cloneStrings(s.LastEvaluation.MissingAspects)
		e.FollowUpQuestions = cloneStrings(s.LastEvaluation.FollowUpQuestions)
		c.LastEvaluation = &e
	}

	if s.ResearchPlan != nil {
		c.ResearchPlan = make([]ResearchQuestion, len(s.ResearchPlan))
		for i, q := range s.ResearchPlan {
			c.ResearchPlan[i] = q.Clone()
		}
	}
	if s.GatheredFacts != nil {
		c.GatheredFacts = make([]Fact, len(s.GatheredFacts))
		for i, f := range s.GatheredFacts {
			c.GatheredFacts[i] = f.Clone()
		}
	}
	if s.PendingObservations != nil {
		c.PendingObservations = make([]Observation, len(s.PendingObservations))
		for i, o := range s.PendingObservations {
			c.PendingObservations[i] = o.Clone()
		}
	}

	c.Perspectives = cloneSlice(s.Perspectives)
	c.RoundSummaries = cloneSlice(s.RoundSummaries)
	c.KnowledgeGaps = cloneStrings(s.KnowledgeGaps)
	c.Contradictions = cloneStrings(s.Contradictions)
	c.SearchHistory = cloneSlice(s.SearchHistory)
	c.ActivityLog = cloneSlice(s.ActivityLog)
	c.Citations = cloneSlice(s.Citations)

	return c
}

// Clone returns a deep copy of the question.
func (q ResearchQuestion) Clone() ResearchQuestion {
	c := q
	c.SupportingFactIDs = cloneStrings(q.SupportingFactIDs)
	if q.InProgressSince != nil {
		v := *q.InProgressSince
		c.InProgressSince = &v
	}
	return c
}

// Clone returns a deep copy of the fact.
func (f Fact) Clone() Fact {
	c := f
	c.QuestionIDs = cloneStrings(f.QuestionIDs)
	return c
}

func cloneStrings(in []string) []string {
	return cloneSlice(in)
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Touch updates the modification timestamp.
func (s *ResearchState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Finish moves the state into a terminal phase.
func (s *ResearchState) Finish(phase Phase, errMsg string) {
	now := time.Now().UTC()
	s.Phase = phase
	s.ErrorMessage = errMsg
	s.CompletedAt = &now
	s.UpdatedAt = now
	s.PendingObservations = nil
}

// SetReport stores the final report text.
func (s *ResearchState) SetReport(report string) {
	s.FinalReport = &report
}

// QuestionIndex returns the plan index of the question with id, or -1.
func (s ResearchState) QuestionIndex(id string) int {
	for i := range s.ResearchPlan {
		if s.ResearchPlan[i].ID == id {
			return i
		}
	}
	return -1
}

// FactIndex returns the index of the fact with id, or -1.
func (s ResearchState) FactIndex(id string) int {
	for i := range s.GatheredFacts {
		if s.GatheredFacts[i].ID == id {
			return i
		}
	}
	return -1
}

// ActiveQuestionIndex returns the index of the in-progress question, or -1.
func (s ResearchState) ActiveQuestionIndex() int {
	for i := range s.ResearchPlan {
		if s.ResearchPlan[i].Status == StatusInProgress {
			return i
		}
	}
	return -1
}

// ActiveQuestion returns the in-progress question, if any.
func (s ResearchState) ActiveQuestion() (ResearchQuestion, bool) {
	if i := s.ActiveQuestionIndex(); i >= 0 {
		return s.ResearchPlan[i], true
	}
	return ResearchQuestion{}, false
}

// CountByStatus returns how many plan questions are in the given status.
func (s ResearchState) CountByStatus(status QuestionStatus) int {
	n := 0
	for _, q := range s.ResearchPlan {
		if q.Status == status {
			n++
		}
	}
	return n
}

// HasOpenQuestions reports whether any question is pending or in progress.
func (s ResearchState) HasOpenQuestions() bool {
	for _, q := range s.ResearchPlan {
		if q.Status.IsOpen() {
			return true
		}
	}
	return false
}

// MinPriority returns the smallest (most important) priority in the plan, or 1
// for an empty plan.
func (s ResearchState) MinPriority() int {
	if len(s.ResearchPlan) == 0 {
		return 1
	}
	min := s.ResearchPlan[0].Priority
	for _, q := range s.ResearchPlan[1:] {
		if q.Priority < min {
			min = q.Priority
		}
	}
	return min
}

// MaxPriority returns the largest (least important) priority in the plan, or 0
// for an empty plan.
func (s ResearchState) MaxPriority() int {
	max := 0
	for _, q := range s.ResearchPlan {
		if q.Priority > max {
			max = q.Priority
		}
	}
	return max
}

// SortedPlan returns plan indexes ordered by priority, then creation order.
// Prompt numbering and answer resolution both use this order.
func (s ResearchState) SortedPlan() []int {
	idx := make([]int, len(s.ResearchPlan))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.ResearchPlan[idx[a]].Priority < s.ResearchPlan[idx[b]].Priority
	})
	return idx
}

// ProtectedFactIDs returns the IDs of facts referenced by an answered or
// in-progress question, or by a citation.
func (s ResearchState) ProtectedFactIDs() map[string]struct{} {
	protected := make(map[string]struct{})
	for _, q := range s.ResearchPlan {
		if q.Status != StatusAnswered && q.Status != StatusInProgress {
			continue
		}
		for _, id := range q.SupportingFactIDs {
			protected[id] = struct{}{}
		}
	}
	for _, c := range s.Citations {
		protected[c.FactID] = struct{}{}
	}
	return protected
}

// ReferenceCount returns how many questions list factID as supporting evidence.
func (s ResearchState) ReferenceCount(factID string) int {
	n := 0
	for _, q := range s.ResearchPlan {
		for _, id := range q.SupportingFactIDs {
			if id == factID {
				n++
				break
			}
		}
	}
	return n
}

// AddGap appends a knowledge gap unless an equal one (case-insensitive) exists.
func (s *ResearchState) AddGap(gap string) bool {
	gap = strings.TrimSpace(gap)
	if gap == "" {
		return false
	}
	for _, g := range s.KnowledgeGaps {
		if strings.EqualFold(g, gap) {
			return false
		}
	}
	s.KnowledgeGaps = append(s.KnowledgeGaps, gap)
	return true
}

// LogActivity appends an activity entry stamped with the current step.
func (s *ResearchState) LogActivity(kind, message string) {
	s.ActivityLog = append(s.ActivityLog, ActivityEntry{
		Step:    s.CurrentStep,
		Kind:    kind,
		Message: message,
		Time:    time.Now().UTC(),
	})
}

// AdvanceStep increments CurrentStep without exceeding MaxSteps.
func (s *ResearchState) AdvanceStep() {
	if s.MaxSteps <= 0 || s.CurrentStep < s.MaxSteps {
		s.CurrentStep++
	}
}

// StepsInRound returns how many steps the current round has consumed.
func (s ResearchState) StepsInRound() int {
	return s.CurrentStep - s.RoundStartStep
}

// ResetFocusCounters clears the per-question productivity counters.
func (s *ResearchState) ResetFocusCounters() {
	s.ConsecutiveUnproductiveSteps = 0
	s.ConsecutiveTextOnlySteps = 0
	s.StepsOnCurrentFocus = 0
}

// StartQuestion marks the question at index i in-progress at the current step.
func (s *ResearchState) StartQuestion(i int) {
	step := s.CurrentStep
	s.ResearchPlan[i].Status = StatusInProgress
	s.ResearchPlan[i].InProgressSince = &step
	s.ResetFocusCounters()
}

// BlockQuestion marks the question at index i blocked. Terminal questions are
// left untouched. It reports whether the status changed.
func (s *ResearchState) BlockQuestion(i int) bool {
	if s.ResearchPlan[i].Status.IsTerminal() {
		return false
	}
	wasActive := s.ResearchPlan[i].Status == StatusInProgress
	s.ResearchPlan[i].Status = StatusBlocked
	if wasActive {
		s.ResetFocusCounters()
	}
	return true
}

// AnswerQuestion marks the question at index i answered. Terminal questions
// are left untouched. It reports whether the status changed.
func (s *ResearchState) AnswerQuestion(i int, answer string, factIDs []string) bool {
	if s.ResearchPlan[i].Status.IsTerminal() {
		return false
	}
	wasActive := s.ResearchPlan[i].Status == StatusInProgress
	s.ResearchPlan[i].Status = StatusAnswered
	s.ResearchPlan[i].Answer = strings.TrimSpace(answer)
	s.ResearchPlan[i].SupportingFactIDs = mergeIDs(s.ResearchPlan[i].SupportingFactIDs, factIDs)
	if wasActive {
		s.ResetFocusCounters()
	}
	return true
}

func mergeIDs(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range src {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}

// LinkFact adds factID to the supporting facts of the question at index i.
func (s *ResearchState) LinkFact(i int, factID string) {
	s.ResearchPlan[i].SupportingFactIDs = mergeIDs(s.ResearchPlan[i].SupportingFactIDs, []string{factID})
}

// FactsForQuestion returns the facts that support the given question, either
// through the question's own references or the fact's question IDs.
func (s ResearchState) FactsForQuestion(id string) []Fact {
	i := s.QuestionIndex(id)
	refs := map[string]struct{}{}
	if i >= 0 {
		for _, fid := range s.ResearchPlan[i].SupportingFactIDs {
			refs[fid] = struct{}{}
		}
	}
	var out []Fact
	for _, f := range s.GatheredFacts {
		if _, ok := refs[f.ID]; ok {
			out = append(out, f)
			continue
		}
		for _, qid := range f.QuestionIDs {
			if qid == id {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
