package testutil

import (
	"fmt"
	"time"

	"github.com/hupe1980/researchmesh/core"
)

// StateBuilder helps construct research states with fluent chaining.
// Example:
//
//	st := NewStateBuilder("Compare X and Y").Phase(core.PhaseGathering).Question("What is X?").Build()
//
// Question and fact ids are deterministic (q_00000001, f_00000001, ...).
type StateBuilder struct {
	state core.ResearchState
	nq    int
	nf    int
}

// NewStateBuilder creates a builder for a planning-phase state with 30 steps
// and 3 rounds.
func NewStateBuilder(query string) *StateBuilder {
	return &StateBuilder{state: core.NewResearchState(query, "msg-1", "conv-1", 30, 3)}
}

// Phase sets the phase (chainable).
func (b *StateBuilder) Phase(p core.Phase) *StateBuilder { b.state.Phase = p; return b }

// Step sets the current step (chainable).
func (b *StateBuilder) Step(n int) *StateBuilder { b.state.CurrentStep = n; return b }

// Round sets the current round (chainable).
func (b *StateBuilder) Round(n int) *StateBuilder { b.state.CurrentRound = n; return b }

// Budget sets the step and round ceilings (chainable).
func (b *StateBuilder) Budget(maxSteps, maxRounds int) *StateBuilder {
	b.state.MaxSteps, b.state.MaxRounds = maxSteps, maxRounds
	return b
}

// Complexity sets the complexity and declares perspectives (chainable).
func (b *StateBuilder) Complexity(c core.Complexity, perspectives ...string) *StateBuilder {
	b.state.Complexity = c
	for _, p := range perspectives {
		b.state.Perspectives = append(b.state.Perspectives, core.Perspective{Name: p})
	}
	if len(perspectives) > 0 {
		b.state.CurrentPerspective = perspectives[0]
	}
	return b
}

// Question appends a pending question with the next priority (chainable).
func (b *StateBuilder) Question(text string) *StateBuilder {
	return b.QuestionWith(text, core.StatusPending, "")
}

// QuestionWith appends a question with the given status and perspective (chainable).
func (b *StateBuilder) QuestionWith(text string, status core.QuestionStatus, perspective string) *StateBuilder {
	b.nq++
	q := core.ResearchQuestion{
		ID:                fmt.Sprintf("q_%08d", b.nq),
		Text:              text,
		Status:            status,
		Priority:          b.nq,
		Perspective:       perspective,
		SupportingFactIDs: []string{},
		CreatedAt:         time.Unix(int64(b.nq), 0).UTC(),
	}
	if status == core.StatusInProgress {
		step := b.state.CurrentStep
		q.InProgressSince = &step
	}
	b.state.ResearchPlan = append(b.state.ResearchPlan, q)
	return b
}

// Fact appends a fact for the given questions (chainable).
func (b *StateBuilder) Fact(claim, url string, questionIDs ...string) *StateBuilder {
	b.nf++
	b.state.GatheredFacts = append(b.state.GatheredFacts, core.Fact{
		ID:             fmt.Sprintf("f_%08d", b.nf),
		Claim:          claim,
		SourceURL:      url,
		Confidence:     core.ConfidenceMedium,
		GatheredAtStep: b.state.CurrentStep,
		QuestionIDs:    append([]string{}, questionIDs...),
	})
	return b
}

// Link adds a fact id to a question's supporting facts (chainable).
func (b *StateBuilder) Link(questionID, factID string) *StateBuilder {
	if i := b.state.QuestionIndex(questionID); i >= 0 {
		b.state.LinkFact(i, factID)
	}
	return b
}

// Search records an executed search (chainable).
func (b *StateBuilder) Search(query string, round int) *StateBuilder {
	b.state.SearchHistory = append(b.state.SearchHistory, core.SearchRecord{Query: query, Step: b.state.CurrentStep, Round: round})
	return b
}

// Mutate applies fn to the state under construction (chainable).
func (b *StateBuilder) Mutate(fn func(s *core.ResearchState)) *StateBuilder {
	fn(&b.state)
	return b
}

// Build returns a copy of the constructed state.
func (b *StateBuilder) Build() core.ResearchState {
	return b.state.Clone()
}
