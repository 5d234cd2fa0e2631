package session

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/researchmesh/core"
)

// ErrNotFound is returned when no state is stored under a message id.
var ErrNotFound = errors.New("session not found")

// Summary is the listing view of a stored state.
type Summary struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	Query          string     `json:"query"`
	Phase          core.Phase `json:"phase"`
	Facts          int        `json:"facts"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Summarize builds the Summary of a state.
func Summarize(s core.ResearchState) Summary {
	return Summary{
		MessageID:      s.MessageID,
		ConversationID: s.ConversationID,
		Query:          s.OriginalQuery,
		Phase:          s.Phase,
		Facts:          len(s.GatheredFacts),
		UpdatedAt:      s.UpdatedAt,
	}
}

// Store persists research states keyed by message id.
type Store interface {
	// Save inserts or replaces the state stored under state.MessageID.
	Save(ctx context.Context, state core.ResearchState) error
	// Load returns the stored state or ErrNotFound.
	Load(ctx context.Context, messageID string) (core.ResearchState, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
	// Delete removes a stored state or returns ErrNotFound.
	Delete(ctx context.Context, messageID string) error
}
