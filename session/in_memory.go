package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/researchmesh/core"
)

// InMemoryStore is a volatile Store keeping states in a process local map.
// It is safe for concurrent access and best suited for tests or ephemeral
// runs. States are cloned on the way in and out to prevent external mutation
// of stored data.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]core.ResearchState
	saves  int
}

// NewInMemoryStore constructs an empty in‑memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[string]core.ResearchState)}
}

// Save stores a clone of state.
func (s *InMemoryStore) Save(ctx context.Context, state core.ResearchState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state.MessageID == "" {
		return fmt.Errorf("save: empty message id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.MessageID] = state.Clone()
	s.saves++
	return nil
}

// Load returns a clone of the stored state.
func (s *InMemoryStore) Load(_ context.Context, messageID string) (core.ResearchState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[messageID]
	if !ok {
		return core.ResearchState{}, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	return st.Clone(), nil
}

// List returns summaries of all states, most recently updated first.
func (s *InMemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, Summarize(st))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes a stored state.
func (s *InMemoryStore) Delete(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[messageID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	delete(s.states, messageID)
	return nil
}

// Saves returns how many times Save succeeded.
func (s *InMemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
