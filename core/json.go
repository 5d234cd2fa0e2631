package core

import (
	"encoding/json"
	"fmt"
)

// MarshalState encodes a state into its storage JSON document.
func MarshalState(s ResearchState) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal research state: %w", err)
	}
	return b, nil
}

// UnmarshalState decodes a storage JSON document. Nil slices are normalized to
// empty ones so a decoded state behaves like a freshly created one.
func UnmarshalState(data []byte) (ResearchState, error) {
	var s ResearchState
	if err := json.Unmarshal(data, &s); err != nil {
		return ResearchState{}, fmt.Errorf("unmarshal research state: %w", err)
	}
	if s.ResearchPlan == nil {
		s.ResearchPlan = []ResearchQuestion{}
	}
	if s.GatheredFacts == nil {
		s.GatheredFacts = []Fact{}
	}
	if s.KnowledgeGaps == nil {
		s.KnowledgeGaps = []string{}
	}
	if s.Contradictions == nil {
		s.Contradictions = []string{}
	}
	if s.Citations == nil {
		s.Citations = []Citation{}
	}
	return s, nil
}
