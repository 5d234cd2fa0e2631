package core

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Validate checks the structural invariants of a state. It returns all
// violations joined into one error.
func (s ResearchState) Validate() error {
	var errs []error

	if !s.Phase.Valid() {
		errs = append(errs, fmt.Errorf("unknown phase %q", s.Phase))
	}
	if s.MaxSteps > 0 && s.CurrentStep > s.MaxSteps {
		errs = append(errs, fmt.Errorf("currentStep %d exceeds maxSteps %d", s.CurrentStep, s.MaxSteps))
	}
	if s.Phase == PhaseError && s.ErrorMessage == "" {
		errs = append(errs, errors.New("error phase without errorMessage"))
	}

	seen := make(map[string]struct{}, len(s.ResearchPlan))
	active := 0
	for _, q := range s.ResearchPlan {
		if _, dup := seen[q.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate question id %q", q.ID))
		}
		seen[q.ID] = struct{}{}
		switch q.Status {
		case StatusPending, StatusAnswered, StatusBlocked:
		case StatusInProgress:
			active++
		default:
			errs = append(errs, fmt.Errorf("question %q has unknown status %q", q.ID, q.Status))
		}
	}
	if active > 1 {
		errs = append(errs, fmt.Errorf("%d questions in progress", active))
	}

	seen = make(map[string]struct{}, len(s.GatheredFacts))
	for _, f := range s.GatheredFacts {
		if _, dup := seen[f.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate fact id %q", f.ID))
		}
		seen[f.ID] = struct{}{}
		if utf8.RuneCountInString(f.Claim) > MaxClaimLength {
			errs = append(errs, fmt.Errorf("fact %q claim exceeds %d characters", f.ID, MaxClaimLength))
		}
		if f.SourceURL == "" {
			errs = append(errs, fmt.Errorf("fact %q has no source url", f.ID))
		}
	}

	for _, c := range s.Citations {
		if _, ok := seen[c.FactID]; !ok {
			errs = append(errs, fmt.Errorf("citation references unknown fact %q", c.FactID))
		}
	}

	return errors.Join(errs...)
}
