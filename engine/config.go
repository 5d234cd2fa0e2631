package engine

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the tuning constants of the research loop.
type Config struct {
	// MaxSteps is the hard step ceiling; each main model call is one step.
	MaxSteps int
	// MaxRounds is the number of research rounds.
	MaxRounds int
	// MaxLoopIterations is the absolute iteration ceiling. Zero derives it as
	// max(100, 3*MaxSteps).
	MaxLoopIterations int
	// MaxFacts is the retention ceiling for fact pruning.
	MaxFacts int
	// MaxParallelTools bounds concurrent tool calls within one turn.
	MaxParallelTools int
	ToolTimeout      time.Duration
	BatchTimeout     time.Duration

	SimilarityThreshold float64
	NumericDivergence   float64

	// MinFactsForSynthesis gates the request_synthesis tool.
	MinFactsForSynthesis int
	// UnproductiveLimit blocks the active question after this many
	// consecutive unproductive steps.
	UnproductiveLimit int
	// TextOnlyLimit folds this many text-only responses into one
	// unproductive step.
	TextOnlyLimit int
	// MaxStepsPerQuestion blocks a question that stayed in progress this long.
	MaxStepsPerQuestion int

	// RoundSoftLanding is the share of a round's step allocation after which
	// gathering moves on to evaluation.
	RoundSoftLanding float64
	// GlobalSoftLandingMargin forces synthesis this many steps before MaxSteps.
	GlobalSoftLandingMargin int
	ReadinessThreshold      int

	// ContextTokenBudget is the token ceiling of one main request.
	ContextTokenBudget int
	PersistDebounce    time.Duration
	// MaxModelCalls caps all model calls of a run, auxiliary ones included.
	// Zero disables the cap.
	MaxModelCalls int
}

// DefaultConfig returns the default loop constants.
func DefaultConfig() Config {
	return Config{
		MaxSteps:                30,
		MaxRounds:               3,
		MaxFacts:                60,
		MaxParallelTools:        3,
		ToolTimeout:             30 * time.Second,
		BatchTimeout:            2 * time.Minute,
		SimilarityThreshold:     0.7,
		NumericDivergence:       0.10,
		MinFactsForSynthesis:    3,
		UnproductiveLimit:       3,
		TextOnlyLimit:           3,
		MaxStepsPerQuestion:     8,
		RoundSoftLanding:        0.8,
		GlobalSoftLandingMargin: 2,
		ReadinessThreshold:      7,
		ContextTokenBudget:      6000,
		PersistDebounce:         500 * time.Millisecond,
	}
}

// Validate reports every invalid value.
func (c Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"max steps", c.MaxSteps},
		{"max rounds", c.MaxRounds},
		{"max parallel tools", c.MaxParallelTools},
		{"unproductive limit", c.UnproductiveLimit},
		{"text-only limit", c.TextOnlyLimit},
		{"max steps per question", c.MaxStepsPerQuestion},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", f.name, f.v))
		}
	}
	if c.MaxLoopIterations < 0 || c.MaxFacts < 0 || c.MinFactsForSynthesis < 0 || c.MaxModelCalls < 0 ||
		c.GlobalSoftLandingMargin < 0 || c.ContextTokenBudget < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if c.ToolTimeout <= 0 || c.BatchTimeout <= 0 {
		errs = append(errs, errors.New("tool and batch timeouts must be positive"))
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity threshold must be in (0,1], got %v", c.SimilarityThreshold))
	}
	if c.NumericDivergence < 0 {
		errs = append(errs, fmt.Errorf("numeric divergence must not be negative, got %v", c.NumericDivergence))
	}
	if c.RoundSoftLanding <= 0 || c.RoundSoftLanding > 1 {
		errs = append(errs, fmt.Errorf("round soft landing must be in (0,1], got %v", c.RoundSoftLanding))
	}
	if c.ReadinessThreshold < 1 || c.ReadinessThreshold > 10 {
		errs = append(errs, fmt.Errorf("readiness threshold must be in 1..10, got %d", c.ReadinessThreshold))
	}
	return errors.Join(errs...)
}

// LoopCeiling returns the iteration ceiling for a run with maxSteps steps.
func (c Config) LoopCeiling(maxSteps int) int {
	if c.MaxLoopIterations > 0 {
		return c.MaxLoopIterations
	}
	if n := 3 * maxSteps; n > 100 {
		return n
	}
	return 100
}

// RoundAllocation returns ceil(maxSteps / maxRounds).
func RoundAllocation(maxSteps, maxRounds int) int {
	if maxRounds <= 0 {
		return maxSteps
	}
	return (maxSteps + maxRounds - 1) / maxRounds
}

// roundSoftLimit is the step count within a round that triggers the round
// soft landing.
func (c Config) roundSoftLimit(maxSteps, maxRounds int) int {
	n := int(math.Ceil(c.RoundSoftLanding * float64(RoundAllocation(maxSteps, maxRounds))))
	if n < 1 {
		n = 1
	}
	return n
}
