// Package policy implements the execution policy layer: the scenario
// router, the four scenario decision engines and the coordinator that
// reconciles their votes into exactly one disposition per candidate.
package policy

import (
	"context"
	"time"

	"epl-engine/internal/models"
)

// Scenario tags one of the mutually-aware evaluation paths.
type Scenario string

const (
	ScenarioReplacement   Scenario = "REPLACEMENT"
	ScenarioStrengthening Scenario = "STRENGTHENING"
	ScenarioNewPosition   Scenario = "NEW_POSITION"
	ScenarioIgnore        Scenario = "IGNORE"
)

// Decision maps a scenario to its decision variant.
func (s Scenario) Decision() models.EPLDecision {
	switch s {
	case ScenarioReplacement:
		return models.ReplacePosition
	case ScenarioStrengthening:
		return models.StrengthenPosition
	case ScenarioNewPosition:
		return models.CreateNewPosition
	default:
		return models.IgnoreSignal
	}
}

// EvalInput is the immutable input shared by all engines evaluating one
// candidate. Engines read it concurrently and never modify it.
type EvalInput struct {
	Candidate models.SignalCandidate

	// Position is the open position for the candidate's symbol, nil when
	// none exists.
	Position  *models.PositionInfo
	Positions []models.PositionInfo

	Metrics models.RiskMetrics
	Market  models.MarketContext
	Now     time.Time
}

// Vote is one engine's verdict on a candidate. A non-nil Err marks an
// explicit could-not-evaluate outcome; Score and Accepted are then
// meaningless and the coordinator skips the vote.
type Vote struct {
	Scenario   Scenario
	Accepted   bool
	Score      float64 // 0..1
	Confidence float64 // 0..1
	Reasons    []string
	Execution  *models.ExecutionParams
	Err        error

	// Referee fields, set only by the ignore engine.
	Override    bool
	Reason      models.IgnoreReason
	Suggestions []string
}

// Engine is the capability every scenario decision engine implements.
// Evaluate must be a pure function of its input: no side effects, no
// shared mutable state.
type Engine interface {
	Scenario() Scenario
	Evaluate(ctx context.Context, in EvalInput) Vote
}

// Registry holds the fixed set of scenario engines keyed by tag. Adding a
// scenario means registering one more engine, not touching the
// coordinator.
type Registry struct {
	engines map[Scenario]Engine
}

// NewRegistry builds a registry from the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[Scenario]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Scenario()] = e
	}
	return r
}

// Get returns the engine registered for a scenario.
func (r *Registry) Get(s Scenario) (Engine, bool) {
	e, ok := r.engines[s]
	return e, ok
}
