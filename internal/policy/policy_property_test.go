package policy

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"epl-engine/internal/config"
	"epl-engine/internal/ledger"
	"epl-engine/internal/models"
)

// evalParams is the generator payload for randomized evaluations.
type evalParams struct {
	Confidence float64
	Strength   float64
	Quality    float64
	Volatility float64
	Liquidity  float64
	Oscillator float64
	Buy        bool
	HasPos     bool
	PosBuy     bool
	PosConf    float64
	PnL        float64
}

func evalParamsGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(evalParams{}), map[string]gopter.Gen{
		"Confidence": gen.Float64Range(0, 1),
		"Strength":   gen.Float64Range(0, 1),
		"Quality":    gen.Float64Range(0, 1),
		"Volatility": gen.Float64Range(0, 0.1),
		"Liquidity":  gen.Float64Range(0, 1),
		"Oscillator": gen.Float64Range(0, 100),
		"Buy":        gen.Bool(),
		"HasPos":     gen.Bool(),
		"PosBuy":     gen.Bool(),
		"PosConf":    gen.Float64Range(0.1, 1),
		"PnL":        gen.Float64Range(-0.1, 0.1),
	})
}

func (p evalParams) candidate() models.SignalCandidate {
	direction := models.DirectionSell
	if p.Buy {
		direction = models.DirectionBuy
	}
	return models.SignalCandidate{
		ID:        "prop-candidate",
		Symbol:    "BTCUSDT",
		Direction: direction,
		Strength:  p.Strength,

		Confidence: p.Confidence,
		Quality:    p.Quality,
		Timestamp:  time.Now(),
		Technical: models.TechnicalSnapshot{
			Price:         50000,
			ATR:           800,
			TrendStrength: 0.6,
			Oscillator:    p.Oscillator,
		},
		Market: models.MarketSnapshot{
			Volatility: p.Volatility,
			Liquidity:  p.Liquidity,
		},
	}
}

func (p evalParams) positions() []models.PositionInfo {
	if !p.HasPos {
		return nil
	}
	direction := models.DirectionSell
	if p.PosBuy {
		direction = models.DirectionBuy
	}
	return []models.PositionInfo{{
		Symbol:        "BTCUSDT",
		Direction:     direction,
		Size:          0.1,
		EntryPrice:    50000,
		EntryTime:     time.Now().Add(-30 * time.Minute),
		Confidence:    p.PosConf,
		Strength:      0.7,
		UnrealizedPnL: p.PnL,
	}}
}

// Property: every evaluation returns exactly one decision variant, and
// execution parameters are populated iff the decision is actionable.
func TestProperty_ExactlyOneDecisionWithParamsIffActionable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	valid := map[models.EPLDecision]bool{
		models.ReplacePosition:    true,
		models.StrengthenPosition: true,
		models.CreateNewPosition:  true,
		models.IgnoreSignal:       true,
	}

	properties.Property("exactly one decision, params iff actionable", prop.ForAll(
		func(p evalParams) bool {
			c, err := NewCoordinator(config.Default(), zerolog.Nop(),
				ledger.NewMemoryLedgerWith(p.positions()), nil, nil, nil)
			if err != nil {
				return false
			}
			defer c.Close()

			result := c.Evaluate(context.Background(), p.candidate(),
				models.RiskMetrics{Capital: 200000}, models.MarketContext{})

			if !valid[result.Decision] {
				return false
			}
			if result.Decision == models.IgnoreSignal {
				return result.Execution == nil
			}
			return result.Execution != nil
		},
		evalParamsGen(),
	))

	properties.TestingRun(t)
}

// Property: decision scores and confidences always stay within the unit
// interval, for the final result and every engine vote.
func TestProperty_ScoresAndConfidencesWithinUnitRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	cfg := config.Default()
	engines := []Engine{
		NewReplacementEngine(cfg.Engines.Replacement),
		NewStrengtheningEngine(cfg.Engines.Strengthening),
		NewNewPositionEngine(cfg.Engines.NewPosition),
		NewIgnoreEngine(cfg.Engines.Ignore),
	}

	properties.Property("unit-range scores and confidences", prop.ForAll(
		func(p evalParams) bool {
			in := EvalInput{
				Candidate: p.candidate(),
				Positions: p.positions(),
				Metrics:   models.RiskMetrics{Capital: 200000},
				Now:       time.Now(),
			}
			if positions := p.positions(); len(positions) > 0 {
				in.Position = &positions[0]
			}

			for _, engine := range engines {
				vote := engine.Evaluate(context.Background(), in)
				if vote.Err != nil {
					continue
				}
				if vote.Score < 0 || vote.Score > 1 {
					return false
				}
				if vote.Confidence < 0 || vote.Confidence > 1 {
					return false
				}
			}
			return true
		},
		evalParamsGen(),
	))

	properties.TestingRun(t)
}

// Property: evaluating the same input twice yields an identical vote.
// Engines are pure functions of their input.
func TestProperty_EngineEvaluationIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	cfg := config.Default()
	engines := []Engine{
		NewReplacementEngine(cfg.Engines.Replacement),
		NewStrengtheningEngine(cfg.Engines.Strengthening),
		NewNewPositionEngine(cfg.Engines.NewPosition),
		NewIgnoreEngine(cfg.Engines.Ignore),
	}

	properties.Property("repeat evaluation is identical", prop.ForAll(
		func(p evalParams) bool {
			in := EvalInput{
				Candidate: p.candidate(),
				Positions: p.positions(),
				Metrics:   models.RiskMetrics{Capital: 200000},
				Now:       time.Now(),
			}
			if positions := p.positions(); len(positions) > 0 {
				in.Position = &positions[0]
			}

			for _, engine := range engines {
				first := engine.Evaluate(context.Background(), in)
				second := engine.Evaluate(context.Background(), in)
				if first.Accepted != second.Accepted ||
					first.Score != second.Score ||
					first.Confidence != second.Confidence ||
					first.Override != second.Override ||
					first.Reason != second.Reason {
					return false
				}
			}
			return true
		},
		evalParamsGen(),
	))

	properties.TestingRun(t)
}

// Property: holding all else fixed, increasing candidate confidence never
// decreases an engine's score.
func TestProperty_ScoreMonotoneInCandidateConfidence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	cfg := config.Default()

	position := models.PositionInfo{
		Symbol:        "BTCUSDT",
		Direction:     models.DirectionBuy,
		Size:          0.1,
		EntryPrice:    50000,
		EntryTime:     time.Now().Add(-30 * time.Minute),
		Confidence:    0.50,
		Strength:      0.60,
		UnrealizedPnL: 0.01,
	}

	scoreAt := func(engine Engine, direction models.Direction, confidence float64) float64 {
		candidate := models.SignalCandidate{
			ID:                   "mono-candidate",
			Symbol:               "BTCUSDT",
			Direction:            direction,
			Strength:             0.70,
			Confidence:           confidence,
			Quality:              0.85,
			Timestamp:            time.Now(),
			ReplacementCandidate: true,
			Technical: models.TechnicalSnapshot{
				Price:         50000,
				ATR:           800,
				TrendStrength: 0.6,
				Oscillator:    70,
			},
			Market: models.MarketSnapshot{
				Volatility: 0.03,
				Liquidity:  0.7,
			},
		}
		in := EvalInput{
			Candidate: candidate,
			Position:  &position,
			Metrics:   models.RiskMetrics{Capital: 200000},
			Now:       time.Now(),
		}
		return engine.Evaluate(context.Background(), in).Score
	}

	// Confidence ranges where every gate passes, so the score is actually
	// computed rather than short-circuited.
	cases := []struct {
		name      string
		engine    Engine
		direction models.Direction
		minConf   float64
	}{
		{"replacement", NewReplacementEngine(cfg.Engines.Replacement), models.DirectionSell, 0.65},
		{"strengthening", NewStrengtheningEngine(cfg.Engines.Strengthening), models.DirectionBuy, 0.58},
		{"new_position", NewNewPositionEngine(cfg.Engines.NewPosition), models.DirectionBuy, 0.0},
	}

	for _, tc := range cases {
		tc := tc
		properties.Property(tc.name+" score monotone in confidence", prop.ForAll(
			func(c1, c2 float64) bool {
				lo, hi := c1, c2
				if lo > hi {
					lo, hi = hi, lo
				}
				return scoreAt(tc.engine, tc.direction, lo) <= scoreAt(tc.engine, tc.direction, hi)+1e-9
			},
			gen.Float64Range(tc.minConf, 1),
			gen.Float64Range(tc.minConf, 1),
		))
	}

	properties.TestingRun(t)
}

// Property: a failing risk gate forces the ignore decision regardless of
// the winning engine's raw score.
func TestProperty_RiskGateFailureForcesIgnore(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("VaR breach forces ignore", prop.ForAll(
		func(p evalParams, varLevel float64) bool {
			c, err := NewCoordinator(config.Default(), zerolog.Nop(),
				ledger.NewMemoryLedgerWith(p.positions()), nil, nil, nil)
			if err != nil {
				return false
			}
			defer c.Close()

			result := c.Evaluate(context.Background(), p.candidate(),
				models.RiskMetrics{Capital: 200000, DailyVaR: varLevel}, models.MarketContext{})

			return result.Decision == models.IgnoreSignal && result.Execution == nil
		},
		evalParamsGen(),
		gen.Float64Range(0.051, 0.2),
	))

	properties.TestingRun(t)
}
