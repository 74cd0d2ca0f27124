package policy

import (
	"context"
	"fmt"

	"epl-engine/internal/config"
	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
	"epl-engine/pkg/utils"
)

// Correlation stand-ins used when no return series are available: same
// instrument class implies strong co-movement.
const (
	sameClassCorrelation  = 0.80
	crossClassCorrelation = 0.20
)

// NewPositionEngine decides whether a candidate justifies opening a fresh
// position. It is reachable only when no position exists for the symbol.
type NewPositionEngine struct {
	cfg config.NewPositionConfig
}

// NewNewPositionEngine creates the new-position engine.
func NewNewPositionEngine(cfg config.NewPositionConfig) *NewPositionEngine {
	return &NewPositionEngine{cfg: cfg}
}

// Scenario returns the engine's scenario tag.
func (e *NewPositionEngine) Scenario() Scenario { return ScenarioNewPosition }

// Evaluate gates and scores the new-position scenario.
func (e *NewPositionEngine) Evaluate(_ context.Context, in EvalInput) Vote {
	vote := Vote{Scenario: ScenarioNewPosition}
	c := in.Candidate

	var failed []string
	if c.Quality < e.cfg.MinQuality {
		failed = append(failed, fmt.Sprintf(
			"quality %.3f below %.2f", c.Quality, e.cfg.MinQuality))
	}
	if len(in.Positions) >= e.cfg.MaxPositions {
		failed = append(failed, fmt.Sprintf(
			"portfolio at capacity (%d of %d positions)", len(in.Positions), e.cfg.MaxPositions))
	}
	if len(failed) > 0 {
		vote.Reasons = failed
		return vote
	}

	if c.Technical.Price <= 0 {
		vote.Err = eplerrors.NewEngineError(string(ScenarioNewPosition), "sizing",
			fmt.Errorf("price %.4f: %w", c.Technical.Price, eplerrors.ErrOutOfRange))
		return vote
	}

	correlation := e.portfolioCorrelation(c, in.Positions)
	score := 0.40*c.Quality +
		0.25*marketSuitability(c, e.cfg.TargetVolatility, e.cfg.VolatilityBand) +
		0.20*(1-correlation) +
		0.15*marketTiming(c)
	score = utils.Clamp01(score)

	vote.Score = score
	vote.Confidence = voteConfidence(score, c)
	vote.Reasons = append(vote.Reasons, fmt.Sprintf(
		"new-position score %.3f (portfolio correlation %.3f)", score, correlation))

	switch {
	case score < e.cfg.MinScore:
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"score %.3f below threshold %.2f", score, e.cfg.MinScore))
	case c.Market.Liquidity < e.cfg.MinLiquidity:
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"liquidity %.2f below %.2f minimum", c.Market.Liquidity, e.cfg.MinLiquidity))
	default:
		vote.Accepted = true
		vote.Execution = e.execution(c, in.Metrics)
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"open new %s position sized %.2f units", c.Direction, vote.Execution.Size))
	}

	return vote
}

// portfolioCorrelation approximates the candidate's highest pairwise
// correlation against held positions via instrument class.
func (e *NewPositionEngine) portfolioCorrelation(c models.SignalCandidate, positions []models.PositionInfo) float64 {
	if len(positions) == 0 {
		return 0
	}
	class := c.Metadata["instrument_class"]

	var maxCorr float64
	for _, pos := range positions {
		corr := crossClassCorrelation
		if class != "" && class == pos.InstrumentClass {
			corr = sameClassCorrelation
		}
		if corr > maxCorr {
			maxCorr = corr
		}
	}
	return maxCorr
}

// execution sizes the position with a bounded Kelly estimate and attaches
// ATR-derived stops.
func (e *NewPositionEngine) execution(c models.SignalCandidate, metrics models.RiskMetrics) *models.ExecutionParams {
	avgWin, avgLoss := metrics.AvgWin, metrics.AvgLoss
	if avgWin <= 0 {
		avgWin = 0.04
	}
	if avgLoss <= 0 {
		avgLoss = 0.02
	}

	p := c.Confidence
	fraction := (p*avgWin - (1-p)*avgLoss) / avgWin
	fraction = utils.Clamp(fraction, e.cfg.KellyFloor, e.cfg.KellyCap)

	capital := metrics.Capital
	if capital <= 0 {
		capital = 10000 // nominal book when the caller supplies none
	}
	size := fraction * capital / c.Technical.Price

	stopLoss, takeProfit := atrStops(c.Direction, c.Technical.Price, c.Technical.ATR,
		e.cfg.StopLossATR, e.cfg.TakeProfitATR)

	return &models.ExecutionParams{
		Size:         size,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		RiskPerTrade: riskPerTrade(size, c.Technical.Price, stopLoss, capital),
	}
}
