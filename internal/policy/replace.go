package policy

import (
	"context"
	"fmt"

	"epl-engine/internal/config"
	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
	"epl-engine/pkg/utils"
)

// ReplacementEngine decides whether a candidate should replace an existing
// opposite-direction position. It is reachable only when the router saw
// such a position.
type ReplacementEngine struct {
	cfg config.ReplacementConfig
}

// NewReplacementEngine creates the replacement engine.
func NewReplacementEngine(cfg config.ReplacementConfig) *ReplacementEngine {
	return &ReplacementEngine{cfg: cfg}
}

// Scenario returns the engine's scenario tag.
func (e *ReplacementEngine) Scenario() Scenario { return ScenarioReplacement }

// Evaluate gates and scores the replacement scenario. All failed gates are
// reported cumulatively for audit completeness, not just the first.
func (e *ReplacementEngine) Evaluate(_ context.Context, in EvalInput) Vote {
	vote := Vote{Scenario: ScenarioReplacement}
	c := in.Candidate

	pos := in.Position
	if pos == nil {
		vote.Err = eplerrors.NewEngineError(string(ScenarioReplacement), "gate",
			eplerrors.ErrPositionNotFound)
		return vote
	}
	if pos.Confidence <= 0 {
		vote.Err = eplerrors.NewEngineError(string(ScenarioReplacement), "gate",
			fmt.Errorf("position confidence %.3f: %w", pos.Confidence, eplerrors.ErrOutOfRange))
		return vote
	}

	deltaConf := c.Confidence - pos.Confidence

	var failed []string
	if deltaConf < e.cfg.MinConfidenceImprovement {
		failed = append(failed, fmt.Sprintf(
			"confidence improvement %.3f below %.2f", deltaConf, e.cfg.MinConfidenceImprovement))
	}
	if c.Direction == pos.Direction {
		failed = append(failed, "candidate direction matches position, replacement needs the opposite side")
	}
	if age := pos.Age(in.Now); age < e.cfg.MinPositionAge {
		failed = append(failed, fmt.Sprintf(
			"position age %s below minimum %s", age.Round(0), e.cfg.MinPositionAge))
	}
	if !c.ReplacementCandidate {
		failed = append(failed, "candidate not tagged as replacement by upstream correlation analysis")
	}
	if len(failed) > 0 {
		vote.Reasons = failed
		return vote
	}

	score := 0.40*deltaConfNorm(deltaConf) +
		0.25*marketTiming(c) +
		0.20*positionPerformance(pos.UnrealizedPnL) +
		0.15*e.riskScore(c, pos, deltaConf)
	score = utils.Clamp01(score)

	vote.Score = score
	vote.Confidence = voteConfidence(score, c)
	vote.Reasons = append(vote.Reasons, fmt.Sprintf(
		"replacement score %.3f (confidence improvement %.3f)", score, deltaConf))

	switch {
	case score < e.cfg.MinScore:
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"score %.3f below threshold %.2f", score, e.cfg.MinScore))
	case pos.UnrealizedPnL < -e.cfg.MaxUnrealizedLoss:
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"unrealized loss %.2f%% beyond %.2f%% limit", pos.UnrealizedPnL*100, e.cfg.MaxUnrealizedLoss*100))
	case c.Market.Volatility > e.cfg.MaxVolatility:
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"volatility %.3f above %.3f limit", c.Market.Volatility, e.cfg.MaxVolatility))
	default:
		vote.Accepted = true
		vote.Execution = e.execution(c, pos, in.Metrics)
		vote.Reasons = append(vote.Reasons, "close position at market and open replacement")
	}

	return vote
}

// riskScore falls as the candidate diverges from the position it replaces
// and as size grows. Deltas are clipped to the normalization band so the
// score stays monotone in candidate confidence.
func (e *ReplacementEngine) riskScore(c models.SignalCandidate, pos *models.PositionInfo, deltaConf float64) float64 {
	dStrength := utils.Clamp(utils.Abs(c.Strength-pos.Strength), 0, deltaNormBand)
	dConf := utils.Clamp(utils.Abs(deltaConf), 0, deltaNormBand)
	sizeFactor := utils.Clamp01(pos.Size / 10000)
	return 1 - (dStrength+dConf+sizeFactor)/3
}

// execution sizes the replacement by confidence ratio, capped relative to
// the outgoing position.
func (e *ReplacementEngine) execution(c models.SignalCandidate, pos *models.PositionInfo, metrics models.RiskMetrics) *models.ExecutionParams {
	size := pos.Size * (c.Confidence / pos.Confidence)
	if maxSize := pos.Size * e.cfg.MaxSizeRatio; size > maxSize {
		size = maxSize
	}

	stopLoss, takeProfit := atrStops(c.Direction, c.Technical.Price, c.Technical.ATR,
		defaultStopATR, defaultTargetATR)

	return &models.ExecutionParams{
		Size:         size,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		RiskPerTrade: riskPerTrade(size, c.Technical.Price, stopLoss, metrics.Capital),
	}
}
