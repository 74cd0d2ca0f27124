package policy

import (
	"context"
	"fmt"

	"epl-engine/internal/config"
	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
	"epl-engine/pkg/utils"
)

// StrengtheningEngine decides whether a candidate should add to an
// existing same-direction position already in profit.
type StrengtheningEngine struct {
	cfg config.StrengtheningConfig
}

// NewStrengtheningEngine creates the strengthening engine.
func NewStrengtheningEngine(cfg config.StrengtheningConfig) *StrengtheningEngine {
	return &StrengtheningEngine{cfg: cfg}
}

// Scenario returns the engine's scenario tag.
func (e *StrengtheningEngine) Scenario() Scenario { return ScenarioStrengthening }

// Evaluate gates and scores the strengthening scenario.
func (e *StrengtheningEngine) Evaluate(_ context.Context, in EvalInput) Vote {
	vote := Vote{Scenario: ScenarioStrengthening}
	c := in.Candidate

	pos := in.Position
	if pos == nil {
		vote.Err = eplerrors.NewEngineError(string(ScenarioStrengthening), "gate",
			eplerrors.ErrPositionNotFound)
		return vote
	}
	if pos.Confidence <= 0 {
		vote.Err = eplerrors.NewEngineError(string(ScenarioStrengthening), "gate",
			fmt.Errorf("position confidence %.3f: %w", pos.Confidence, eplerrors.ErrOutOfRange))
		return vote
	}

	deltaConf := c.Confidence - pos.Confidence

	var failed []string
	if deltaConf < e.cfg.MinConfidenceImprovement {
		failed = append(failed, fmt.Sprintf(
			"confidence improvement %.3f below %.2f", deltaConf, e.cfg.MinConfidenceImprovement))
	}
	if c.Direction != pos.Direction {
		failed = append(failed, "candidate direction differs from position, strengthening needs the same side")
	}
	if pos.UnrealizedPnL <= 0 {
		failed = append(failed, fmt.Sprintf(
			"position not in profit (unrealized P&L %.2f%%)", pos.UnrealizedPnL*100))
	}
	if len(failed) > 0 {
		vote.Reasons = failed
		return vote
	}

	concentration := e.concentrationRisk(pos, in.Metrics)
	score := 0.35*deltaConfNorm(deltaConf) +
		0.25*positionPerformance(pos.UnrealizedPnL) +
		0.25*(1-concentration) +
		0.15*marketTiming(c)
	score = utils.Clamp01(score)

	vote.Score = score
	vote.Confidence = voteConfidence(score, c)
	vote.Reasons = append(vote.Reasons, fmt.Sprintf(
		"strengthening score %.3f (concentration risk %.3f)", score, concentration))

	switch {
	case score < e.cfg.MinScore:
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"score %.3f below threshold %.2f", score, e.cfg.MinScore))
	case c.Market.Volatility > e.cfg.MaxVolatility:
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"volatility %.3f above %.3f limit", c.Market.Volatility, e.cfg.MaxVolatility))
	default:
		exec, reason := e.execution(c, pos, in.Metrics)
		if exec == nil {
			vote.Reasons = append(vote.Reasons, reason)
			break
		}
		vote.Accepted = true
		vote.Execution = exec
		vote.Reasons = append(vote.Reasons, fmt.Sprintf(
			"add %.2f units to existing position", exec.Size))
	}

	return vote
}

// concentrationRisk measures how much of the total-exposure cap the
// position already consumes.
func (e *StrengtheningEngine) concentrationRisk(pos *models.PositionInfo, metrics models.RiskMetrics) float64 {
	if metrics.Capital <= 0 {
		return 0.5 // capital unknown, assume middling concentration
	}
	return utils.Clamp01(pos.Notional() / (metrics.Capital * e.cfg.MaxTotalExposure))
}

// execution sizes the addition by confidence ratio, down-scaled under high
// volatility and capped by the total-exposure limit.
func (e *StrengtheningEngine) execution(c models.SignalCandidate, pos *models.PositionInfo, metrics models.RiskMetrics) (*models.ExecutionParams, string) {
	ratio := c.Confidence/pos.Confidence - 1
	addSize := pos.Size * utils.Clamp(ratio, 0, e.cfg.MaxAdditionalRatio)

	if c.Market.Volatility > e.cfg.HighVolatility {
		addSize *= 0.5
	}

	if metrics.Capital > 0 {
		budget := metrics.Capital*e.cfg.MaxTotalExposure - pos.Notional()
		if maxAdd := budget / c.Technical.Price; addSize > maxAdd {
			addSize = maxAdd
		}
	}
	if addSize <= 0 {
		return nil, "exposure cap leaves no room to strengthen"
	}

	stopLoss, takeProfit := atrStops(c.Direction, c.Technical.Price, c.Technical.ATR,
		defaultStopATR, defaultTargetATR)

	return &models.ExecutionParams{
		Size:         addSize,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		RiskPerTrade: riskPerTrade(addSize, c.Technical.Price, stopLoss, metrics.Capital),
	}, ""
}
