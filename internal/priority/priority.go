// Package priority maps a finalized decision and its candidate to one of
// four priority classes that control notification speed and channels.
package priority

import (
	"epl-engine/internal/config"
	"epl-engine/internal/models"
	"epl-engine/pkg/utils"
)

// Classifier walks the configured class thresholds from most to least
// urgent and returns the first class whose threshold and minimum
// execution-confidence gate both pass.
type Classifier struct {
	cfg config.PriorityConfig
}

// NewClassifier creates a classifier from configuration. Classes are
// expected ordered by descending threshold (config.Validate enforces it).
func NewClassifier(cfg config.PriorityConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify combines signal quality, market urgency, execution confidence
// and risk/reward into one score and buckets it.
func (c *Classifier) Classify(candidate models.SignalCandidate, result *models.EPLDecisionResult, market models.MarketContext) models.PriorityClass {
	score := c.cfg.QualityWeight*candidate.Quality +
		c.cfg.UrgencyWeight*marketUrgency(candidate, market) +
		c.cfg.ConfidenceWeight*executionConfidence(candidate) +
		c.cfg.RiskRewardWeight*riskRewardFactor(candidate, result)
	score = utils.Clamp01(score)

	for _, class := range c.cfg.Classes {
		if score >= class.Threshold && result.Confidence >= class.MinExecutionConfidence {
			return models.PriorityClass(class.Name)
		}
	}
	return models.PriorityLow
}

// marketUrgency rises with volatility and recent price shocks: fast-moving
// markets make a decision stale quickly.
func marketUrgency(candidate models.SignalCandidate, market models.MarketContext) float64 {
	vol := utils.Clamp01(candidate.Market.Volatility / 0.08)
	shock := utils.Clamp01(market.PriceShock)
	if shock > vol {
		return shock
	}
	return (vol + shock) / 2
}

// executionConfidence blends corroborating-source count with technical
// consistency (strength agreeing with confidence).
func executionConfidence(candidate models.SignalCandidate) float64 {
	sources := utils.Clamp01(float64(candidate.CorroboratingSources) / 5.0)
	consistency := 1 - utils.Abs(candidate.Strength-candidate.Confidence)
	return utils.Clamp01((sources + consistency) / 2)
}

// riskRewardFactor normalizes the reward-to-risk ratio of the execution
// parameters; 3:1 or better saturates the factor. Ignored decisions carry
// no parameters and contribute zero.
func riskRewardFactor(candidate models.SignalCandidate, result *models.EPLDecisionResult) float64 {
	if result.Execution == nil {
		return 0
	}
	rr := result.Execution.RiskReward(candidate.Technical.Price)
	return utils.Clamp01(rr / 3.0)
}
