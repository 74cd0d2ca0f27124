package policy

import (
	"context"
	"fmt"

	"epl-engine/internal/config"
	"epl-engine/internal/models"
	"epl-engine/pkg/utils"
)

// LearningSink receives ignore classifications and improvement suggestions
// for the adaptive-learning subsystem. Write-only: the policy layer never
// reads anything back.
type LearningSink interface {
	RecordIgnore(ctx context.Context, candidate models.SignalCandidate, reason models.IgnoreReason, suggestions []string)
}

// NopLearningSink discards all records.
type NopLearningSink struct{}

// RecordIgnore does nothing.
func (NopLearningSink) RecordIgnore(context.Context, models.SignalCandidate, models.IgnoreReason, []string) {
}

// IgnoreEngine is the referee of last resort. It always evaluates,
// accumulating weighted penalties; a cumulative score above the override
// threshold ignores the candidate regardless of any other engine's vote.
type IgnoreEngine struct {
	cfg config.IgnoreConfig
}

// NewIgnoreEngine creates the ignore referee engine.
func NewIgnoreEngine(cfg config.IgnoreConfig) *IgnoreEngine {
	return &IgnoreEngine{cfg: cfg}
}

// Scenario returns the engine's scenario tag.
func (e *IgnoreEngine) Scenario() Scenario { return ScenarioIgnore }

// penalty is one raw penalty contribution before weighting.
type penalty struct {
	reason     models.IgnoreReason
	raw        float64
	weight     float64
	suggestion string
}

// Evaluate computes the cumulative ignore score and its classification.
func (e *IgnoreEngine) Evaluate(_ context.Context, in EvalInput) Vote {
	c := in.Candidate

	penalties := []penalty{
		{
			reason:     models.IgnoreLowQuality,
			raw:        utils.Clamp01((0.8 - c.Quality) / 0.8),
			weight:     e.cfg.QualityWeight,
			suggestion: "raise signal quality above the 0.80 entry bar",
		},
		{
			reason:     models.IgnoreRedundant,
			raw:        e.redundancy(in),
			weight:     e.cfg.RedundancyWeight,
			suggestion: "suppress candidates duplicating an open position without a confidence edge",
		},
		{
			reason:     models.IgnoreUnfavorableMarket,
			raw:        e.unfavorableTiming(c),
			weight:     e.cfg.TimingWeight,
			suggestion: "defer signals generated in extreme volatility or thin liquidity",
		},
		{
			reason:     models.IgnoreRiskExceeded,
			raw:        e.riskBreach(in.Metrics),
			weight:     e.cfg.RiskWeight,
			suggestion: "hold new exposure while drawdown or concentration limits are stressed",
		},
	}

	var cumulative float64
	var reasons []string
	var suggestions []string
	for _, p := range penalties {
		cumulative += p.raw * p.weight
		if p.raw >= 0.5 {
			reasons = append(reasons, fmt.Sprintf("%s penalty %.3f", p.reason, p.raw))
			suggestions = append(suggestions, p.suggestion)
		}
	}
	cumulative = utils.Clamp01(cumulative)

	vote := Vote{
		Scenario:    ScenarioIgnore,
		Accepted:    true, // ignore is always an admissible fallback
		Score:       cumulative,
		Confidence:  utils.Clamp01(0.5 + cumulative/2),
		Override:    cumulative > e.cfg.OverrideThreshold,
		Reason:      classify(penalties),
		Suggestions: suggestions,
	}
	vote.Reasons = append([]string{fmt.Sprintf("ignore score %.3f", cumulative)}, reasons...)
	return vote
}

// redundancy rises when the candidate duplicates an open same-direction
// position without enough of a confidence edge to strengthen it.
func (e *IgnoreEngine) redundancy(in EvalInput) float64 {
	pos := in.Position
	if pos == nil {
		return 0
	}
	if pos.Direction != in.Candidate.Direction {
		return 0.2 // an opposite-side candidate carries new information
	}
	edge := in.Candidate.Confidence - pos.Confidence
	if edge < 0 {
		edge = 0
	}
	return utils.Clamp01(1 - edge/0.15)
}

// unfavorableTiming penalizes extreme volatility and thin liquidity.
func (e *IgnoreEngine) unfavorableTiming(c models.SignalCandidate) float64 {
	volPen := utils.Clamp01(c.Market.Volatility / e.cfg.ExtremeVolatility)
	liqPen := 0.0
	if limit := e.cfg.ThinLiquidity * 2; limit > 0 {
		liqPen = utils.Clamp01((limit - c.Market.Liquidity) / limit)
	}
	if liqPen > volPen {
		return liqPen
	}
	return volPen
}

// riskBreach penalizes portfolio drawdown and sector concentration
// pressure reported by the upstream risk metrics.
func (e *IgnoreEngine) riskBreach(metrics models.RiskMetrics) float64 {
	ddPen := utils.Clamp01(metrics.DailyDrawdown / 0.05)

	var concPen float64
	for _, exposure := range metrics.SectorExposure {
		if p := utils.Clamp01(exposure / 0.40); p > concPen {
			concPen = p
		}
	}
	if concPen > ddPen {
		return concPen
	}
	return ddPen
}

// classify names the dominant penalty, or MultipleFactors when two or more
// contribute materially.
func classify(penalties []penalty) models.IgnoreReason {
	triggered := 0
	dominant := models.IgnoreLowQuality
	var dominantWeighted float64

	for _, p := range penalties {
		if p.raw >= 0.5 {
			triggered++
		}
		if w := p.raw * p.weight; w > dominantWeighted {
			dominantWeighted = w
			dominant = p.reason
		}
	}

	if triggered >= 2 {
		return models.IgnoreMultipleFactors
	}
	return dominant
}
