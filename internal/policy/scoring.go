package policy

import (
	"epl-engine/internal/models"
	"epl-engine/pkg/utils"
)

// deltaNormBand is the confidence-improvement band over which the
// normalized delta saturates. Deltas consumed by risk penalties are
// clipped to the same band so a growing improvement can never reduce an
// engine's score.
const deltaNormBand = 0.3

// ATR multipliers shared by the replacement and strengthening engines.
// The new-position engine takes its multipliers from configuration.
const (
	defaultStopATR   = 2.0
	defaultTargetATR = 4.0
)

// deltaConfNorm normalizes a confidence improvement into [0,1].
func deltaConfNorm(delta float64) float64 {
	if delta <= 0 {
		return 0
	}
	return utils.Clamp01(delta / deltaNormBand)
}

// positionPerformance rewards positive unrealized P&L and penalizes
// losses; +/-2% saturates the factor.
func positionPerformance(unrealizedPnL float64) float64 {
	return utils.Clamp01(0.5 + unrealizedPnL/0.04)
}

// marketTiming averages oscillator extremity and a volatility factor.
// An oscillator far from neutral signals a timely entry or exit; calm
// markets score higher than stressed ones.
func marketTiming(c models.SignalCandidate) float64 {
	extremity := utils.Clamp01(utils.Abs(c.Technical.Oscillator-50) / 50)
	volFactor := 1 - utils.Clamp01(c.Market.Volatility/0.08)
	return (extremity + volFactor) / 2
}

// marketSuitability peaks when volatility sits inside the target band and
// scales with trend strength.
func marketSuitability(c models.SignalCandidate, targetVol, band float64) float64 {
	volFit := 1.0
	if band > 0 {
		volFit = 1 - utils.Clamp01(utils.Abs(c.Market.Volatility-targetVol)/band)
	}
	return volFit * (0.5 + 0.5*utils.Clamp01(c.Technical.TrendStrength))
}

// atrStops returns direction-aware stop-loss and take-profit levels.
func atrStops(direction models.Direction, entry, atr, stopMult, targetMult float64) (stopLoss, takeProfit float64) {
	if direction == models.DirectionSell {
		return entry + stopMult*atr, entry - targetMult*atr
	}
	return entry - stopMult*atr, entry + targetMult*atr
}

// voteConfidence blends the engine score with the candidate's own
// confidence for the result record.
func voteConfidence(score float64, c models.SignalCandidate) float64 {
	return utils.Clamp01((score + c.Confidence) / 2)
}

// riskPerTrade returns the capital fraction at risk if the stop is hit.
func riskPerTrade(size, entry, stopLoss, capital float64) float64 {
	if capital <= 0 {
		return 0
	}
	return utils.Clamp01(size * utils.Abs(entry-stopLoss) / capital)
}
