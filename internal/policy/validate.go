package policy

import (
	"fmt"
	"time"

	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
)

// validateCandidate rejects malformed or stale candidates before any
// engine runs. Freshness is checked only here, at validation entry, so a
// candidate cannot expire half-way through an evaluation.
func validateCandidate(c models.SignalCandidate, now time.Time, freshness time.Duration) error {
	if c.Symbol == "" {
		return eplerrors.NewValidationError("symbol", c.Symbol, "symbol is required")
	}
	if !c.Direction.Valid() {
		return eplerrors.NewValidationError("direction", c.Direction, "direction must be BUY or SELL")
	}

	for field, v := range map[string]float64{
		"strength":   c.Strength,
		"confidence": c.Confidence,
		"quality":    c.Quality,
	} {
		if v < 0 || v > 1 {
			return eplerrors.NewValidationError(field, v, "must be within [0, 1]")
		}
	}
	if c.Market.Liquidity < 0 || c.Market.Liquidity > 1 {
		return eplerrors.NewValidationError("market.liquidity", c.Market.Liquidity, "must be within [0, 1]")
	}
	if c.Market.Volatility < 0 {
		return eplerrors.NewValidationError("market.volatility", c.Market.Volatility, "must be non-negative")
	}
	if c.Technical.Price <= 0 {
		return eplerrors.NewValidationError("technical.price", c.Technical.Price, "must be positive")
	}
	if c.Technical.ATR < 0 {
		return eplerrors.NewValidationError("technical.atr", c.Technical.ATR, "must be non-negative")
	}

	if c.Timestamp.IsZero() {
		return eplerrors.NewValidationError("timestamp", c.Timestamp, "timestamp is required")
	}
	if age := c.Age(now); age > freshness {
		return eplerrors.NewValidationError("timestamp", c.Timestamp,
			fmt.Sprintf("candidate age %s beyond freshness window %s: %v",
				age.Round(time.Second), freshness, eplerrors.ErrStaleCandidate))
	}

	return nil
}
