// Package models defines the shared data model for the execution policy layer.
package models

import "time"

// Direction represents the side of a signal or position.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the opposing direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Valid reports whether the direction is one of the known sides.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// TechnicalSnapshot captures the technical state of the instrument at
// signal generation time.
type TechnicalSnapshot struct {
	Price         float64
	ATR           float64
	TrendStrength float64 // 0..1
	Oscillator    float64 // 0..100, 50 = neutral
}

// MarketSnapshot captures the market environment at signal generation time.
type MarketSnapshot struct {
	Volatility float64 // fraction, e.g. 0.03 = 3%
	Liquidity  float64 // 0..1
	Spread     float64 // fraction of price
}

// SignalCandidate is a single proposed trading signal awaiting a
// disposition decision. It is owned by the upstream producer and treated
// as immutable for the duration of one evaluation.
type SignalCandidate struct {
	ID        string
	Symbol    string
	Direction Direction

	Strength   float64 // 0..1
	Confidence float64 // 0..1
	Quality    float64 // 0..1

	Timestamp time.Time
	Technical TechnicalSnapshot
	Market    MarketSnapshot

	// ReplacementCandidate is set by the upstream correlation analysis
	// when the candidate was generated specifically to replace an
	// existing position.
	ReplacementCandidate bool

	// CorroboratingSources is the number of independent signal sources
	// that agree with this candidate.
	CorroboratingSources int

	Metadata map[string]string
}

// Age returns how long ago the candidate was generated.
func (c *SignalCandidate) Age(now time.Time) time.Duration {
	return now.Sub(c.Timestamp)
}
