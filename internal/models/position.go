package models

import "time"

// PositionInfo is a read-only snapshot of an open position. The ledger
// owns the underlying state; the policy layer only reads snapshots and
// requests mutations.
type PositionInfo struct {
	Symbol        string
	Direction     Direction
	Size          float64 // notional units
	EntryPrice    float64
	EntryTime     time.Time
	UnrealizedPnL float64 // fraction of entry notional, 0.02 = +2%

	// Originating signal attributes, kept for improvement comparisons.
	SignalID   string
	Confidence float64
	Strength   float64

	// InstrumentClass groups correlated instruments (sector, asset class).
	InstrumentClass string
}

// Age returns how long the position has been open.
func (p *PositionInfo) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Notional returns the position's notional value at entry.
func (p *PositionInfo) Notional() float64 {
	return p.Size * p.EntryPrice
}

// MutationKind identifies the type of ledger mutation requested.
type MutationKind string

const (
	MutationOpen    MutationKind = "OPEN"
	MutationClose   MutationKind = "CLOSE"
	MutationResize  MutationKind = "RESIZE"
	MutationReplace MutationKind = "REPLACE" // close then open, atomically
)

// LedgerMutation is an idempotent, candidate-id-keyed request to change
// ledger state. Replaying the same mutation is a no-op.
type LedgerMutation struct {
	CandidateID string
	Symbol      string
	Kind        MutationKind

	// Position carries the new position for OPEN and REPLACE, and the
	// new size for RESIZE.
	Position *PositionInfo
}
