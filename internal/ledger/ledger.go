// Package ledger provides the position ledger: the authoritative record of
// currently open positions. The ledger is a single-writer resource per
// symbol; the policy layer reads snapshots and requests idempotent,
// candidate-id-keyed mutations.
package ledger

import (
	"context"
	"sync"

	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
)

// Ledger is the handle through which the policy layer sees open positions.
type Ledger interface {
	// Snapshot returns a copy of all open positions. Callers may read the
	// returned slice freely; it never aliases ledger state.
	Snapshot() []models.PositionInfo

	// Get returns the open position for a symbol, if any.
	Get(symbol string) (models.PositionInfo, bool)

	// Acquire takes the per-symbol exclusive lease. It is held across
	// validate, route, evaluate, risk re-check and commit for one
	// candidate; Release must be called with the same symbol.
	Acquire(symbol string)
	Release(symbol string)

	// Apply executes a mutation request. Mutations are idempotent by
	// candidate ID: replaying an already-applied mutation is a no-op.
	Apply(ctx context.Context, m models.LedgerMutation) error

	// Close releases ledger resources.
	Close() error
}

// MemoryLedger is an in-process Ledger implementation.
type MemoryLedger struct {
	mu        sync.RWMutex
	positions map[string]models.PositionInfo
	applied   map[string]struct{}
	closed    bool

	leaseMu sync.Mutex
	leases  map[string]*symbolLease
}

type symbolLease struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		positions: make(map[string]models.PositionInfo),
		applied:   make(map[string]struct{}),
		leases:    make(map[string]*symbolLease),
	}
}

// NewMemoryLedgerWith creates a ledger pre-populated with positions.
// Later entries for the same symbol overwrite earlier ones, preserving the
// one-position-per-symbol invariant.
func NewMemoryLedgerWith(positions []models.PositionInfo) *MemoryLedger {
	l := NewMemoryLedger()
	for _, p := range positions {
		l.positions[p.Symbol] = p
	}
	return l
}

// Snapshot returns a copy of all open positions.
func (l *MemoryLedger) Snapshot() []models.PositionInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.PositionInfo, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// Get returns the open position for a symbol, if any.
func (l *MemoryLedger) Get(symbol string) (models.PositionInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions[symbol]
	return p, ok
}

// Acquire takes the per-symbol exclusive lease.
func (l *MemoryLedger) Acquire(symbol string) {
	l.leaseMu.Lock()
	lease, ok := l.leases[symbol]
	if !ok {
		lease = &symbolLease{}
		l.leases[symbol] = lease
	}
	lease.refs++
	l.leaseMu.Unlock()

	lease.mu.Lock()
}

// Release releases the per-symbol exclusive lease.
func (l *MemoryLedger) Release(symbol string) {
	l.leaseMu.Lock()
	lease, ok := l.leases[symbol]
	if ok {
		lease.refs--
		if lease.refs == 0 {
			delete(l.leases, symbol)
		}
	}
	l.leaseMu.Unlock()

	if ok {
		lease.mu.Unlock()
	}
}

// Apply executes a mutation request, idempotent by candidate ID.
func (l *MemoryLedger) Apply(ctx context.Context, m models.LedgerMutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrLedgerClosed)
	}

	// Idempotence: a mutation key is the candidate ID, since the policy
	// layer emits at most one mutation per evaluation.
	if _, done := l.applied[m.CandidateID]; done {
		return nil
	}

	switch m.Kind {
	case models.MutationOpen:
		if _, exists := l.positions[m.Symbol]; exists {
			return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrPositionExists)
		}
		if m.Position == nil {
			return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrMissingField)
		}
		l.positions[m.Symbol] = *m.Position

	case models.MutationClose:
		if _, exists := l.positions[m.Symbol]; !exists {
			return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrPositionNotFound)
		}
		delete(l.positions, m.Symbol)

	case models.MutationResize:
		pos, exists := l.positions[m.Symbol]
		if !exists {
			return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrPositionNotFound)
		}
		if m.Position == nil {
			return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrMissingField)
		}
		pos.Size = m.Position.Size
		l.positions[m.Symbol] = pos

	case models.MutationReplace:
		if m.Position == nil {
			return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrMissingField)
		}
		// Close-then-open in one step; the one-position-per-symbol
		// invariant holds throughout.
		l.positions[m.Symbol] = *m.Position

	default:
		return eplerrors.NewLedgerError(m.CandidateID, m.Symbol, string(m.Kind), eplerrors.ErrScenarioUnknown)
	}

	l.applied[m.CandidateID] = struct{}{}
	return nil
}

// Close releases ledger resources.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
