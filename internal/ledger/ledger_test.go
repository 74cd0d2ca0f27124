package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
)

func btcPosition(size float64) *models.PositionInfo {
	return &models.PositionInfo{
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionBuy,
		Size:       size,
		EntryPrice: 50000,
		EntryTime:  time.Now(),
		Confidence: 0.8,
		Strength:   0.7,
	}
}

func TestOpenRejectsExistingSymbol(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	require.NoError(t, l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: models.MutationOpen, Position: btcPosition(0.1),
	}))

	err := l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c2", Symbol: "BTCUSDT", Kind: models.MutationOpen, Position: btcPosition(0.2),
	})
	assert.ErrorIs(t, err, eplerrors.ErrPositionExists)

	// The failed open must not clobber the original position.
	pos, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.1, pos.Size)
}

func TestApplyIsIdempotentByCandidateID(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	open := models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: models.MutationOpen, Position: btcPosition(0.1),
	}
	require.NoError(t, l.Apply(ctx, open))

	// Replaying the same candidate's mutation is a no-op, even though an
	// open against an existing symbol would normally error.
	require.NoError(t, l.Apply(ctx, open))

	pos, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.1, pos.Size)
	assert.Len(t, l.Snapshot(), 1)
}

func TestReplaceUpsertsPosition(t *testing.T) {
	l := NewMemoryLedgerWith([]models.PositionInfo{*btcPosition(0.1)})
	ctx := context.Background()

	replacement := btcPosition(0.3)
	replacement.Direction = models.DirectionSell
	require.NoError(t, l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: models.MutationReplace, Position: replacement,
	}))

	pos, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, models.DirectionSell, pos.Direction)
	assert.Equal(t, 0.3, pos.Size)
	assert.Len(t, l.Snapshot(), 1)

	// Replace also opens when no position exists.
	require.NoError(t, l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c2", Symbol: "ETHUSDT", Kind: models.MutationReplace,
		Position: &models.PositionInfo{Symbol: "ETHUSDT", Direction: models.DirectionBuy, Size: 1},
	}))
	assert.Len(t, l.Snapshot(), 2)
}

func TestResizeKeepsOtherFields(t *testing.T) {
	l := NewMemoryLedgerWith([]models.PositionInfo{*btcPosition(0.1)})
	ctx := context.Background()

	require.NoError(t, l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: models.MutationResize,
		Position: &models.PositionInfo{Size: 0.15},
	}))

	pos, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.15, pos.Size)
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.Equal(t, models.DirectionBuy, pos.Direction)
}

func TestMutationsOnMissingPositionFail(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	err := l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: models.MutationClose,
	})
	assert.ErrorIs(t, err, eplerrors.ErrPositionNotFound)

	err = l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c2", Symbol: "BTCUSDT", Kind: models.MutationResize,
		Position: &models.PositionInfo{Size: 0.2},
	})
	assert.ErrorIs(t, err, eplerrors.ErrPositionNotFound)
}

func TestApplyAfterCloseFails(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Close())

	err := l.Apply(context.Background(), models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: models.MutationOpen, Position: btcPosition(0.1),
	})
	assert.ErrorIs(t, err, eplerrors.ErrLedgerClosed)
}

func TestApplyHonorsCancelledContext(t *testing.T) {
	l := NewMemoryLedger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Apply(ctx, models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: models.MutationOpen, Position: btcPosition(0.1),
	})
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := l.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestUnknownMutationKindFails(t *testing.T) {
	l := NewMemoryLedger()

	err := l.Apply(context.Background(), models.LedgerMutation{
		CandidateID: "c1", Symbol: "BTCUSDT", Kind: "SPLIT",
	})
	assert.ErrorIs(t, err, eplerrors.ErrScenarioUnknown)
}

func TestSnapshotDoesNotAliasLedgerState(t *testing.T) {
	l := NewMemoryLedgerWith([]models.PositionInfo{*btcPosition(0.1)})

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Size = 99

	pos, _ := l.Get("BTCUSDT")
	assert.Equal(t, 0.1, pos.Size)
}

func TestLeaseSerializesSameSymbol(t *testing.T) {
	l := NewMemoryLedger()

	const workers = 8
	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Acquire("BTCUSDT")
			defer l.Release("BTCUSDT")

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical)
}

func TestLeasesForDifferentSymbolsAreIndependent(t *testing.T) {
	l := NewMemoryLedger()

	l.Acquire("BTCUSDT")
	defer l.Release("BTCUSDT")

	done := make(chan struct{})
	go func() {
		l.Acquire("ETHUSDT")
		l.Release("ETHUSDT")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lease on ETHUSDT blocked behind BTCUSDT holder")
	}
}
