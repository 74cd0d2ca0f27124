package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epl-engine/internal/config"
	"epl-engine/internal/models"
)

// fakeChannel records every notification it receives.
type fakeChannel struct {
	name    string
	primary bool

	mu   sync.Mutex
	sent []Notification
}

func (f *fakeChannel) Name() string    { return f.name }
func (f *fakeChannel) IsEnabled() bool { return true }
func (f *fakeChannel) Primary() bool   { return f.primary }

func (f *fakeChannel) Send(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeChannel) received() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.sent))
	copy(out, f.sent)
	return out
}

func testSchedulerConfig() config.NotificationConfig {
	return config.NotificationConfig{
		Enabled:   true,
		QueueSize: 16,
		// Delays collapse to immediate enqueue so tests stay fast.
		HighDelay:   0,
		MediumDelay: 0,
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeChannel, *fakeChannel) {
	t.Helper()

	s := NewScheduler(testSchedulerConfig(), zerolog.Nop())
	primary := &fakeChannel{name: "primary", primary: true}
	passive := &fakeChannel{name: "passive"}
	s.AddChannel(primary)
	s.AddChannel(passive)
	require.NoError(t, s.Start())
	return s, primary, passive
}

func result(priority models.PriorityClass) *models.EPLDecisionResult {
	return &models.EPLDecisionResult{
		CandidateID: "c-" + string(priority),
		Symbol:      "BTCUSDT",
		Direction:   models.DirectionBuy,
		Decision:    models.CreateNewPosition,
		Score:       0.8,
		Confidence:  0.8,
		Priority:    priority,
		Timestamp:   time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestScheduleCriticalReachesAllChannels(t *testing.T) {
	s, primary, passive := newTestScheduler(t)
	defer s.Stop()

	s.Schedule(result(models.PriorityCritical))

	waitFor(t, func() bool {
		return len(primary.received()) == 1 && len(passive.received()) == 1
	})
}

func TestScheduleHighReachesOnlyPrimary(t *testing.T) {
	s, primary, passive := newTestScheduler(t)

	s.Schedule(result(models.PriorityHigh))

	waitFor(t, func() bool { return len(primary.received()) == 1 })
	s.Stop()
	assert.Empty(t, passive.received())
}

func TestScheduleMediumReachesOnlyPassive(t *testing.T) {
	s, primary, passive := newTestScheduler(t)

	s.Schedule(result(models.PriorityMedium))

	waitFor(t, func() bool { return len(passive.received()) == 1 })
	s.Stop()
	assert.Empty(t, primary.received())
}

func TestScheduleLowBuffersUntilDigestFlush(t *testing.T) {
	s, primary, passive := newTestScheduler(t)

	s.Schedule(result(models.PriorityLow))
	s.Schedule(result(models.PriorityLow))

	// Nothing is delivered until the digest flushes; Stop flushes it.
	assert.Empty(t, passive.received())
	s.Stop()

	got := passive.received()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Title, "Daily Digest")
	assert.Contains(t, got[0].Message, "Decisions: 2")
	assert.Empty(t, primary.received())
}

func TestScheduleDisabledDropsEverything(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.Enabled = false

	s := NewScheduler(cfg, zerolog.Nop())
	ch := &fakeChannel{name: "any", primary: true}
	s.AddChannel(ch)
	require.NoError(t, s.Start())

	s.Schedule(result(models.PriorityCritical))
	s.Stop()

	assert.Empty(t, ch.received())
}

func TestStopIsIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.Stop()
	s.Stop()
}

func TestFormatDigestSummarizes(t *testing.T) {
	results := []*models.EPLDecisionResult{
		{Symbol: "BTCUSDT", Direction: models.DirectionBuy, Decision: models.CreateNewPosition, Score: 0.72},
		{Symbol: "ETHUSDT", Direction: models.DirectionSell, Decision: models.IgnoreSignal, Score: 0.31},
		{Symbol: "SOLUSDT", Direction: models.DirectionBuy, Decision: models.IgnoreSignal, Score: 0.22},
	}

	n := formatDigest(results)

	assert.Contains(t, n.Message, "Decisions: 3")
	assert.Contains(t, n.Message, "Actionable: 1 | Ignored: 2")
	assert.Contains(t, n.Message, "SOLUSDT")
	// Once in the per-decision count, twice in the recent list.
	assert.Equal(t, 3, strings.Count(n.Message, "IGNORE_SIGNAL"))
}

func TestFormatResultCarriesExecutionDetail(t *testing.T) {
	r := result(models.PriorityCritical)
	r.Execution = &models.ExecutionParams{Size: 0.25, StopLoss: 48000, TakeProfit: 53000}

	n := FormatResult(r)

	assert.Contains(t, n.Title, "BTCUSDT")
	assert.Contains(t, n.Message, "0.25")
	assert.NotZero(t, n.Timestamp)
}
