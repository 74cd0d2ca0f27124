package policy

import (
	"sync"
	"time"

	"epl-engine/internal/models"
)

// Status holds the aggregate counters reported by the coordinator.
type Status struct {
	TotalEvaluations   uint64                          `json:"total_evaluations"`
	ValidationFailures uint64                          `json:"validation_failures"`
	ShedEvaluations    uint64                          `json:"shed_evaluations"`
	ByDecision         map[models.EPLDecision]uint64   `json:"by_decision"`
	ByPriority         map[models.PriorityClass]uint64 `json:"by_priority"`
	AvgLatency         time.Duration                   `json:"avg_latency_ns"`
	Inflight           int64                           `json:"inflight"`
}

// statusTracker accumulates decision counters and a rolling latency
// window.
type statusTracker struct {
	mu                 sync.Mutex
	total              uint64
	validationFailures uint64
	shed               uint64
	byDecision         map[models.EPLDecision]uint64
	byPriority         map[models.PriorityClass]uint64
	latencies          []time.Duration
	next               int
	filled             bool
}

func newStatusTracker(window int) *statusTracker {
	if window <= 0 {
		window = 512
	}
	return &statusTracker{
		byDecision: make(map[models.EPLDecision]uint64),
		byPriority: make(map[models.PriorityClass]uint64),
		latencies:  make([]time.Duration, window),
	}
}

func (t *statusTracker) record(result *models.EPLDecisionResult, shed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.byDecision[result.Decision]++
	t.byPriority[result.Priority]++
	if result.IgnoreReason == models.IgnoreValidationFailed {
		t.validationFailures++
	}
	if shed {
		t.shed++
	}

	t.latencies[t.next] = result.Latency
	t.next++
	if t.next == len(t.latencies) {
		t.next = 0
		t.filled = true
	}
}

func (t *statusTracker) snapshot(inflight int64) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Status{
		TotalEvaluations:   t.total,
		ValidationFailures: t.validationFailures,
		ShedEvaluations:    t.shed,
		ByDecision:         make(map[models.EPLDecision]uint64, len(t.byDecision)),
		ByPriority:         make(map[models.PriorityClass]uint64, len(t.byPriority)),
		Inflight:           inflight,
	}
	for k, v := range t.byDecision {
		s.ByDecision[k] = v
	}
	for k, v := range t.byPriority {
		s.ByPriority[k] = v
	}

	n := t.next
	if t.filled {
		n = len(t.latencies)
	}
	if n > 0 {
		var sum time.Duration
		for i := 0; i < n; i++ {
			sum += t.latencies[i]
		}
		s.AvgLatency = sum / time.Duration(n)
	}
	return s
}
