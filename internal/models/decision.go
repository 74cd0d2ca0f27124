package models

import "time"

// EPLDecision is the disposition chosen for a candidate. Exactly one is
// chosen per evaluation.
type EPLDecision string

const (
	ReplacePosition    EPLDecision = "REPLACE_POSITION"
	StrengthenPosition EPLDecision = "STRENGTHEN_POSITION"
	CreateNewPosition  EPLDecision = "CREATE_NEW_POSITION"
	IgnoreSignal       EPLDecision = "IGNORE_SIGNAL"
)

// IgnoreReason classifies why a candidate was ignored.
type IgnoreReason string

const (
	IgnoreNone              IgnoreReason = ""
	IgnoreLowQuality        IgnoreReason = "LOW_QUALITY"
	IgnoreRedundant         IgnoreReason = "REDUNDANT"
	IgnoreUnfavorableMarket IgnoreReason = "UNFAVORABLE_MARKET"
	IgnoreRiskExceeded      IgnoreReason = "RISK_EXCEEDED"
	IgnoreMultipleFactors   IgnoreReason = "MULTIPLE_FACTORS"
	IgnoreValidationFailed  IgnoreReason = "VALIDATION_FAILED"
)

// PriorityClass is a coarse urgency bucket controlling how fast and
// through which channels a decision is surfaced downstream.
type PriorityClass string

const (
	PriorityCritical PriorityClass = "CRITICAL"
	PriorityHigh     PriorityClass = "HIGH"
	PriorityMedium   PriorityClass = "MEDIUM"
	PriorityLow      PriorityClass = "LOW"
)

// ExecutionParams holds the execution side of an accepted decision.
// Present iff the decision is not IgnoreSignal.
type ExecutionParams struct {
	Size         float64
	StopLoss     float64
	TakeProfit   float64
	RiskPerTrade float64 // fraction of capital at risk
	TrailingStop bool
}

// RiskReward returns the reward-to-risk ratio implied by the stops, or 0
// when the stop distance is degenerate.
func (e *ExecutionParams) RiskReward(entry float64) float64 {
	risk := entry - e.StopLoss
	reward := e.TakeProfit - entry
	if risk < 0 {
		risk, reward = -risk, -reward
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// RiskAssessment records the outcome of the risk gate checks.
type RiskAssessment struct {
	Approved    bool
	FailedGates []string
	Violations  []string
}

// EPLDecisionResult is the immutable outcome of one candidate evaluation.
// It is persisted to the audit log and handed to the notification
// scheduler; it is never modified after creation.
type EPLDecisionResult struct {
	CandidateID string
	Symbol      string
	Direction   Direction

	Decision   EPLDecision
	Confidence float64 // 0..1
	Score      float64 // 0..1, winning engine's score

	// Reasons is the ordered, human-readable audit trail of how the
	// decision was reached, including every failed gate.
	Reasons []string

	Execution    *ExecutionParams // nil iff Decision == IgnoreSignal
	Risk         *RiskAssessment
	Priority     PriorityClass
	IgnoreReason IgnoreReason

	// Suggestions are improvement hints emitted when a candidate is
	// ignored, fed back to the signal-generation layer.
	Suggestions []string

	Timestamp time.Time
	Latency   time.Duration
}

// Ignored reports whether the candidate was ignored.
func (r *EPLDecisionResult) Ignored() bool {
	return r.Decision == IgnoreSignal
}
