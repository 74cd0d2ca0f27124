package policy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"epl-engine/internal/config"
	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/ledger"
	"epl-engine/internal/logging"
	"epl-engine/internal/models"
	"epl-engine/internal/priority"
	"epl-engine/internal/risk"
)

// Notifier receives finalized decision results for scheduling. Hand-off is
// fire-and-forget: a slow or failing channel never blocks a decision.
type Notifier interface {
	Schedule(result *models.EPLDecisionResult)
}

// AuditLog receives every decision result, keyed by candidate ID,
// append-only.
type AuditLog interface {
	Append(ctx context.Context, result *models.EPLDecisionResult) error
}

type nopNotifier struct{}

func (nopNotifier) Schedule(*models.EPLDecisionResult) {}

type nopAudit struct{}

func (nopAudit) Append(context.Context, *models.EPLDecisionResult) error { return nil }

// Coordinator orchestrates one candidate evaluation end to end:
// validate, route, evaluate, reconcile, risk re-check, classify, schedule
// notification, emit the audit record and request the ledger mutation.
// Evaluate never returns an error; the pipeline always yields a decision.
type Coordinator struct {
	cfg        *config.Config
	logger     zerolog.Logger
	ledger     ledger.Ledger
	router     Router
	registry   *Registry
	riskMgr    *risk.Manager
	classifier *priority.Classifier
	audit      AuditLog
	notifier   Notifier
	learning   LearningSink
	monitor    *LoadMonitor
	status     *statusTracker
}

// NewCoordinator wires the pipeline. Fatal conditions (nil ledger, invalid
// configuration) surface here and never per-candidate.
func NewCoordinator(
	cfg *config.Config,
	logger zerolog.Logger,
	led ledger.Ledger,
	audit AuditLog,
	notifier Notifier,
	learning LearningSink,
) (*Coordinator, error) {
	if cfg == nil {
		return nil, eplerrors.Wrap(eplerrors.ErrConfigInvalid, "coordinator requires configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, eplerrors.Wrap(err, "coordinator configuration")
	}
	if led == nil {
		return nil, eplerrors.Wrap(eplerrors.ErrLedgerClosed, "coordinator requires a ledger")
	}
	if audit == nil {
		audit = nopAudit{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if learning == nil {
		learning = NopLearningSink{}
	}

	registry := NewRegistry(
		NewReplacementEngine(cfg.Engines.Replacement),
		NewStrengtheningEngine(cfg.Engines.Strengthening),
		NewNewPositionEngine(cfg.Engines.NewPosition),
		NewIgnoreEngine(cfg.Engines.Ignore),
	)

	return &Coordinator{
		cfg:        cfg,
		logger:     logger,
		ledger:     led,
		registry:   registry,
		riskMgr:    risk.NewManager(cfg.Risk),
		classifier: priority.NewClassifier(cfg.Priority),
		audit:      audit,
		notifier:   notifier,
		learning:   learning,
		monitor: NewLoadMonitor(cfg.Pipeline.ShedCPUPercent,
			cfg.Pipeline.ShedInflight, 2*time.Second),
		status: newStatusTracker(cfg.Pipeline.LatencyWindow),
	}, nil
}

// Close stops background resources.
func (c *Coordinator) Close() {
	c.monitor.Stop()
}

// Status returns aggregate counters for observability.
func (c *Coordinator) Status() Status {
	return c.status.snapshot(c.monitor.Inflight())
}

// Evaluate decides the disposition for one candidate. It always returns a
// result, degrading to IgnoreSignal on validation failure, engine
// rejection, risk gate failure or load shedding.
func (c *Coordinator) Evaluate(
	ctx context.Context,
	candidate models.SignalCandidate,
	metrics models.RiskMetrics,
	market models.MarketContext,
) *models.EPLDecisionResult {
	start := time.Now()
	c.monitor.Enter()
	defer c.monitor.Exit()

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	log := logging.WithCandidate(logging.WithSymbol(c.logger, candidate.Symbol), candidate.ID)

	// Stage 1: validation. Freshness is checked only here.
	stageStart := time.Now()
	if err := validateCandidate(candidate, start, c.cfg.Pipeline.FreshnessWindow); err != nil {
		log.Warn().Err(err).Msg("Candidate rejected at validation")
		result := c.validationResult(candidate, err, start)
		c.finish(ctx, candidate, result, market, false, nil)
		c.status.record(result, false)
		return result
	}
	c.checkBudget(log, candidate.ID, "validate", stageStart, c.cfg.Pipeline.ValidateBudget)

	// The per-symbol lease serializes decisions touching the same symbol
	// from routing through ledger commit.
	c.ledger.Acquire(candidate.Symbol)

	shed := c.monitor.ShouldShed()

	// Stage 2: routing.
	stageStart = time.Now()
	position, hasPosition := c.ledger.Get(candidate.Symbol)
	in := EvalInput{
		Candidate: candidate,
		Positions: c.ledger.Snapshot(),
		Metrics:   metrics,
		Market:    market,
		Now:       start,
	}
	if hasPosition {
		in.Position = &position
	}
	scenarios := c.router.Route(candidate, in.Position)
	if shed {
		log.Warn().Int64("inflight", c.monitor.Inflight()).Msg("Load shedding: ignore-only evaluation")
		scenarios = []Scenario{ScenarioIgnore}
	}
	c.checkBudget(log, candidate.ID, "route", stageStart, c.cfg.Pipeline.RouteBudget)

	// Stage 3: scenario evaluation, engines in parallel over immutable
	// inputs.
	stageStart = time.Now()
	votes := c.runEngines(ctx, scenarios, in)
	c.checkBudget(log, candidate.ID, "evaluate", stageStart, c.cfg.Pipeline.EvaluateBudget)

	// Stage 4: reconcile votes and re-check risk on the winner.
	stageStart = time.Now()
	result := c.reconcile(candidate, votes, in, shed)
	c.checkBudget(log, candidate.ID, "risk_recheck", stageStart, c.cfg.Pipeline.RiskBudget)

	// Stage 5: priority classification.
	stageStart = time.Now()
	result.Priority = c.classifier.Classify(candidate, result, market)
	c.checkBudget(log, candidate.ID, "classify", stageStart, c.cfg.Pipeline.ClassifyBudget)

	result.Latency = time.Since(start)
	if result.Latency > c.cfg.Pipeline.HardCeiling {
		log.Warn().
			Dur("latency", result.Latency).
			Dur("ceiling", c.cfg.Pipeline.HardCeiling).
			Msg("Evaluation exceeded hard latency ceiling")
	}

	logging.LogDecision(log, candidate.ID, candidate.Symbol, string(result.Decision),
		result.Score, result.Confidence, string(result.Priority))

	// Stage 6: commit, audit and notification hand-off. The ledger lease
	// is released by the commit path.
	stageStart = time.Now()
	mutation := buildMutation(candidate, result, in.Position, start)
	c.finish(ctx, candidate, result, market, true, mutation)
	c.checkBudget(log, candidate.ID, "dispatch", stageStart, c.cfg.Pipeline.DispatchBudget)

	c.status.record(result, shed)
	return result
}

// runEngines fans out the applicable engines concurrently. An engine
// failure becomes an explicit could-not-evaluate vote; the remaining
// engines still run.
func (c *Coordinator) runEngines(ctx context.Context, scenarios []Scenario, in EvalInput) []Vote {
	votes := make([]Vote, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)

	for i, s := range scenarios {
		i, s := i, s
		g.Go(func() error {
			engine, ok := c.registry.Get(s)
			if !ok {
				votes[i] = Vote{Scenario: s, Err: eplerrors.NewEngineError(
					string(s), "lookup", eplerrors.ErrEngineUnavailable)}
				return nil
			}
			votes[i] = engine.Evaluate(gctx, in)
			return nil
		})
	}
	_ = g.Wait() // engines report failures through Vote.Err, never here
	return votes
}

// reconcile picks the winner among the votes, applies the ignore
// referee's override and runs the risk gates on any accepted decision.
func (c *Coordinator) reconcile(candidate models.SignalCandidate, votes []Vote, in EvalInput, shed bool) *models.EPLDecisionResult {
	var ignoreVote Vote
	var winner *Vote
	var reasons []string

	for i := range votes {
		v := &votes[i]
		if v.Err != nil {
			reasons = append(reasons, v.Err.Error())
			continue
		}
		if v.Scenario == ScenarioIgnore {
			ignoreVote = *v
			continue
		}
		reasons = append(reasons, v.Reasons...)
		if v.Accepted && (winner == nil || v.Score > winner.Score) {
			winner = v
		}
	}

	if shed {
		reasons = append(reasons, "load shedding active, ignore-only evaluation")
	}

	// The referee overrides every other engine when its cumulative score
	// exceeds the threshold.
	if ignoreVote.Override || winner == nil {
		return c.ignoreResult(candidate, ignoreVote, reasons)
	}

	result := &models.EPLDecisionResult{
		CandidateID: candidate.ID,
		Symbol:      candidate.Symbol,
		Direction:   candidate.Direction,
		Decision:    winner.Scenario.Decision(),
		Confidence:  winner.Confidence,
		Score:       winner.Score,
		Reasons:     uniqueReasons(reasons),
		Execution:   winner.Execution,
		Timestamp:   time.Now(),
	}

	// Final risk re-check: the single override point after scenario
	// evaluation, since sizing depends on the winning engine's output.
	assessment := c.riskMgr.Check(risk.Proposal{
		Candidate: candidate,
		Decision:  result.Decision,
		Execution: result.Execution,
		Positions: in.Positions,
		Metrics:   in.Metrics,
		Market:    in.Market,
	})
	result.Risk = assessment

	if !assessment.Approved {
		logging.LogRiskDowngrade(c.logger, candidate.ID, candidate.Symbol, assessment.FailedGates)
		result.Decision = models.IgnoreSignal
		result.Execution = nil
		result.IgnoreReason = models.IgnoreRiskExceeded
		result.Reasons = append(result.Reasons, assessment.Violations...)
	}

	return result
}

// ignoreResult builds the result when the candidate is ignored by the
// referee or because no engine accepted.
func (c *Coordinator) ignoreResult(candidate models.SignalCandidate, ignoreVote Vote, reasons []string) *models.EPLDecisionResult {
	reason := ignoreVote.Reason
	if reason == "" {
		reason = models.IgnoreLowQuality
	}
	return &models.EPLDecisionResult{
		CandidateID:  candidate.ID,
		Symbol:       candidate.Symbol,
		Direction:    candidate.Direction,
		Decision:     models.IgnoreSignal,
		Confidence:   ignoreVote.Confidence,
		Score:        ignoreVote.Score,
		Reasons:      uniqueReasons(append(reasons, ignoreVote.Reasons...)),
		IgnoreReason: reason,
		Suggestions:  ignoreVote.Suggestions,
		Risk:         &models.RiskAssessment{Approved: true},
		Timestamp:    time.Now(),
	}
}

// validationResult builds the forced-ignore result for malformed or stale
// candidates.
func (c *Coordinator) validationResult(candidate models.SignalCandidate, err error, start time.Time) *models.EPLDecisionResult {
	return &models.EPLDecisionResult{
		CandidateID:  candidate.ID,
		Symbol:       candidate.Symbol,
		Direction:    candidate.Direction,
		Decision:     models.IgnoreSignal,
		IgnoreReason: models.IgnoreValidationFailed,
		Reasons:      []string{err.Error()},
		Risk:         &models.RiskAssessment{Approved: true},
		Timestamp:    time.Now(),
		Latency:      time.Since(start),
	}
}

// finish emits the outbound effects: ledger mutation, audit append,
// notification hand-off and learning feedback. Ledger commit and
// notification are asynchronous and fire-and-forget relative to the
// caller; the per-symbol lease is released once the commit lands.
func (c *Coordinator) finish(
	ctx context.Context,
	candidate models.SignalCandidate,
	result *models.EPLDecisionResult,
	market models.MarketContext,
	leased bool,
	mutation *models.LedgerMutation,
) {
	if leased {
		if mutation != nil {
			go func() {
				defer c.ledger.Release(candidate.Symbol)
				if err := c.ledger.Apply(context.Background(), *mutation); err != nil {
					c.logger.Error().Err(err).
						Str("candidate_id", candidate.ID).
						Str("symbol", candidate.Symbol).
						Msg("Ledger mutation failed")
				}
			}()
		} else {
			c.ledger.Release(candidate.Symbol)
		}
	}

	go func() {
		if err := c.audit.Append(context.Background(), result); err != nil {
			c.logger.Error().Err(err).
				Str("candidate_id", result.CandidateID).
				Msg("Audit append failed")
		}
	}()

	c.notifier.Schedule(result)

	if result.Decision == models.IgnoreSignal && result.IgnoreReason != models.IgnoreValidationFailed {
		go c.learning.RecordIgnore(context.Background(), candidate, result.IgnoreReason, result.Suggestions)
	}

	_ = ctx // outbound effects deliberately detach from the caller's context
}

// buildMutation translates an accepted decision into the idempotent
// ledger mutation request.
func buildMutation(candidate models.SignalCandidate, result *models.EPLDecisionResult, position *models.PositionInfo, now time.Time) *models.LedgerMutation {
	if result.Decision == models.IgnoreSignal || result.Execution == nil {
		return nil
	}

	newPos := models.PositionInfo{
		Symbol:          candidate.Symbol,
		Direction:       candidate.Direction,
		Size:            result.Execution.Size,
		EntryPrice:      candidate.Technical.Price,
		EntryTime:       now,
		SignalID:        candidate.ID,
		Confidence:      candidate.Confidence,
		Strength:        candidate.Strength,
		InstrumentClass: candidate.Metadata["instrument_class"],
	}

	switch result.Decision {
	case models.ReplacePosition:
		return &models.LedgerMutation{
			CandidateID: candidate.ID,
			Symbol:      candidate.Symbol,
			Kind:        models.MutationReplace,
			Position:    &newPos,
		}
	case models.StrengthenPosition:
		resized := newPos
		if position != nil {
			resized = *position
			resized.Size += result.Execution.Size
		}
		return &models.LedgerMutation{
			CandidateID: candidate.ID,
			Symbol:      candidate.Symbol,
			Kind:        models.MutationResize,
			Position:    &resized,
		}
	default:
		return &models.LedgerMutation{
			CandidateID: candidate.ID,
			Symbol:      candidate.Symbol,
			Kind:        models.MutationOpen,
			Position:    &newPos,
		}
	}
}

// checkBudget logs advisory telemetry when a stage overruns its budget.
// Budgets never change the decision.
func (c *Coordinator) checkBudget(log zerolog.Logger, candidateID, stage string, start time.Time, budget time.Duration) {
	if budget <= 0 {
		return
	}
	if elapsed := time.Since(start); elapsed > budget {
		logging.LogStageOverrun(log, candidateID, stage, elapsed, budget)
	}
}

// uniqueReasons preserves order while dropping duplicates.
func uniqueReasons(reasons []string) []string {
	seen := make(map[string]struct{}, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
