// Package risk implements the portfolio- and position-level risk gates
// applied to every accepted decision before finalization.
package risk

import (
	"fmt"

	"epl-engine/internal/config"
	"epl-engine/internal/models"
)

// Manager evaluates the portfolio and position gates. It is stateless:
// all inputs arrive with the proposal.
type Manager struct {
	cfg config.RiskConfig
}

// NewManager creates a risk manager from configuration.
func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Proposal describes an accepted (non-ignore) decision awaiting the final
// risk re-check. Sizing depends on the winning engine's output, which is
// why the gates run after scenario evaluation.
type Proposal struct {
	Candidate models.SignalCandidate
	Decision  models.EPLDecision
	Execution *models.ExecutionParams
	Positions []models.PositionInfo
	Metrics   models.RiskMetrics
	Market    models.MarketContext
}

// Check runs both gates and returns the assessment. Approved is false when
// any gate fails; FailedGates names each failed gate for the audit trail.
func (m *Manager) Check(p Proposal) *models.RiskAssessment {
	a := &models.RiskAssessment{Approved: true}

	m.checkPortfolio(p, a)
	m.checkPosition(p, a)

	return a
}

// checkPortfolio evaluates concurrent-position count, cross-position
// correlation, sector concentration and daily value-at-risk.
func (m *Manager) checkPortfolio(p Proposal, a *models.RiskAssessment) {
	// Concurrent positions limit only binds decisions that add a position.
	if p.Decision == models.CreateNewPosition && len(p.Positions) >= m.cfg.MaxConcurrentPositions {
		fail(a, "portfolio_capacity", fmt.Sprintf(
			"concurrent positions %d at limit %d", len(p.Positions), m.cfg.MaxConcurrentPositions))
	}

	if corr, against := m.maxCorrelation(p); corr > m.cfg.MaxCorrelation {
		fail(a, "cross_correlation", fmt.Sprintf(
			"correlation %.2f with %s exceeds limit %.2f", corr, against, m.cfg.MaxCorrelation))
	}

	if conc, sector := m.sectorConcentration(p); conc > m.cfg.MaxSectorConcentration {
		fail(a, "sector_concentration", fmt.Sprintf(
			"sector %s concentration %.2f exceeds limit %.2f", sector, conc, m.cfg.MaxSectorConcentration))
	}

	varTotal := p.Metrics.DailyVaR
	if p.Execution != nil {
		varTotal += p.Execution.RiskPerTrade
	}
	if varTotal > m.cfg.MaxDailyVaR {
		fail(a, "daily_var", fmt.Sprintf(
			"daily VaR %.3f exceeds limit %.3f", varTotal, m.cfg.MaxDailyVaR))
	}
}

// checkPosition evaluates size limits and mandatory stops, and flags the
// trailing stop once the unrealized gain threshold is met.
func (m *Manager) checkPosition(p Proposal, a *models.RiskAssessment) {
	if p.Execution == nil {
		fail(a, "execution_params", "accepted decision carries no execution parameters")
		return
	}

	if p.Metrics.Capital > 0 {
		notional := p.Execution.Size * p.Candidate.Technical.Price
		if frac := notional / p.Metrics.Capital; frac > m.cfg.MaxPositionPercent {
			fail(a, "position_size", fmt.Sprintf(
				"size %.2f%% of capital exceeds limit %.2f%%", frac*100, m.cfg.MaxPositionPercent*100))
		}
	}

	if p.Execution.StopLoss <= 0 {
		fail(a, "stop_loss", "stop-loss is mandatory")
	}
	if p.Execution.TakeProfit <= 0 {
		fail(a, "take_profit", "take-profit is mandatory")
	}

	// Trailing stop activates on strengthened positions already in gain.
	if p.Decision == models.StrengthenPosition {
		if pos, ok := findPosition(p.Positions, p.Candidate.Symbol); ok &&
			pos.UnrealizedPnL >= m.cfg.TrailingStopGain {
			p.Execution.TrailingStop = true
		}
	}
}

// maxCorrelation estimates the highest pairwise correlation between the
// candidate's instrument and any held position.
func (m *Manager) maxCorrelation(p Proposal) (float64, string) {
	var maxCorr float64
	var against string
	class := p.Candidate.Metadata["instrument_class"]

	for _, pos := range p.Positions {
		if pos.Symbol == p.Candidate.Symbol {
			continue
		}
		c := pairCorrelation(p.Candidate.Symbol, class, pos, p.Market)
		if c > maxCorr {
			maxCorr = c
			against = pos.Symbol
		}
	}
	return maxCorr, against
}

// sectorConcentration returns the candidate sector's post-trade share of
// capital.
func (m *Manager) sectorConcentration(p Proposal) (float64, string) {
	sector := p.Candidate.Metadata["instrument_class"]
	if sector == "" {
		if pos, ok := findPosition(p.Positions, p.Candidate.Symbol); ok {
			sector = pos.InstrumentClass
		}
	}
	if sector == "" || p.Metrics.Capital <= 0 {
		return 0, sector
	}

	current := p.Metrics.SectorExposure[sector]
	var added float64
	if p.Execution != nil && p.Decision != models.ReplacePosition {
		added = p.Execution.Size * p.Candidate.Technical.Price / p.Metrics.Capital
	}
	return current + added, sector
}

func findPosition(positions []models.PositionInfo, symbol string) (models.PositionInfo, bool) {
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return pos, true
		}
	}
	return models.PositionInfo{}, false
}

func fail(a *models.RiskAssessment, gate, violation string) {
	a.Approved = false
	a.FailedGates = append(a.FailedGates, gate)
	a.Violations = append(a.Violations, violation)
}
