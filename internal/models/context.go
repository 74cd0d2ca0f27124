package models

// RiskMetrics carries portfolio-level risk figures from the upstream
// pipeline. Read-only inside the policy layer.
type RiskMetrics struct {
	Capital       float64 // total notional capital
	DailyDrawdown float64 // fraction, 0.03 = -3% on the day
	DailyVaR      float64 // fraction of capital
	// SectorExposure maps instrument class to the fraction of capital
	// currently allocated to it.
	SectorExposure map[string]float64

	// Historical averages used by the bounded Kelly sizing estimate.
	AvgWin  float64 // fraction, e.g. 0.04
	AvgLoss float64 // fraction, e.g. 0.02
}

// MarketContext carries regime and session tags from the upstream
// adaptation pipeline. Read-only inside the policy layer.
type MarketContext struct {
	Regime     string // e.g. "TRENDING", "RANGING", "HIGH_VOLATILITY"
	Session    string // e.g. "EU", "US", "ASIA", "OVERLAP"
	PriceShock float64 // 0..1, magnitude of a recent abrupt move

	// ReturnSeries optionally carries recent per-symbol return series
	// used for pairwise correlation estimation.
	ReturnSeries map[string][]float64
}
