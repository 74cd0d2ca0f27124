package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epl-engine/internal/config"
	eplerrors "epl-engine/internal/errors"
	"epl-engine/internal/models"
)

func replacementInput() EvalInput {
	position := models.PositionInfo{
		Symbol:        "BTCUSDT",
		Direction:     models.DirectionBuy,
		Size:          0.2,
		EntryPrice:    50000,
		EntryTime:     time.Now().Add(-30 * time.Minute),
		Confidence:    0.60,
		Strength:      0.90,
		UnrealizedPnL: 0.01,
	}
	return EvalInput{
		Candidate: models.SignalCandidate{
			ID:                   "t-replace",
			Symbol:               "BTCUSDT",
			Direction:            models.DirectionSell,
			Strength:             0.95,
			Confidence:           0.95,
			Quality:              0.85,
			Timestamp:            time.Now(),
			ReplacementCandidate: true,
			Technical:            models.TechnicalSnapshot{Price: 50000, ATR: 800, TrendStrength: 0.6, Oscillator: 20},
			Market:               models.MarketSnapshot{Volatility: 0.03, Liquidity: 0.7},
		},
		Position:  &position,
		Positions: []models.PositionInfo{position},
		Metrics:   models.RiskMetrics{Capital: 200000},
		Now:       time.Now(),
	}
}

func TestReplacementEngineAccepts(t *testing.T) {
	engine := NewReplacementEngine(config.Default().Engines.Replacement)

	vote := engine.Evaluate(context.Background(), replacementInput())

	require.NoError(t, vote.Err)
	assert.True(t, vote.Accepted)
	assert.GreaterOrEqual(t, vote.Score, 0.75)
	require.NotNil(t, vote.Execution)
	assert.Greater(t, vote.Execution.Size, 0.0)
}

func TestReplacementEngineReportsAllFailedGates(t *testing.T) {
	engine := NewReplacementEngine(config.Default().Engines.Replacement)

	in := replacementInput()
	in.Candidate.Confidence = 0.65          // improvement 0.05, below 0.15
	in.Candidate.Direction = models.DirectionBuy // same side as the position
	in.Candidate.ReplacementCandidate = false
	in.Position.EntryTime = time.Now().Add(-time.Minute) // too young

	vote := engine.Evaluate(context.Background(), in)

	require.NoError(t, vote.Err)
	assert.False(t, vote.Accepted)
	// Every failed gate is reported, not just the first.
	assert.Len(t, vote.Reasons, 4)
}

func TestReplacementEngineErrsWithoutPosition(t *testing.T) {
	engine := NewReplacementEngine(config.Default().Engines.Replacement)

	in := replacementInput()
	in.Position = nil

	vote := engine.Evaluate(context.Background(), in)
	assert.ErrorIs(t, vote.Err, eplerrors.ErrPositionNotFound)
	assert.False(t, vote.Accepted)
}

func TestReplacementEngineBlocksDeepLoss(t *testing.T) {
	engine := NewReplacementEngine(config.Default().Engines.Replacement)

	in := replacementInput()
	in.Position.UnrealizedPnL = -0.08 // beyond the 5% loss limit

	vote := engine.Evaluate(context.Background(), in)

	require.NoError(t, vote.Err)
	assert.False(t, vote.Accepted)
	assert.Nil(t, vote.Execution)
}

func strengtheningInput() EvalInput {
	position := models.PositionInfo{
		Symbol:        "BTCUSDT",
		Direction:     models.DirectionBuy,
		Size:          0.01,
		EntryPrice:    50000,
		EntryTime:     time.Now().Add(-time.Hour),
		Confidence:    0.70,
		Strength:      0.80,
		UnrealizedPnL: 0.02,
	}
	return EvalInput{
		Candidate: models.SignalCandidate{
			ID:         "t-strengthen",
			Symbol:     "BTCUSDT",
			Direction:  models.DirectionBuy,
			Strength:   0.78,
			Confidence: 0.79,
			Quality:    0.85,
			Timestamp:  time.Now(),
			Technical:  models.TechnicalSnapshot{Price: 50000, ATR: 800, TrendStrength: 0.7, Oscillator: 80},
			Market:     models.MarketSnapshot{Volatility: 0.02, Liquidity: 0.7},
		},
		Position:  &position,
		Positions: []models.PositionInfo{position},
		Metrics:   models.RiskMetrics{Capital: 200000},
		Now:       time.Now(),
	}
}

func TestStrengtheningEngineAccepts(t *testing.T) {
	engine := NewStrengtheningEngine(config.Default().Engines.Strengthening)

	vote := engine.Evaluate(context.Background(), strengtheningInput())

	require.NoError(t, vote.Err)
	assert.True(t, vote.Accepted)
	require.NotNil(t, vote.Execution)
	assert.Greater(t, vote.Execution.Size, 0.0)
}

func TestStrengtheningEngineRequiresProfit(t *testing.T) {
	engine := NewStrengtheningEngine(config.Default().Engines.Strengthening)

	in := strengtheningInput()
	in.Position.UnrealizedPnL = -0.01

	vote := engine.Evaluate(context.Background(), in)

	require.NoError(t, vote.Err)
	assert.False(t, vote.Accepted)
}

func TestStrengtheningEngineHalvesSizeUnderHighVolatility(t *testing.T) {
	cfg := config.Default().Engines.Strengthening
	cfg.MinScore = 0 // isolate the sizing rule from the score gate
	engine := NewStrengtheningEngine(cfg)

	calm := engine.Evaluate(context.Background(), strengtheningInput())
	require.True(t, calm.Accepted)

	in := strengtheningInput()
	in.Candidate.Market.Volatility = cfg.HighVolatility + 0.005
	stressed := engine.Evaluate(context.Background(), in)

	require.True(t, stressed.Accepted)
	assert.InDelta(t, calm.Execution.Size/2, stressed.Execution.Size, 1e-9)
}

func TestStrengtheningEngineRejectsWhenExposureCapFull(t *testing.T) {
	cfg := config.Default().Engines.Strengthening
	engine := NewStrengtheningEngine(cfg)

	in := strengtheningInput()
	// Position already absorbs the whole exposure budget.
	in.Position.Size = in.Metrics.Capital * cfg.MaxTotalExposure / in.Position.EntryPrice

	vote := engine.Evaluate(context.Background(), in)

	require.NoError(t, vote.Err)
	assert.False(t, vote.Accepted)
	assert.Nil(t, vote.Execution)
}

func newPositionInput() EvalInput {
	return EvalInput{
		Candidate: models.SignalCandidate{
			ID:         "t-new",
			Symbol:     "BTCUSDT",
			Direction:  models.DirectionBuy,
			Strength:   0.80,
			Confidence: 0.85,
			Quality:    0.82,
			Timestamp:  time.Now(),
			Technical:  models.TechnicalSnapshot{Price: 50000, ATR: 800, TrendStrength: 0.7, Oscillator: 68},
			Market:     models.MarketSnapshot{Volatility: 0.03, Liquidity: 0.7},
		},
		Metrics: models.RiskMetrics{Capital: 200000},
		Now:     time.Now(),
	}
}

func TestNewPositionEngineAccepts(t *testing.T) {
	engine := NewNewPositionEngine(config.Default().Engines.NewPosition)

	vote := engine.Evaluate(context.Background(), newPositionInput())

	require.NoError(t, vote.Err)
	assert.True(t, vote.Accepted)
	require.NotNil(t, vote.Execution)
	assert.Greater(t, vote.Execution.Size, 0.0)
	assert.Less(t, vote.Execution.StopLoss, 50000.0)
	assert.Greater(t, vote.Execution.TakeProfit, 50000.0)
}

func TestNewPositionEngineRejectsThinLiquidity(t *testing.T) {
	engine := NewNewPositionEngine(config.Default().Engines.NewPosition)

	in := newPositionInput()
	in.Candidate.Market.Liquidity = 0.4

	vote := engine.Evaluate(context.Background(), in)

	require.NoError(t, vote.Err)
	assert.False(t, vote.Accepted)
}

func TestNewPositionEnginePenalizesSameClassCorrelation(t *testing.T) {
	engine := NewNewPositionEngine(config.Default().Engines.NewPosition)

	uncorrelated := newPositionInput()
	uncorrelated.Positions = []models.PositionInfo{{Symbol: "SPY", InstrumentClass: "equity"}}

	correlated := newPositionInput()
	correlated.Candidate.Metadata = map[string]string{"instrument_class": "crypto"}
	correlated.Positions = []models.PositionInfo{{Symbol: "ETHUSDT", InstrumentClass: "crypto"}}

	loose := engine.Evaluate(context.Background(), uncorrelated)
	tight := engine.Evaluate(context.Background(), correlated)

	assert.Greater(t, loose.Score, tight.Score)
}

func TestNewPositionEngineErrsOnDegeneratePrice(t *testing.T) {
	engine := NewNewPositionEngine(config.Default().Engines.NewPosition)

	in := newPositionInput()
	in.Candidate.Technical.Price = 0

	vote := engine.Evaluate(context.Background(), in)
	assert.ErrorIs(t, vote.Err, eplerrors.ErrOutOfRange)
}

// A score landing exactly on the threshold is accepted; the minimum-score
// constants are inclusive.
func TestEngineThresholdsAreInclusive(t *testing.T) {
	t.Run("replacement", func(t *testing.T) {
		cfg := config.Default().Engines.Replacement
		cfg.MinScore = 0
		probe := NewReplacementEngine(cfg).Evaluate(context.Background(), replacementInput())
		require.True(t, probe.Accepted)

		cfg.MinScore = probe.Score
		at := NewReplacementEngine(cfg).Evaluate(context.Background(), replacementInput())
		assert.True(t, at.Accepted)

		cfg.MinScore = probe.Score + 1e-9
		above := NewReplacementEngine(cfg).Evaluate(context.Background(), replacementInput())
		assert.False(t, above.Accepted)
	})

	t.Run("strengthening", func(t *testing.T) {
		cfg := config.Default().Engines.Strengthening
		cfg.MinScore = 0
		probe := NewStrengtheningEngine(cfg).Evaluate(context.Background(), strengtheningInput())
		require.True(t, probe.Accepted)

		cfg.MinScore = probe.Score
		at := NewStrengtheningEngine(cfg).Evaluate(context.Background(), strengtheningInput())
		assert.True(t, at.Accepted)

		cfg.MinScore = probe.Score + 1e-9
		above := NewStrengtheningEngine(cfg).Evaluate(context.Background(), strengtheningInput())
		assert.False(t, above.Accepted)
	})

	t.Run("new_position", func(t *testing.T) {
		cfg := config.Default().Engines.NewPosition
		cfg.MinScore = 0
		probe := NewNewPositionEngine(cfg).Evaluate(context.Background(), newPositionInput())
		require.True(t, probe.Accepted)

		cfg.MinScore = probe.Score
		at := NewNewPositionEngine(cfg).Evaluate(context.Background(), newPositionInput())
		assert.True(t, at.Accepted)

		cfg.MinScore = probe.Score + 1e-9
		above := NewNewPositionEngine(cfg).Evaluate(context.Background(), newPositionInput())
		assert.False(t, above.Accepted)
	})
}

func TestIgnoreEngineClassifiesLowQuality(t *testing.T) {
	engine := NewIgnoreEngine(config.Default().Engines.Ignore)

	in := EvalInput{
		Candidate: models.SignalCandidate{
			Quality:    0.20,
			Confidence: 0.4,
			Direction:  models.DirectionBuy,
			Technical:  models.TechnicalSnapshot{Price: 100},
			Market:     models.MarketSnapshot{Volatility: 0.01, Liquidity: 0.9},
			Timestamp:  time.Now(),
		},
		Now: time.Now(),
	}

	vote := engine.Evaluate(context.Background(), in)

	assert.True(t, vote.Accepted)
	assert.Equal(t, models.IgnoreLowQuality, vote.Reason)
	assert.False(t, vote.Override)
	assert.NotEmpty(t, vote.Suggestions)
}

func TestIgnoreEngineClassifiesRedundancy(t *testing.T) {
	engine := NewIgnoreEngine(config.Default().Engines.Ignore)

	position := models.PositionInfo{
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionBuy,
		Confidence: 0.85,
	}
	in := EvalInput{
		Candidate: models.SignalCandidate{
			Symbol:     "BTCUSDT",
			Direction:  models.DirectionBuy,
			Quality:    0.85,
			Confidence: 0.85, // no edge over the held position
			Technical:  models.TechnicalSnapshot{Price: 100},
			Market:     models.MarketSnapshot{Volatility: 0.01, Liquidity: 0.9},
			Timestamp:  time.Now(),
		},
		Position: &position,
		Now:      time.Now(),
	}

	vote := engine.Evaluate(context.Background(), in)

	assert.Equal(t, models.IgnoreRedundant, vote.Reason)
}

func TestIgnoreEngineOverridesOnMultipleFactors(t *testing.T) {
	engine := NewIgnoreEngine(config.Default().Engines.Ignore)

	position := models.PositionInfo{
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionBuy,
		Confidence: 0.9,
	}
	in := EvalInput{
		Candidate: models.SignalCandidate{
			Symbol:     "BTCUSDT",
			Direction:  models.DirectionBuy,
			Quality:    0.10,
			Confidence: 0.3,
			Technical:  models.TechnicalSnapshot{Price: 100},
			Market:     models.MarketSnapshot{Volatility: 0.09, Liquidity: 0.1},
			Timestamp:  time.Now(),
		},
		Position: &position,
		Metrics:  models.RiskMetrics{DailyDrawdown: 0.06},
		Now:      time.Now(),
	}

	vote := engine.Evaluate(context.Background(), in)

	assert.True(t, vote.Override)
	assert.Equal(t, models.IgnoreMultipleFactors, vote.Reason)
	assert.GreaterOrEqual(t, len(vote.Suggestions), 2)
}

func TestRouterRestrictsScenarios(t *testing.T) {
	var router Router
	buy := models.SignalCandidate{Direction: models.DirectionBuy}

	assert.Equal(t, []Scenario{ScenarioNewPosition, ScenarioIgnore},
		router.Route(buy, nil))

	long := &models.PositionInfo{Direction: models.DirectionBuy}
	assert.Equal(t, []Scenario{ScenarioStrengthening, ScenarioIgnore},
		router.Route(buy, long))

	short := &models.PositionInfo{Direction: models.DirectionSell}
	assert.Equal(t, []Scenario{ScenarioReplacement, ScenarioIgnore},
		router.Route(buy, short))
}

func TestValidateCandidate(t *testing.T) {
	now := time.Now()
	valid := newPositionInput().Candidate

	assert.NoError(t, validateCandidate(valid, now, 5*time.Minute))

	missing := valid
	missing.Symbol = ""
	assert.Error(t, validateCandidate(missing, now, 5*time.Minute))

	badRange := valid
	badRange.Confidence = 1.2
	assert.Error(t, validateCandidate(badRange, now, 5*time.Minute))

	badDirection := valid
	badDirection.Direction = "HOLD"
	assert.Error(t, validateCandidate(badDirection, now, 5*time.Minute))

	stale := valid
	stale.Timestamp = now.Add(-6 * time.Minute)
	assert.Error(t, validateCandidate(stale, now, 5*time.Minute))

	noPrice := valid
	noPrice.Technical.Price = 0
	assert.Error(t, validateCandidate(noPrice, now, 5*time.Minute))
}
