package risk

import (
	"gonum.org/v1/gonum/stat"

	"epl-engine/internal/models"
)

// Correlations assigned by the instrument-class heuristic when no return
// series are available. Same-class instruments move together often enough
// that the approximation errs on the conservative side.
const (
	sameClassCorrelation  = 0.80
	crossClassCorrelation = 0.20
)

// pairCorrelation estimates the correlation between the candidate symbol
// and a held position. When the market context carries return series for
// both symbols, the sample Pearson correlation is used; otherwise an
// instrument-class heuristic stands in.
func pairCorrelation(symbol, class string, pos models.PositionInfo, market models.MarketContext) float64 {
	if rs := market.ReturnSeries; rs != nil {
		a, aok := rs[symbol]
		b, bok := rs[pos.Symbol]
		if aok && bok {
			n := len(a)
			if len(b) < n {
				n = len(b)
			}
			if n >= 2 {
				c := stat.Correlation(a[:n], b[:n], nil)
				if c < 0 {
					c = -c
				}
				if c <= 1 {
					return c
				}
			}
		}
	}

	if class != "" && class == pos.InstrumentClass {
		return sameClassCorrelation
	}
	return crossClassCorrelation
}
