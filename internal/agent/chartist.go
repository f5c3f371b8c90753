package agent

import (
	"math/rand"

	"dasim/internal/common"
)

// TrendTrader looks at the last Lookback prices. A strictly rising series
// makes it buy at market (sell when Contrarian), a strictly falling one the
// opposite. Otherwise it behaves like its embedded RandomTrader.
type TrendTrader struct {
	RandomTrader
	Lookback   int
	Contrarian bool
}

func (c TrendTrader) Kind() Kind { return Chartist }

func (c TrendTrader) Decide(round int, quotes Quotes, history History, rng *rand.Rand) (common.Order, bool) {
	// Neither rising nor falling.
	prices := []float64{1.0, 0.0, 2.0}
	if round > c.Lookback && history.Len() >= c.Lookback {
		prices = history.Last(c.Lookback)
	}

	switch {
	case isAscending(prices):
		if c.Contrarian {
			return marketOrder(common.Sell), true
		}
		return marketOrder(common.Buy), true
	case isDescending(prices):
		if c.Contrarian {
			return marketOrder(common.Buy), true
		}
		return marketOrder(common.Sell), true
	}
	return c.RandomTrader.Decide(round, quotes, history, rng)
}
