package agent

import (
	"math/rand"

	"dasim/internal/common"
)

// RandomTrader is a zero-intelligence trader: it submits a limit order with
// probability LimitProb (else a market order), and sells with probability
// SellProb (else buys). Limit prices are drawn uniformly within Interval of
// the opposing best price, or of FundamentalPrice while that side is empty.
type RandomTrader struct {
	LimitProb        float64
	SellProb         float64
	Interval         float64
	Lifetime         int
	FundamentalPrice float64
}

func (r RandomTrader) Kind() Kind { return ZeroIntelligence }

func (r RandomTrader) Decide(round int, quotes Quotes, _ History, rng *rand.Rand) (common.Order, bool) {
	r1 := rng.Float64()
	r2 := rng.Float64()

	if r1 >= r.LimitProb {
		if r2 < r.SellProb {
			return marketOrder(common.Sell), true
		}
		return marketOrder(common.Buy), true
	}

	// Without expirations the lifetime is irrelevant, orders are stamped
	// with the current round.
	lifetime := 0
	if quotes.ExpirationsEnabled() {
		lifetime = r.Lifetime
	}

	price := rng.Float64() * r.Interval
	if r2 < r.SellProb {
		if bid, ok := quotes.BestBid(); ok {
			price += bid
		} else {
			price += r.FundamentalPrice
		}
		return limitOrder(common.Sell, price, lifetime), true
	}

	if ask, ok := quotes.BestAsk(); ok {
		price += ask - r.Interval
	} else {
		price += r.FundamentalPrice - r.Interval
	}
	return limitOrder(common.Buy, price, lifetime), true
}
