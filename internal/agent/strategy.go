package agent

import (
	"math"
	"math/rand"

	"dasim/internal/common"
)

// Quotes is the read-only view of the book a strategy may consult.
type Quotes interface {
	BestBid() (float64, bool)
	BestAsk() (float64, bool)
	ExpirationsEnabled() bool
}

// History is the price series recorded by the driver, oldest first.
// Undefined prices read as NaN.
type History interface {
	Len() int
	Last(n int) []float64
}

type Strategy interface {
	Kind() Kind
	Decide(round int, quotes Quotes, history History, rng *rand.Rand) (common.Order, bool)
}

func isAscending(prices []float64) bool {
	for i := 0; i < len(prices)-1; i++ {
		a, b := prices[i], prices[i+1]
		if math.IsNaN(a) || math.IsNaN(b) || a < 0 || b < 0 || a >= b {
			return false
		}
	}
	return true
}

func isDescending(prices []float64) bool {
	for i := 0; i < len(prices)-1; i++ {
		a, b := prices[i], prices[i+1]
		if math.IsNaN(a) || math.IsNaN(b) || a < 0 || b < 0 || a <= b {
			return false
		}
	}
	return true
}

func marketOrder(side common.Side) common.Order {
	return common.Order{OrderType: common.MarketOrder, Side: side, Size: 1}
}

func limitOrder(side common.Side, price float64, lifetime int) common.Order {
	return common.Order{OrderType: common.LimitOrder, Side: side, Price: price, Size: 1, Lifetime: lifetime}
}
