package agent

import (
	"math"
	"math/rand"

	"dasim/internal/common"
)

// ValueTrader follows the Chiarella-Iori model: it forecasts a return from
// a fundamental component (distance to Value), a chartist component (mean
// return over Lookback rounds) and Gaussian noise, then quotes one share
// around the forecast price.
type ValueTrader struct {
	Value       float64 // Fundamental value of the asset
	Lifetime    int     // Rounds until its orders expire, also the horizon
	FundWeight  float64
	ChartWeight float64
	NoiseWeight float64
	Lookback    int
	Fraction    float64 // Share of the forecast price given up when quoting
	Tick        float64
}

func (v ValueTrader) Kind() Kind { return Fundamentalist }

func (v ValueTrader) Decide(round int, _ Quotes, history History, rng *rand.Rand) (common.Order, bool) {
	p := v.Value
	if round > 0 && history.Len() > 0 {
		if last := history.Last(1)[0]; !math.IsNaN(last) && last > 0 {
			p = last
		}
	}

	rbar := v.meanReturn(history)
	noise := rng.NormFloat64() * 0.1
	rhat := v.FundWeight*((v.Value-p)/p) + v.ChartWeight*rbar + v.NoiseWeight*noise
	phat := p * math.Exp(rhat*float64(v.Lifetime)/100.0)

	if phat >= p {
		return limitOrder(common.Buy, v.roundToTick(phat*(1-v.Fraction)), v.Lifetime), true
	}
	return limitOrder(common.Sell, v.roundToTick(phat*(1+v.Fraction)), v.Lifetime), true
}

// meanReturn averages the one-round returns over the lookback window, zero
// until enough history exists.
func (v ValueTrader) meanReturn(history History) float64 {
	if v.Lookback <= 0 || history.Len() <= v.Lookback {
		return 0
	}
	prices := history.Last(v.Lookback + 1)
	var sum float64
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if math.IsNaN(prev) || math.IsNaN(prices[i]) || prev == 0 {
			return 0
		}
		sum += (prices[i] - prev) / prev
	}
	return sum / float64(v.Lookback)
}

func (v ValueTrader) roundToTick(price float64) float64 {
	if v.Tick <= 0 {
		return price
	}
	rem := math.Mod(price, v.Tick)
	price -= rem
	if rem >= v.Tick/2 {
		price += v.Tick
	}
	return price
}
