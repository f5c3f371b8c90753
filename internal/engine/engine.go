package engine

import (
	"fmt"
	"sync"

	"dasim/internal/common"
)

// Reporter receives every trade the engine executes, after the book lock is
// released.
type Reporter interface {
	ReportTrade(trade common.Trade) error
}

// This is the main matching engine. It owns one book and serialises every
// call into it: matching pops, checks and shrinks orders across three
// indices and must never interleave with another submission.
type Engine struct {
	mu       sync.Mutex
	book     *OrderBook
	reporter Reporter
}

func New(opts ...Option) *Engine {
	return &Engine{book: NewOrderBook(opts...)}
}

func (engine *Engine) SetReporter(reporter Reporter) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.reporter = reporter
}

// PlaceOrder routes an agent's instruction to the limit or market path.
// Lifetime has already been resolved into expiration by the caller.
func (engine *Engine) PlaceOrder(order common.Order, expiration int, owner Account) Result {
	switch order.OrderType {
	case common.LimitOrder:
		return engine.SubmitLimit(order.Side, order.Size, order.Price, expiration, owner)
	case common.MarketOrder:
		return engine.SubmitMarket(order.Side, order.Size, owner)
	}
	// The logger is fixed when the book is built, no lock needed.
	engine.book.logger.Warn().
		Str("owner", owner.ID()).
		Int("order_type", int(order.OrderType)).
		Msg("rejected order with unknown type")
	return rejected(order.Size, InvalidOrderType)
}

func (engine *Engine) SubmitLimit(side common.Side, size uint64, price float64, expiration int, owner Account) Result {
	engine.mu.Lock()
	result := engine.book.SubmitLimit(side, size, price, expiration, owner)
	reporter := engine.reporter
	engine.mu.Unlock()

	engine.report(reporter, result.Trades)
	return result
}

func (engine *Engine) SubmitMarket(side common.Side, size uint64, taker Account) Result {
	engine.mu.Lock()
	result := engine.book.SubmitMarket(side, size, taker)
	reporter := engine.reporter
	engine.mu.Unlock()

	engine.report(reporter, result.Trades)
	return result
}

func (engine *Engine) ClearExpired(round int) int {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.ClearExpired(round)
}

func (engine *Engine) report(reporter Reporter, trades []common.Trade) {
	if reporter == nil {
		return
	}
	for _, trade := range trades {
		if err := reporter.ReportTrade(trade); err != nil {
			engine.book.logger.Error().Err(err).Uint64("seq", trade.Seq).Msg("unable to report trade")
		}
	}
}

func (engine *Engine) BestBid() (float64, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.BestBid()
}

func (engine *Engine) BestAsk() (float64, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.BestAsk()
}

func (engine *Engine) Spread() (float64, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Spread()
}

func (engine *Engine) Midpoint() (float64, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Midpoint()
}

func (engine *Engine) ExpirationsEnabled() bool {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.ExpirationsEnabled()
}

// Quote is a consistent top-of-book reading.
type Quote struct {
	BestBid    *float64 `json:"best_bid,omitempty"`
	BestAsk    *float64 `json:"best_ask,omitempty"`
	Spread     *float64 `json:"spread,omitempty"`
	Midpoint   *float64 `json:"midpoint,omitempty"`
	BidDepth   int      `json:"bid_depth"`
	AskDepth   int      `json:"ask_depth"`
	LastPrice  float64  `json:"last_price"`
	Transacted bool     `json:"transacted"`
}

// Quote reads the top of book under one lock, so the fields agree.
func (engine *Engine) Quote() Quote {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.quote()
}

func (engine *Engine) quote() Quote {
	book := engine.book
	q := Quote{
		BidDepth:   book.BidDepth(),
		AskDepth:   book.AskDepth(),
		LastPrice:  book.LastPrice(),
		Transacted: book.Transacted(),
	}
	if v, ok := book.BestBid(); ok {
		q.BestBid = &v
	}
	if v, ok := book.BestAsk(); ok {
		q.BestAsk = &v
	}
	if v, ok := book.Spread(); ok {
		q.Spread = &v
	}
	if v, ok := book.Midpoint(); ok {
		q.Midpoint = &v
	}
	return q
}

// Snapshot is the full book at one instant.
type Snapshot struct {
	Quote
	Bids        []OrderView `json:"bids"`
	Asks        []OrderView `json:"asks"`
	Expirations []OrderView `json:"expirations,omitempty"`
}

func (engine *Engine) Snapshot() Snapshot {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return Snapshot{
		Quote:       engine.quote(),
		Bids:        engine.book.Bids(),
		Asks:        engine.book.Asks(),
		Expirations: engine.book.Expirations(),
	}
}

// Depth is the book aggregated by price level, best price first.
type Depth struct {
	Bids []FlatPriceLevel `json:"bids"`
	Asks []FlatPriceLevel `json:"asks"`
}

func (engine *Engine) Depth() Depth {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return Depth{
		Bids: engine.book.BidLevels(),
		Asks: engine.book.AskLevels(),
	}
}

func (q Quote) String() string {
	f := func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f", *v)
	}
	return fmt.Sprintf("bid=%s ask=%s spread=%s mid=%s depth=%d/%d last=%.2f",
		f(q.BestBid), f(q.BestAsk), f(q.Spread), f(q.Midpoint),
		q.BidDepth, q.AskDepth, q.LastPrice)
}
