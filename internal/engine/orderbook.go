package engine

import (
	"math"

	"dasim/internal/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OrderBook is a single-asset limit order book. Every live order sits in the
// arena and is referenced by handle from its side index and, when
// expiration is on, from the expiration index.
//
// OrderBook is not safe for concurrent use; see Engine.
type OrderBook struct {
	orders   *arena
	bids     *bookSide
	asks     *bookSide
	expiry   *expiryIndex // nil when orders never expire
	clearing ClearingHouse

	preventSelfTrade bool
	skipPolicy       SkipPolicy
	tradeSeq         uint64
	logger           zerolog.Logger
}

func NewOrderBook(opts ...Option) *OrderBook {
	book := &OrderBook{
		orders: newArena(),
		bids:   newBids(),
		asks:   newAsks(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(book)
	}
	return book
}

// SubmitLimit places a limit order which can either:
// 1. Rest in the book.
// 2. Cross the opposing best price, in which case it is matched at once as a
// market order of the same size and never rests.
func (book *OrderBook) SubmitLimit(side common.Side, size uint64, price float64, expiration int, owner Account) Result {
	book.clearing.reset()

	if size == 0 || size > math.MaxInt64 {
		book.logger.Debug().
			Str("owner", owner.ID()).
			Uint64("size", size).
			Msg("rejected limit order with invalid size")
		return rejected(size, InvalidSize)
	}
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		book.logger.Debug().
			Str("owner", owner.ID()).
			Float64("price", price).
			Msg("rejected limit order with invalid price")
		return rejected(size, InvalidPrice)
	}

	if book.crosses(side, price) {
		result := book.match(side, size, owner)
		result.Crossed = true
		return result
	}

	order := book.orders.alloc(Order{
		ID:         uuid.New(),
		Side:       side,
		Price:      price,
		Size:       size,
		TotalSize:  size,
		Expiration: expiration,
		Owner:      owner,
	})
	book.sideOf(side).insert(order)
	if book.expiry != nil {
		book.expiry.add(order)
	}

	return Result{
		Outcome:   Rested,
		OrderID:   order.ID,
		Requested: size,
	}
}

// SubmitMarket sweeps the opposing side for size shares on behalf of taker.
// A Sell taker liquidates against the bids, a Buy taker acquires from the
// asks. Whatever cannot be filled is dropped; market orders never rest.
func (book *OrderBook) SubmitMarket(side common.Side, size uint64, taker Account) Result {
	book.clearing.reset()

	if size == 0 || size > math.MaxInt64 {
		book.logger.Debug().
			Str("owner", taker.ID()).
			Uint64("size", size).
			Msg("rejected market order with invalid size")
		return rejected(size, InvalidSize)
	}
	return book.match(side, size, taker)
}

// match consumes resting orders in price-time priority until the taker's
// size is filled, the opposing side runs dry, or the taker fails clearing.
//
// Clearing failures are asymmetric. If the resting order's owner cannot
// honour the trade, that order is skipped and the sweep moves on. If the
// taker cannot, the sweep stops and the resting order stays untouched.
func (book *OrderBook) match(side common.Side, size uint64, taker Account) Result {
	opposing := book.sideOf(side.Opposite())
	result := Result{Requested: size}
	remaining := size

	var skipped map[Handle]struct{}
	skip := func(resting *Order) {
		result.Skipped++
		if book.skipPolicy == DiscardSkipped {
			book.remove(resting)
			return
		}
		if skipped == nil {
			skipped = make(map[Handle]struct{})
		}
		skipped[resting.Handle] = struct{}{}
	}

	for remaining > 0 {
		resting, ok := book.next(opposing, skipped)
		if !ok {
			result.Outcome = Unfilled
			result.Reason = InsufficientLiquidity
			return result
		}

		buyer, seller := taker, resting.Owner
		if side == common.Sell {
			buyer, seller = resting.Owner, taker
		}

		if book.preventSelfTrade && sameAccount(resting.Owner, taker) {
			skip(resting)
			continue
		}

		qty := min(resting.Size, remaining)

		if !book.clearing.CheckSeller(seller, qty) {
			if side == common.Sell {
				return book.abort(result, taker, TakerInsolvent)
			}
			book.logger.Debug().
				Str("seller", seller.ID()).
				Uint64("size", qty).
				Msg("skipping resting sell, seller short of shares")
			skip(resting)
			continue
		}
		if !book.clearing.CheckBuyer(buyer, qty, resting.Price) {
			if side == common.Buy {
				return book.abort(result, taker, TakerInsolvent)
			}
			book.logger.Debug().
				Str("buyer", buyer.ID()).
				Uint64("size", qty).
				Float64("price", resting.Price).
				Msg("skipping resting buy, buyer short of funds")
			skip(resting)
			continue
		}

		if err := book.clearing.Settle(buyer, seller, qty, resting.Price); err != nil {
			book.logger.Error().Err(err).Msg("settlement failed after clearing checks passed")
			return book.abort(result, taker, SettlementFailed)
		}

		book.tradeSeq++
		result.Trades = append(result.Trades, common.Trade{
			Seq:        book.tradeSeq,
			MakerOrder: resting.ID,
			Buyer:      buyer.ID(),
			Seller:     seller.ID(),
			TakerSide:  side,
			Size:       qty,
			Price:      resting.Price,
		})
		result.Filled += qty
		remaining -= qty

		// A partially consumed order keeps its price, expiration and place
		// in its level's queue.
		resting.Size -= qty
		if resting.Size == 0 {
			book.remove(resting)
		}
	}

	result.Outcome = Filled
	return result
}

func (book *OrderBook) abort(result Result, taker Account, reason Reason) Result {
	book.logger.Debug().
		Str("taker", taker.ID()).
		Uint64("filled", result.Filled).
		Uint64("requested", result.Requested).
		Stringer("reason", reason).
		Msg("market order aborted")
	result.Outcome = Unfilled
	result.Reason = reason
	return result
}

// next returns the best order on s that has not been skipped this sweep.
func (book *OrderBook) next(s *bookSide, skipped map[Handle]struct{}) (*Order, bool) {
	var found Handle
	s.scan(func(h Handle) bool {
		if _, ok := skipped[h]; ok {
			return true
		}
		found = h
		return false
	})
	if found == 0 {
		return nil, false
	}
	return book.orders.get(found)
}

// remove drops an order from every index it is registered in, then from the
// arena.
func (book *OrderBook) remove(o *Order) {
	book.sideOf(o.Side).remove(o)
	if book.expiry != nil {
		book.expiry.remove(o)
	}
	book.orders.free(o.Handle)
}

// ClearExpired removes every order whose expiration round is at or before
// round and returns how many went. It does nothing when expiration is off.
func (book *OrderBook) ClearExpired(round int) int {
	if book.expiry == nil {
		return 0
	}

	n := 0
	for {
		top, ok := book.expiry.min()
		if !ok || top.Round > round {
			break
		}
		o, ok := book.orders.get(top.Handle)
		if !ok {
			// Stale entry, drop it so the sweep makes progress.
			book.expiry.entries.Delete(top)
			continue
		}
		book.remove(o)
		n++
	}
	if n > 0 {
		book.logger.Debug().Int("round", round).Int("expired", n).Msg("cleared expired orders")
	}
	return n
}

func (book *OrderBook) crosses(side common.Side, price float64) bool {
	switch side {
	case common.Buy:
		ask, ok := book.BestAsk()
		return ok && price >= ask
	case common.Sell:
		bid, ok := book.BestBid()
		return ok && price <= bid
	}
	return false
}

func (book *OrderBook) sideOf(side common.Side) *bookSide {
	if side == common.Sell {
		return book.asks
	}
	return book.bids
}

// ---- Queries ----

// BestBid is the highest resting buy price.
func (book *OrderBook) BestBid() (float64, bool) {
	level, ok := book.bids.best()
	if !ok {
		return 0, false
	}
	return level.priceLevel, true
}

// BestAsk is the lowest resting sell price.
func (book *OrderBook) BestAsk() (float64, bool) {
	level, ok := book.asks.best()
	if !ok {
		return 0, false
	}
	return level.priceLevel, true
}

// Spread is best ask minus best bid, undefined while either side is empty.
func (book *OrderBook) Spread() (float64, bool) {
	bid, bidOk := book.BestBid()
	ask, askOk := book.BestAsk()
	if !bidOk || !askOk {
		return 0, false
	}
	return ask - bid, true
}

// Midpoint is the average of best ask and best bid, undefined while either
// side is empty.
func (book *OrderBook) Midpoint() (float64, bool) {
	bid, bidOk := book.BestBid()
	ask, askOk := book.BestAsk()
	if !bidOk || !askOk {
		return 0, false
	}
	return (ask + bid) / 2.0, true
}

func (book *OrderBook) BidDepth() int { return book.bids.len() }
func (book *OrderBook) AskDepth() int { return book.asks.len() }

// Bids returns the buy side, best price first and oldest first within a
// price.
func (book *OrderBook) Bids() []OrderView { return book.views(book.bids) }

// Asks returns the sell side, best price first and oldest first within a
// price.
func (book *OrderBook) Asks() []OrderView { return book.views(book.asks) }

// Expirations returns the expiration index in sweep order, nil when
// expiration is off.
func (book *OrderBook) Expirations() []OrderView {
	if book.expiry == nil {
		return nil
	}
	entries := book.expiry.items()
	out := make([]OrderView, 0, len(entries))
	for _, e := range entries {
		if o, ok := book.orders.get(e.Handle); ok {
			out = append(out, o.view())
		}
	}
	return out
}

func (book *OrderBook) views(s *bookSide) []OrderView {
	out := make([]OrderView, 0, s.len())
	s.scan(func(h Handle) bool {
		if o, ok := book.orders.get(h); ok {
			out = append(out, o.view())
		}
		return true
	})
	return out
}

// ExpirationsEnabled reports whether resting orders can expire.
func (book *OrderBook) ExpirationsEnabled() bool {
	return book.expiry != nil
}

func (book *OrderBook) LastPrice() float64 {
	return book.clearing.LastPrice()
}

// Transacted reports whether the previous submission produced a trade.
func (book *OrderBook) Transacted() bool {
	return book.clearing.Transacted()
}

// Len is the number of live orders.
func (book *OrderBook) Len() int {
	return book.orders.len()
}
