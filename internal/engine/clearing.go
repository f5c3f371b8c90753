package engine

import (
	"fmt"
	"math"
)

// ClearingHouse makes sure the buyer has the funds and the seller has the
// shares before a trade moves anything, then moves both legs together.
type ClearingHouse struct {
	lastPrice  float64
	transacted bool
}

// CheckSeller reports whether seller holds at least size shares. Positions
// are int64, so no seller can cover a size above math.MaxInt64.
func (ch *ClearingHouse) CheckSeller(seller Account, size uint64) bool {
	if size > math.MaxInt64 {
		return false
	}
	return seller.Position() >= int64(size)
}

// CheckBuyer reports whether buyer can pay size*price.
func (ch *ClearingHouse) CheckBuyer(buyer Account, size uint64, price float64) bool {
	return buyer.Balance() >= float64(size)*price
}

// Settle transfers size shares from seller to buyer at price. Only call it
// once both CheckSeller and CheckBuyer passed for the same size and price.
// If an account refuses an adjustment the legs already applied are undone
// and the trade is not recorded.
func (ch *ClearingHouse) Settle(buyer, seller Account, size uint64, price float64) error {
	if size > math.MaxInt64 {
		return fmt.Errorf("settle %d shares: %w", size, ErrSettlement)
	}
	qty := int64(size)
	cost := float64(size) * price

	if err := seller.AdjustPosition(-qty); err != nil {
		return fmt.Errorf("debit seller %s position: %w", seller.ID(), err)
	}
	if err := buyer.AdjustBalance(-cost); err != nil {
		_ = seller.AdjustPosition(qty)
		return fmt.Errorf("debit buyer %s balance: %w", buyer.ID(), err)
	}
	if err := seller.AdjustBalance(cost); err != nil {
		_ = buyer.AdjustBalance(cost)
		_ = seller.AdjustPosition(qty)
		return fmt.Errorf("credit seller %s balance: %w", seller.ID(), err)
	}
	if err := buyer.AdjustPosition(qty); err != nil {
		_ = seller.AdjustBalance(-cost)
		_ = buyer.AdjustBalance(cost)
		_ = seller.AdjustPosition(qty)
		return fmt.Errorf("credit buyer %s position: %w", buyer.ID(), err)
	}

	ch.lastPrice = price
	ch.transacted = true
	return nil
}

// LastPrice is the price of the most recent settled trade, 0 before any.
func (ch *ClearingHouse) LastPrice() float64 {
	return ch.lastPrice
}

// Transacted reports whether a trade settled since the last reset.
func (ch *ClearingHouse) Transacted() bool {
	return ch.transacted
}

func (ch *ClearingHouse) reset() {
	ch.transacted = false
}
