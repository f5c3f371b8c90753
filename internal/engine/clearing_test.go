package engine

import (
	"errors"
	"math"
	"testing"

	"dasim/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("refused")

type account struct {
	id        string
	balance   float64
	position  int64
	refuseBuy bool // refuse position credits
}

func (a *account) ID() string       { return a.id }
func (a *account) Balance() float64 { return a.balance }
func (a *account) Position() int64  { return a.position }

func (a *account) AdjustBalance(delta float64) error {
	if a.balance+delta < 0 {
		return errRefused
	}
	a.balance += delta
	return nil
}

func (a *account) AdjustPosition(delta int64) error {
	if a.position+delta < 0 || (a.refuseBuy && delta > 0) {
		return errRefused
	}
	a.position += delta
	return nil
}

func TestClearingHouse_Checks(t *testing.T) {
	var ch ClearingHouse
	a := &account{id: "a", balance: 10, position: 3}

	assert.True(t, ch.CheckSeller(a, 3))
	assert.False(t, ch.CheckSeller(a, 4))
	assert.True(t, ch.CheckBuyer(a, 4, 2.5))
	assert.False(t, ch.CheckBuyer(a, 5, 2.5))
}

func TestClearingHouse_SizeBeyondPositionRange(t *testing.T) {
	var ch ClearingHouse
	rich := &account{id: "r", balance: 10, position: math.MaxInt64}
	broke := &account{id: "b", balance: 10}

	assert.True(t, ch.CheckSeller(rich, math.MaxInt64))
	assert.False(t, ch.CheckSeller(rich, math.MaxInt64+1))
	assert.False(t, ch.CheckSeller(broke, 1<<63))
	assert.False(t, ch.CheckSeller(broke, math.MaxUint64))

	err := ch.Settle(broke, rich, 1<<63, 0)
	assert.ErrorIs(t, err, ErrSettlement)
	assert.Equal(t, int64(math.MaxInt64), rich.position)
	assert.Equal(t, int64(0), broke.position)
	assert.False(t, ch.Transacted())
}

func TestClearingHouse_SettleConserves(t *testing.T) {
	var ch ClearingHouse
	buyer := &account{id: "b", balance: 100, position: 5}
	seller := &account{id: "s", balance: 50, position: 20}

	require.NoError(t, ch.Settle(buyer, seller, 4, 2.5))

	assert.Equal(t, 90.0, buyer.balance)
	assert.Equal(t, int64(9), buyer.position)
	assert.Equal(t, 60.0, seller.balance)
	assert.Equal(t, int64(16), seller.position)
	assert.Equal(t, 150.0, buyer.balance+seller.balance)
	assert.Equal(t, int64(25), buyer.position+seller.position)
	assert.Equal(t, 2.5, ch.LastPrice())
	assert.True(t, ch.Transacted())

	ch.reset()
	assert.False(t, ch.Transacted())
	assert.Equal(t, 2.5, ch.LastPrice())
}

func TestClearingHouse_SettleRollsBack(t *testing.T) {
	var ch ClearingHouse
	buyer := &account{id: "b", balance: 100, refuseBuy: true}
	seller := &account{id: "s", balance: 50, position: 20}

	err := ch.Settle(buyer, seller, 4, 2.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, errRefused)

	assert.Equal(t, 100.0, buyer.balance)
	assert.Equal(t, int64(0), buyer.position)
	assert.Equal(t, 50.0, seller.balance)
	assert.Equal(t, int64(20), seller.position)
	assert.False(t, ch.Transacted())
}

func TestOrderBook_SettlementFailureAborts(t *testing.T) {
	book := NewOrderBook(WithExpiration(nil))
	seller := &account{id: "s", position: 5}
	buyer := &account{id: "b", balance: 100, refuseBuy: true}

	require.True(t, book.SubmitLimit(common.Sell, 2, 1.0, 10, seller).OK())
	result := book.SubmitMarket(common.Buy, 1, buyer)

	assert.Equal(t, Unfilled, result.Outcome)
	assert.Equal(t, SettlementFailed, result.Reason)
	assert.ErrorIs(t, result.Err(), ErrSettlement)
	assert.Equal(t, 1, book.AskDepth())
	assert.Equal(t, int64(5), seller.position)
}

func TestOrderBook_IndicesStayCoupled(t *testing.T) {
	book := NewOrderBook(WithExpiration(nil), WithSkipPolicy(DiscardSkipped))
	rich := &account{id: "rich", balance: 1000, position: 1000}
	broke := &account{id: "broke"}

	for i := 0; i < 20; i++ {
		owner := rich
		if i%3 == 0 {
			owner = broke
		}
		book.SubmitLimit(common.Sell, uint64(i%4+1), 10+float64(i%5), i, owner)
	}
	book.SubmitMarket(common.Buy, 15, rich)
	book.ClearExpired(7)

	assert.Equal(t, book.orders.len(), book.bids.len()+book.asks.len())
	assert.Equal(t, book.orders.len(), book.expiry.len())
	for _, e := range book.expiry.items() {
		_, ok := book.orders.get(e.Handle)
		assert.True(t, ok)
		assert.Greater(t, e.Round, 7)
	}
}
