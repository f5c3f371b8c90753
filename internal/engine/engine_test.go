package engine_test

import (
	"bytes"
	"sync"
	"testing"

	. "dasim/internal/common"
	"dasim/internal/engine"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockReporter struct {
	mu     sync.Mutex
	trades []Trade
}

func (r *MockReporter) ReportTrade(trade Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func TestEngine_PlaceOrder(t *testing.T) {
	eng := engine.New(engine.WithExpiration(nil))
	reporter := &MockReporter{}
	eng.SetReporter(reporter)

	seller := newAccount("S", 0, 10)
	buyer := newAccount("B", 100, 0)

	result := eng.PlaceOrder(Order{OrderType: LimitOrder, Side: Sell, Price: 1.25, Size: 2}, 30, seller)
	require.Equal(t, engine.Rested, result.Outcome)

	result = eng.PlaceOrder(Order{OrderType: MarketOrder, Side: Buy, Size: 1}, 0, buyer)
	require.Equal(t, engine.Filled, result.Outcome)

	result = eng.PlaceOrder(Order{OrderType: OrderType(9), Side: Buy, Size: 1}, 0, buyer)
	assert.Equal(t, engine.Rejected, result.Outcome)
	assert.Equal(t, engine.InvalidOrderType, result.Reason)

	require.Len(t, reporter.trades, 1)
	assert.Equal(t, "S", reporter.trades[0].Maker())
	assert.Equal(t, "B", reporter.trades[0].Taker())

	q := eng.Quote()
	require.NotNil(t, q.BestAsk)
	assert.Equal(t, 1.25, *q.BestAsk)
	assert.Nil(t, q.BestBid)
	assert.Nil(t, q.Midpoint)
	assert.Equal(t, 1.25, q.LastPrice)

	snap := eng.Snapshot()
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, uint64(1), snap.Asks[0].Size)
	assert.Len(t, snap.Expirations, 1)
	assert.Equal(t, 1, eng.ClearExpired(30))
}

type lockedAccount struct {
	mu sync.Mutex
	testAccount
}

func (a *lockedAccount) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.testAccount.Balance()
}

func (a *lockedAccount) Position() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.testAccount.Position()
}

func (a *lockedAccount) AdjustBalance(d float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.testAccount.AdjustBalance(d)
}

func (a *lockedAccount) AdjustPosition(d int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.testAccount.AdjustPosition(d)
}

func TestEngine_ConcurrentSubmissionsConserve(t *testing.T) {
	eng := engine.New(engine.WithExpiration(nil))
	accounts := make([]*lockedAccount, 8)
	for i := range accounts {
		accounts[i] = &lockedAccount{testAccount: testAccount{id: string(rune('a' + i)), balance: 1000, position: 100}}
	}

	var wg sync.WaitGroup
	for i, acc := range accounts {
		wg.Add(1)
		go func(i int, acc *lockedAccount) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				side := Side((i + n) % 2)
				if n%3 == 0 {
					eng.SubmitMarket(side, uint64(n%3+1), acc)
				} else {
					eng.SubmitLimit(side, uint64(n%4+1), 9+float64(n%5)*0.5, n, acc)
				}
				eng.ClearExpired(n - 50)
			}
		}(i, acc)
	}
	wg.Wait()

	var balance float64
	var position int64
	for _, acc := range accounts {
		assert.GreaterOrEqual(t, acc.Balance(), 0.0)
		assert.GreaterOrEqual(t, acc.Position(), int64(0))
		balance += acc.Balance()
		position += acc.Position()
	}
	assert.InDelta(t, 8000.0, balance, 1e-6)
	assert.Equal(t, int64(800), position)

	q := eng.Quote()
	if q.BestBid != nil && q.BestAsk != nil {
		assert.Less(t, *q.BestBid, *q.BestAsk)
	}
}

func TestEngine_RejectionsUseBookLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("component", "book").Logger()
	eng := engine.New(engine.WithLogger(logger))

	result := eng.PlaceOrder(Order{OrderType: OrderType(9), Side: Sell, Size: 1}, 0, newAccount("X", 0, 1))
	require.Equal(t, engine.InvalidOrderType, result.Reason)

	out := buf.String()
	assert.Contains(t, out, `"component":"book"`)
	assert.Contains(t, out, `"owner":"X"`)
	assert.Contains(t, out, "unknown type")
}
