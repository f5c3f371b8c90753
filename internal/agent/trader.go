package agent

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"dasim/internal/common"
)

var (
	ErrNegativeBalance  = errors.New("balance would go negative")
	ErrNegativePosition = errors.New("position would go negative")
)

type Kind int

const (
	ZeroIntelligence Kind = iota
	User
	Chartist
	Fundamentalist
)

func (k Kind) String() string {
	switch k {
	case ZeroIntelligence:
		return "zero-intelligence"
	case User:
		return "user"
	case Chartist:
		return "chartist"
	case Fundamentalist:
		return "fundamentalist"
	}
	return "unknown"
}

// Trader is one market participant: an account the book settles against and
// a strategy that decides what to submit on its turn. Each trader draws from
// its own random source.
type Trader struct {
	id       string
	strategy Strategy
	rng      *rand.Rand

	mu       sync.RWMutex
	balance  float64
	position int64
	trades   int
}

func NewTrader(id string, balance float64, position int64, strategy Strategy, rng *rand.Rand) *Trader {
	return &Trader{
		id:       id,
		strategy: strategy,
		rng:      rng,
		balance:  balance,
		position: position,
	}
}

func (t *Trader) ID() string { return t.id }

func (t *Trader) Kind() Kind { return t.strategy.Kind() }

func (t *Trader) Strategy() Strategy { return t.strategy }

func (t *Trader) Balance() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balance
}

func (t *Trader) Position() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

func (t *Trader) AdjustBalance(delta float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balance+delta < 0 {
		return fmt.Errorf("%s: %w", t.id, ErrNegativeBalance)
	}
	t.balance += delta
	return nil
}

func (t *Trader) AdjustPosition(delta int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position+delta < 0 {
		return fmt.Errorf("%s: %w", t.id, ErrNegativePosition)
	}
	t.position += delta
	return nil
}

// TradesCompleted counts the submissions that rested or filled.
func (t *Trader) TradesCompleted() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.trades
}

// Record notes the outcome of the trader's last submission.
func (t *Trader) Record(ok bool) {
	if !ok {
		return
	}
	t.mu.Lock()
	t.trades++
	t.mu.Unlock()
}

// ApplyInterest grows cash by rate, then pays dividend per share held.
func (t *Trader) ApplyInterest(rate, dividend float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance *= rate
	t.balance += float64(t.position) * dividend
}

// Wealth values the trader's holdings at price.
func (t *Trader) Wealth(price float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balance + float64(t.position)*price
}

// Decide asks the strategy for this round's instruction, if any.
func (t *Trader) Decide(round int, quotes Quotes, history History) (common.Order, bool) {
	order, ok := t.strategy.Decide(round, quotes, history, t.rng)
	if !ok {
		return common.Order{}, false
	}
	order.Owner = t.id
	return order, true
}

// Result is a trader's standing at the end of a run.
type Result struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Balance  float64 `json:"balance"`
	Position int64   `json:"position"`
	Trades   int     `json:"trades"`
	Wealth   float64 `json:"wealth"`
}

func (t *Trader) Result(price float64) Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Result{
		ID:       t.id,
		Kind:     t.strategy.Kind().String(),
		Balance:  t.balance,
		Position: t.position,
		Trades:   t.trades,
		Wealth:   t.balance + float64(t.position)*price,
	}
}
