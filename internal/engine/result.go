package engine

import (
	"errors"

	"dasim/internal/common"

	"github.com/google/uuid"
)

var (
	ErrNotEnoughLiquidity = errors.New("not enough liquidity")
	ErrRejection          = errors.New("order rejection")
	ErrInsolventTaker     = errors.New("taker failed clearing checks")
	ErrSettlement         = errors.New("settlement failed")
)

// Outcome says what happened to a submission.
type Outcome int

const (
	// Rested: the limit order now sits in the book.
	Rested Outcome = iota
	// Filled: the full size traded immediately.
	Filled
	// Unfilled: matching stopped early. Trades already made stand.
	Unfilled
	// Rejected: the order never reached the book.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Rested:
		return "rested"
	case Filled:
		return "filled"
	case Unfilled:
		return "unfilled"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Reason qualifies Unfilled and Rejected outcomes.
type Reason int

const (
	NoReason Reason = iota
	InvalidPrice
	InvalidSize
	InvalidOrderType
	InsufficientLiquidity
	TakerInsolvent
	SettlementFailed
)

func (r Reason) String() string {
	switch r {
	case NoReason:
		return ""
	case InvalidPrice:
		return "invalid price"
	case InvalidSize:
		return "invalid size"
	case InvalidOrderType:
		return "invalid order type"
	case InsufficientLiquidity:
		return "insufficient liquidity"
	case TakerInsolvent:
		return "taker insolvent"
	case SettlementFailed:
		return "settlement failed"
	}
	return "unknown"
}

// Result is the outcome of one submission.
type Result struct {
	Outcome   Outcome
	Reason    Reason
	OrderID   uuid.UUID // Set when the order rested
	Crossed   bool      // A limit order was redirected to matching
	Requested uint64
	Filled    uint64
	Skipped   int // Resting orders passed over during matching
	Trades    []common.Trade
}

// OK is true when the order rested or filled completely.
func (r Result) OK() bool {
	return r.Outcome == Rested || r.Outcome == Filled
}

// Partial is true when matching stopped after some, but not all, of the
// size traded.
func (r Result) Partial() bool {
	return r.Outcome == Unfilled && r.Filled > 0
}

// Err maps the result onto the package's sentinel errors, nil when OK.
func (r Result) Err() error {
	switch r.Reason {
	case InvalidPrice, InvalidSize, InvalidOrderType:
		return ErrRejection
	case InsufficientLiquidity:
		return ErrNotEnoughLiquidity
	case TakerInsolvent:
		return ErrInsolventTaker
	case SettlementFailed:
		return ErrSettlement
	}
	return nil
}

func rejected(size uint64, reason Reason) Result {
	return Result{Outcome: Rejected, Reason: reason, Requested: size}
}
