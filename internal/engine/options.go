package engine

import (
	"github.com/rs/zerolog"
)

// SkipPolicy decides what happens to a resting order passed over during
// matching because its owner failed clearing (or would self-trade).
type SkipPolicy int

const (
	// RestoreSkipped leaves skipped orders resting where they were.
	RestoreSkipped SkipPolicy = iota
	// DiscardSkipped drops skipped orders from every index.
	DiscardSkipped
)

func (p SkipPolicy) String() string {
	if p == DiscardSkipped {
		return "discard"
	}
	return "restore"
}

type Option func(*OrderBook)

// WithExpiration turns on the expiration index, ordered by less. A nil less
// means ByExpiration.
func WithExpiration(less ExpiryLess) Option {
	return func(book *OrderBook) {
		book.expiry = newExpiryIndex(less)
	}
}

// WithSelfTradePrevention skips resting orders owned by the taker.
func WithSelfTradePrevention() Option {
	return func(book *OrderBook) {
		book.preventSelfTrade = true
	}
}

func WithSkipPolicy(policy SkipPolicy) Option {
	return func(book *OrderBook) {
		book.skipPolicy = policy
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(book *OrderBook) {
		book.logger = logger
	}
}
