package common

import (
	"fmt"
)

// Order is an instruction as submitted by an agent, before the book assigns
// it an identity. Lifetime is relative: the driver turns it into an absolute
// expiration round when the order is placed.
type Order struct {
	OrderType OrderType `json:"type"`     // Limit or market
	Side      Side      `json:"side"`     // Order side
	Price     float64   `json:"price"`    // Limiting price, ignored for market orders
	Size      uint64    `json:"size"`     // Volume requested
	Lifetime  int       `json:"lifetime"` // Rounds until a resting order expires
	Owner     string    `json:"owner"`    // Who owns this order
}

func (order Order) String() string {
	return fmt.Sprintf(
		`OrderType: %v
Side:      %v
Price:     %f
Size:      %d
Lifetime:  %d
Owner:     %s`,
		order.OrderType,
		order.Side,
		order.Price,
		order.Size,
		order.Lifetime,
		order.Owner,
	)
}
