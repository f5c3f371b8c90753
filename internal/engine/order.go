package engine

import (
	"dasim/internal/common"

	"github.com/google/uuid"
)

// Handle addresses an order in a book's arena. Handles grow monotonically
// and are never reused by the same book, so they double as arrival order.
type Handle uint64

type Order struct {
	ID         uuid.UUID   // Order tracked uuid
	Handle     Handle      // Arena slot, shared by every index
	Side       common.Side // Order side
	Price      float64     // Limiting price
	Size       uint64      // Remaining size
	TotalSize  uint64      // Total size requested
	Expiration int         // Round after which the order is void
	Owner      Account     // Who owns this order
}

// OrderView is a detached copy of a resting order, safe to hand out of the
// book.
type OrderView struct {
	ID         uuid.UUID   `json:"id"`
	Side       common.Side `json:"side"`
	Price      float64     `json:"price"`
	Size       uint64      `json:"size"`
	TotalSize  uint64      `json:"total_size"`
	Expiration int         `json:"expiration"`
	Owner      string      `json:"owner"`
}

func (o *Order) view() OrderView {
	return OrderView{
		ID:         o.ID,
		Side:       o.Side,
		Price:      o.Price,
		Size:       o.Size,
		TotalSize:  o.TotalSize,
		Expiration: o.Expiration,
		Owner:      o.Owner.ID(),
	}
}

// arena owns every live order of a book. Indices hold handles only, so a
// size change is visible through all of them at once.
type arena struct {
	orders map[Handle]*Order
	next   Handle
}

func newArena() *arena {
	return &arena{orders: make(map[Handle]*Order)}
}

func (a *arena) alloc(order Order) *Order {
	a.next++
	order.Handle = a.next
	o := &order
	a.orders[o.Handle] = o
	return o
}

func (a *arena) get(h Handle) (*Order, bool) {
	o, ok := a.orders[h]
	return o, ok
}

func (a *arena) free(h Handle) {
	delete(a.orders, h)
}

func (a *arena) len() int {
	return len(a.orders)
}
