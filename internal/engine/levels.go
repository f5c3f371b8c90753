package engine

import (
	"github.com/tidwall/btree"
)

type PriceLevel struct {
	priceLevel float64
	orders     []Handle
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// bookSide holds one side of the book as price levels, each a FIFO queue of
// handles sorted by time added as they are push-back'd.
type bookSide struct {
	levels *PriceLevels
	count  int
}

func newBids() *bookSide {
	// Sorted greatest first.
	return &bookSide{levels: btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel > b.priceLevel
	})}
}

func newAsks() *bookSide {
	// Sorted least first.
	return &bookSide{levels: btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel < b.priceLevel
	})}
}

func (s *bookSide) insert(o *Order) {
	// Levels comparator only accounts for price levels, so we create a dummy
	// price level for the search.
	level, ok := s.levels.GetMut(&PriceLevel{priceLevel: o.Price})
	if ok {
		level.orders = append(level.orders, o.Handle)
	} else {
		s.levels.Set(&PriceLevel{priceLevel: o.Price, orders: []Handle{o.Handle}})
	}
	s.count++
}

func (s *bookSide) remove(o *Order) bool {
	level, ok := s.levels.GetMut(&PriceLevel{priceLevel: o.Price})
	if !ok {
		return false
	}
	for i, h := range level.orders {
		if h != o.Handle {
			continue
		}
		level.orders = append(level.orders[:i], level.orders[i+1:]...)
		if len(level.orders) == 0 {
			s.levels.Delete(level)
		}
		s.count--
		return true
	}
	return false
}

// best returns the top price level, min here accounts for bids and asks
// being in inverse order.
func (s *bookSide) best() (*PriceLevel, bool) {
	return s.levels.Min()
}

// scan walks handles in priority order until fn returns false.
func (s *bookSide) scan(fn func(h Handle) bool) {
	s.levels.Scan(func(level *PriceLevel) bool {
		for _, h := range level.orders {
			if !fn(h) {
				return false
			}
		}
		return true
	})
}

func (s *bookSide) len() int {
	return s.count
}

// FlatPriceLevel is a detached price level: its price and the orders
// queued at it, oldest first.
type FlatPriceLevel struct {
	PriceLevel float64     `json:"price"`
	Orders     []OrderView `json:"orders"`
}

func (book *OrderBook) flatten(s *bookSide) []FlatPriceLevel {
	out := make([]FlatPriceLevel, 0, s.levels.Len())
	s.levels.Scan(func(level *PriceLevel) bool {
		flat := FlatPriceLevel{PriceLevel: level.priceLevel}
		for _, h := range level.orders {
			if o, ok := book.orders.get(h); ok {
				flat.Orders = append(flat.Orders, o.view())
			}
		}
		out = append(out, flat)
		return true
	})
	return out
}

// BidLevels returns the buy side grouped by price, highest first.
func (book *OrderBook) BidLevels() []FlatPriceLevel { return book.flatten(book.bids) }

// AskLevels returns the sell side grouped by price, lowest first.
func (book *OrderBook) AskLevels() []FlatPriceLevel { return book.flatten(book.asks) }
