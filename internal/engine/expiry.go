package engine

import (
	"github.com/tidwall/btree"
)

// ExpiryEntry is the key an order is filed under in the expiration index.
type ExpiryEntry struct {
	Round  int
	Handle Handle
}

// ExpiryLess orders the expiration index. It is handed to the index when the
// book is built and must not carry state.
type ExpiryLess func(a, b ExpiryEntry) bool

// ByExpiration orders entries by earliest expiration round, oldest order
// first within a round.
func ByExpiration(a, b ExpiryEntry) bool {
	if a.Round != b.Round {
		return a.Round < b.Round
	}
	return a.Handle < b.Handle
}

type expiryIndex struct {
	entries *btree.BTreeG[ExpiryEntry]
}

func newExpiryIndex(less ExpiryLess) *expiryIndex {
	if less == nil {
		less = ByExpiration
	}
	// Deletes need a total order; fall back to arrival for entries the
	// supplied ordering considers equal.
	return &expiryIndex{
		entries: btree.NewBTreeG(func(a, b ExpiryEntry) bool {
			if less(a, b) {
				return true
			}
			if less(b, a) {
				return false
			}
			return a.Handle < b.Handle
		}),
	}
}

func entryOf(o *Order) ExpiryEntry {
	return ExpiryEntry{Round: o.Expiration, Handle: o.Handle}
}

func (idx *expiryIndex) add(o *Order) {
	idx.entries.Set(entryOf(o))
}

func (idx *expiryIndex) remove(o *Order) bool {
	_, ok := idx.entries.Delete(entryOf(o))
	return ok
}

func (idx *expiryIndex) min() (ExpiryEntry, bool) {
	return idx.entries.Min()
}

func (idx *expiryIndex) len() int {
	return idx.entries.Len()
}

func (idx *expiryIndex) items() []ExpiryEntry {
	return idx.entries.Items()
}
