package engine

// Account is what the book needs from whoever owns an order. Adjustments
// must fail, leaving the account untouched, when they would drive the
// balance or position negative.
type Account interface {
	ID() string
	Balance() float64
	Position() int64
	AdjustBalance(delta float64) error
	AdjustPosition(delta int64) error
}

func sameAccount(a, b Account) bool {
	return a.ID() == b.ID()
}
