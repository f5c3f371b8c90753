package common

import (
	"fmt"

	"github.com/google/uuid"
)

// Trade accounts for the two parties who matched. The maker is always the
// resting order; the taker is whoever submitted the market (or crossing
// limit) instruction.
type Trade struct {
	Seq        uint64    `json:"seq"`
	MakerOrder uuid.UUID `json:"maker_order"`
	Buyer      string    `json:"buyer"`
	Seller     string    `json:"seller"`
	TakerSide  Side      `json:"taker_side"`
	Size       uint64    `json:"size"`
	Price      float64   `json:"price"`
}

// Taker returns the account id of the liquidity taker.
func (t Trade) Taker() string {
	if t.TakerSide == Buy {
		return t.Buyer
	}
	return t.Seller
}

// Maker returns the account id of the resting order's owner.
func (t Trade) Maker() string {
	if t.TakerSide == Buy {
		return t.Seller
	}
	return t.Buyer
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Seq:        %d
MakerOrder: %v
Buyer:      %s
Seller:     %s
TakerSide:  %v
Size:       %d
Price:      %f`,
		t.Seq,
		t.MakerOrder,
		t.Buyer,
		t.Seller,
		t.TakerSide,
		t.Size,
		t.Price,
	)
}
