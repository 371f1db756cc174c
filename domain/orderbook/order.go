package orderbook

import (
	"matchcore/domain"

	"github.com/shopspring/decimal"
)

// Order is a domain entity. While resting it is linked into exactly one
// PriceLevel; the links are owned by the book.
type Order struct {
	ID             uint64                `json:"id"`
	UserID         uint64                `json:"user_id"`
	Symbol         string                `json:"symbol"`
	Side           domain.Side           `json:"side"`
	Type           domain.OrderType      `json:"type"`
	Price          decimal.Decimal       `json:"price"`
	Quantity       decimal.Decimal       `json:"quantity"`
	Filled         decimal.Decimal       `json:"filled"`
	Remaining      decimal.Decimal       `json:"remaining"`
	Status         domain.OrderStatus    `json:"status"`
	PositionAction domain.PositionAction `json:"position_action,omitempty"`
	CreatedAt      int64                 `json:"created_at"`

	next      *Order
	prev      *Order
	level     *PriceLevel
	accounted decimal.Decimal
}

// Fill moves qty from Remaining to Filled and advances Status.
func (o *Order) Fill(qty decimal.Decimal) {
	o.Filled = o.Filled.Add(qty)
	o.Remaining = o.Remaining.Sub(qty)
	if o.Remaining.IsZero() {
		o.Status = domain.Filled
	} else {
		o.Status = domain.PartiallyFilled
	}
}

// Resting reports whether the order is currently linked into a book.
func (o *Order) Resting() bool {
	return o.level != nil
}

// Next is a read-only traversal helper.
func (o *Order) Next() *Order {
	return o.next
}

// Clone returns a detached copy safe to hand outside the writer.
func (o *Order) Clone() *Order {
	c := *o
	c.next, c.prev, c.level = nil, nil, nil
	c.accounted = decimal.Zero
	return &c
}
