package orderbook

import (
	"iter"

	"github.com/shopspring/decimal"
)

// PriceLevel is a FIFO queue at a single price.
type PriceLevel struct {
	Price decimal.Decimal

	head *Order
	tail *Order

	TotalQty   decimal.Decimal
	OrderCount int
}

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	o.level = p
	o.accounted = o.Remaining
	p.TotalQty = p.TotalQty.Add(o.Remaining)
	p.OrderCount++
}

// Remove unlinks o without disturbing the order of its neighbours.
func (p *PriceLevel) Remove(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}

	p.TotalQty = p.TotalQty.Sub(o.accounted)
	p.OrderCount--

	o.next, o.prev, o.level = nil, nil, nil
	o.accounted = decimal.Zero
}

// reaccount syncs TotalQty with o.Remaining after an in-place mutation.
func (p *PriceLevel) reaccount(o *Order) {
	p.TotalQty = p.TotalQty.Add(o.Remaining.Sub(o.accounted))
	o.accounted = o.Remaining
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head is a read-only helper.
func (p *PriceLevel) Head() *Order {
	return p.head
}

// Orders yields resting orders in time priority.
func (p *PriceLevel) Orders() iter.Seq[*Order] {
	return func(yield func(*Order) bool) {
		for o := p.head; o != nil; {
			next := o.next
			if !yield(o) {
				return
			}
			o = next
		}
	}
}
