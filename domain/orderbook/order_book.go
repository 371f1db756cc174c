package orderbook

import (
	"errors"
	"fmt"
	"iter"

	"matchcore/domain"

	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateOrder = errors.New("order already in book")
	ErrOrderNotFound  = errors.New("order not found")
	ErrInvalidOrder   = errors.New("order cannot rest")
)

// DepthLevel is the aggregate resting quantity at one price.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Directory maps every resting order id to its book. Books sharing one
// Directory keep it current as orders rest and leave.
type Directory map[uint64]*OrderBook

// OrderBook is single-writer and deterministic. Bids iterate best (highest)
// first, asks lowest first.
type OrderBook struct {
	Symbol string

	bids  *RBTree
	asks  *RBTree
	index map[uint64]*Order
	dir   Directory

	lastPrice decimal.Decimal
	volume    decimal.Decimal
}

func New(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   NewRBTree(),
		asks:   NewRBTree(),
		index:  make(map[uint64]*Order),
	}
}

// NewInDirectory creates a book that registers its orders in dir.
func NewInDirectory(symbol string, dir Directory) *OrderBook {
	b := New(symbol)
	b.dir = dir
	return b
}

func (b *OrderBook) ladder(side domain.Side) *RBTree {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// AddOrder appends o to the tail of its price level.
func (b *OrderBook) AddOrder(o *Order) error {
	if _, ok := b.index[o.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOrder, o.ID)
	}
	if o.Symbol != b.Symbol || !o.Remaining.IsPositive() || !o.Side.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidOrder, o.ID)
	}
	b.ladder(o.Side).UpsertLevel(o.Price).Enqueue(o)
	b.index[o.ID] = o
	if b.dir != nil {
		b.dir[o.ID] = b
	}
	return nil
}

// RemoveOrder unlinks the order and drops its level once empty.
func (b *OrderBook) RemoveOrder(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	lvl := o.level
	lvl.Remove(o)
	if lvl.Empty() {
		b.ladder(o.Side).DeleteLevel(lvl.Price)
	}
	delete(b.index, id)
	if b.dir != nil {
		delete(b.dir, id)
	}
	return o, true
}

// UpdateOrder re-registers remaining quantity after an in-place fill. The
// order keeps its queue position.
func (b *OrderBook) UpdateOrder(o *Order) error {
	cur, ok := b.index[o.ID]
	if !ok || cur != o {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, o.ID)
	}
	o.level.reaccount(o)
	return nil
}

func (b *OrderBook) Order(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// Best returns the top level of a side, or nil when that side is empty.
func (b *OrderBook) Best(side domain.Side) *PriceLevel {
	if side == domain.Buy {
		return b.bids.MaxLevel()
	}
	return b.asks.MinLevel()
}

func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if lvl := b.bids.MaxLevel(); lvl != nil {
		return lvl.Price, true
	}
	return decimal.Zero, false
}

func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if lvl := b.asks.MinLevel(); lvl != nil {
		return lvl.Price, true
	}
	return decimal.Zero, false
}

// Walk visits the levels of a side from best to worst.
func (b *OrderBook) Walk(side domain.Side, fn func(*PriceLevel) bool) {
	if side == domain.Buy {
		b.bids.ForEachDescending(fn)
		return
	}
	b.asks.ForEachAscending(fn)
}

// Depth yields up to levels aggregate levels of a side, best first. Each
// range over the result walks the book again.
func (b *OrderBook) Depth(side domain.Side, levels int) iter.Seq[DepthLevel] {
	return func(yield func(DepthLevel) bool) {
		n := 0
		b.Walk(side, func(lvl *PriceLevel) bool {
			if n >= levels {
				return false
			}
			n++
			return yield(DepthLevel{Price: lvl.Price, Quantity: lvl.TotalQty, Orders: lvl.OrderCount})
		})
	}
}

// Orders yields every resting order: bids best first, then asks best first,
// FIFO within a level.
func (b *OrderBook) Orders() iter.Seq[*Order] {
	return func(yield func(*Order) bool) {
		for _, side := range []domain.Side{domain.Buy, domain.Sell} {
			stopped := false
			b.Walk(side, func(lvl *PriceLevel) bool {
				for o := range lvl.Orders() {
					if !yield(o) {
						stopped = true
						return false
					}
				}
				return true
			})
			if stopped {
				return
			}
		}
	}
}

func (b *OrderBook) UpdateLastPrice(p decimal.Decimal) { b.lastPrice = p }

func (b *OrderBook) AddVolume(q decimal.Decimal) { b.volume = b.volume.Add(q) }

func (b *OrderBook) LastPrice() decimal.Decimal { return b.lastPrice }

func (b *OrderBook) Volume() decimal.Decimal { return b.volume }

// RestoreStats sets the trade tape counters, used by snapshot restore.
func (b *OrderBook) RestoreStats(lastPrice, volume decimal.Decimal) {
	b.lastPrice = lastPrice
	b.volume = volume
}

// Len is the number of resting orders.
func (b *OrderBook) Len() int { return len(b.index) }

// Levels is the number of distinct prices on a side.
func (b *OrderBook) Levels(side domain.Side) int { return b.ladder(side).Size() }

func (b *OrderBook) Clear() {
	for id, o := range b.index {
		o.next, o.prev, o.level = nil, nil, nil
		if b.dir != nil {
			delete(b.dir, id)
		}
	}
	b.bids.Clear()
	b.asks.Clear()
	clear(b.index)
}
