package matching

import (
	"matchcore/domain"
	"matchcore/domain/orderbook"

	"github.com/shopspring/decimal"
)

// bound limits how far a taker may walk the opposing ladder.
type bound struct {
	limited bool
	price   decimal.Decimal
	// domain.NoDepthLimit means any number of levels
	maxLevels int
}

// allows reports whether a taker on side may trade at price.
func (b bound) allows(side domain.Side, price decimal.Decimal) bool {
	if !b.limited {
		return true
	}
	if side == domain.Buy {
		return price.LessThanOrEqual(b.price)
	}
	return price.GreaterThanOrEqual(b.price)
}

// policy is everything that distinguishes one order type from another.
// Crossing itself is shared.
type policy struct {
	gate  func(o *orderbook.Order, book *orderbook.OrderBook, sym *domain.Symbol) (bound, *domain.Reject)
	cross bool
	rest  bool
}

func policyFor(t domain.OrderType) (policy, bool) {
	switch t {
	case domain.Limit:
		return policy{gate: limitGate, cross: true, rest: true}, true
	case domain.IOC:
		return policy{gate: limitGate, cross: true}, true
	case domain.Market:
		return policy{gate: marketGate, cross: true}, true
	case domain.FOK:
		return policy{gate: fokGate, cross: true}, true
	case domain.PostOnly:
		return policy{gate: postOnlyGate, rest: true}, true
	}
	return policy{}, false
}

func limitGate(o *orderbook.Order, _ *orderbook.OrderBook, _ *domain.Symbol) (bound, *domain.Reject) {
	return bound{limited: true, price: o.Price}, nil
}

func marketGate(o *orderbook.Order, book *orderbook.OrderBook, sym *domain.Symbol) (bound, *domain.Reject) {
	best := book.Best(o.Side.Opposite())
	if best == nil {
		return bound{}, domain.NewReject(domain.RejectNoLiquidity, "opposing side is empty")
	}
	return bound{
		limited:   true,
		price:     sym.CalcMaxPrice(o.Side, best.Price),
		maxLevels: sym.MaxDepth,
	}, nil
}

func fokGate(o *orderbook.Order, book *orderbook.OrderBook, _ *domain.Symbol) (bound, *domain.Reject) {
	b := bound{limited: true, price: o.Price}
	available := decimal.Zero
	book.Walk(o.Side.Opposite(), func(lvl *orderbook.PriceLevel) bool {
		if !b.allows(o.Side, lvl.Price) {
			return false
		}
		available = available.Add(lvl.TotalQty)
		return available.LessThan(o.Remaining)
	})
	if available.LessThan(o.Remaining) {
		return bound{}, domain.NewReject(domain.RejectInsufficientLiquidity,
			"reachable "+available.String()+" < required "+o.Remaining.String())
	}
	return b, nil
}

func postOnlyGate(o *orderbook.Order, book *orderbook.OrderBook, _ *domain.Symbol) (bound, *domain.Reject) {
	best := book.Best(o.Side.Opposite())
	if best == nil {
		return bound{}, nil
	}
	crosses := o.Side == domain.Buy && o.Price.GreaterThanOrEqual(best.Price) ||
		o.Side == domain.Sell && o.Price.LessThanOrEqual(best.Price)
	if crosses {
		return bound{}, domain.NewReject(domain.RejectWouldCross, "best opposing price "+best.Price.String())
	}
	return bound{}, nil
}
