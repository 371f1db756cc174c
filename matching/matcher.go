// Package matching executes price-time priority matching. Order types differ
// only in their policy (gate, crossing, resting); the crossing loop is shared.
//
// Matchers never read or write positions. Trades come out without position
// annotations; the caller books them against the ledger in emission order.
package matching

import (
	"fmt"

	"matchcore/domain"
	"matchcore/domain/orderbook"

	"github.com/shopspring/decimal"
)

// TradeIDs hands out trade ids. It must be deterministic for replay.
type TradeIDs interface {
	NextTradeID() uint64
}

type Outcome struct {
	Trades []domain.Trade
	Rested bool
	Reject *domain.Reject
}

func (o Outcome) Accepted() bool { return o.Reject == nil }

type Matcher struct {
	ids TradeIDs
}

func New(ids TradeIDs) *Matcher {
	return &Matcher{ids: ids}
}

// Match runs o against book under the rules of sym. o must already be
// validated; on return its Filled, Remaining and Status are final for this
// command.
func (m *Matcher) Match(o *orderbook.Order, book *orderbook.OrderBook, sym *domain.Symbol) Outcome {
	p, ok := policyFor(o.Type)
	if !ok {
		return reject(o, domain.NewReject(domain.RejectInvalidType, fmt.Sprintf("order type %d", o.Type)))
	}

	b, rej := p.gate(o, book, sym)
	if rej != nil {
		return reject(o, rej)
	}

	var out Outcome
	if p.cross {
		out.Trades = m.cross(o, book, sym, b)
	}
	out.Rested = m.postMatch(o, book, p)
	return out
}

func reject(o *orderbook.Order, r *domain.Reject) Outcome {
	o.Status = domain.Rejected
	return Outcome{Reject: r}
}

// cross consumes the opposing ladder from the best price outward at maker
// prices until o is exhausted or the bound stops it.
func (m *Matcher) cross(o *orderbook.Order, book *orderbook.OrderBook, sym *domain.Symbol, b bound) []domain.Trade {
	var trades []domain.Trade
	levels := 0

	for o.Remaining.IsPositive() {
		lvl := book.Best(o.Side.Opposite())
		if lvl == nil || !b.allows(o.Side, lvl.Price) {
			break
		}
		if b.maxLevels != domain.NoDepthLimit && levels >= b.maxLevels {
			break
		}
		levels++

		for o.Remaining.IsPositive() && !lvl.Empty() {
			maker := lvl.Head()
			qty := decimal.Min(o.Remaining, maker.Remaining)

			trades = append(trades, m.newTrade(o, maker, qty, sym))
			o.Fill(qty)
			maker.Fill(qty)

			if maker.Remaining.IsZero() {
				book.RemoveOrder(maker.ID)
			} else if err := book.UpdateOrder(maker); err != nil {
				// the maker was just taken from this book's head
				panic(fmt.Sprintf("matching: partially filled maker %d: %v", maker.ID, err))
			}
			book.UpdateLastPrice(maker.Price)
			book.AddVolume(qty)
		}
	}
	return trades
}

// postMatch disposes of any remainder and reports whether o now rests.
func (m *Matcher) postMatch(o *orderbook.Order, book *orderbook.OrderBook, p policy) bool {
	if !o.Remaining.IsPositive() {
		o.Status = domain.Filled
		return false
	}
	if !p.rest {
		o.Status = domain.Cancelled
		return false
	}
	if o.Filled.IsZero() {
		o.Status = domain.Pending
	}
	if err := book.AddOrder(o); err != nil {
		o.Status = domain.Rejected
		return false
	}
	return true
}

func (m *Matcher) newTrade(taker, maker *orderbook.Order, qty decimal.Decimal, sym *domain.Symbol) domain.Trade {
	amount := maker.Price.Mul(qty)
	t := domain.Trade{
		ID:        m.ids.NextTradeID(),
		Symbol:    sym.ID,
		Side:      domain.Buy,
		TakerSide: taker.Side,
		Price:     maker.Price,
		Quantity:  qty,
		Amount:    amount,
		BuyFee:    sym.Fee(amount),
		SellFee:   sym.Fee(amount),
		Timestamp: taker.CreatedAt,
	}
	buy, sell := taker, maker
	if taker.Side == domain.Sell {
		buy, sell = maker, taker
	}
	t.BuyOrderID, t.BuyUserID = buy.ID, buy.UserID
	t.SellOrderID, t.SellUserID = sell.ID, sell.UserID
	return t
}
