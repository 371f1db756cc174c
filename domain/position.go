package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type PositionSide uint8

const (
	NoPosition PositionSide = iota
	Long
	Short
)

func (s PositionSide) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "NONE"
	}
}

func (s PositionSide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PositionSide) UnmarshalText(b []byte) error {
	switch string(b) {
	case "LONG":
		*s = Long
	case "SHORT":
		*s = Short
	case "NONE", "":
		*s = NoPosition
	default:
		return fmt.Errorf("unknown position side %q", b)
	}
	return nil
}

// Direction is the position side an order of this side builds.
func (s Side) Direction() PositionSide {
	if s == Buy {
		return Long
	}
	return Short
}

// Position is the net exposure of one user on one symbol.
// Quantity is never negative; Side is NoPosition whenever Quantity is zero.
type Position struct {
	UserID        uint64          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	PositionValue decimal.Decimal `json:"position_value"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

func NewPosition(userID uint64, symbol string) *Position {
	return &Position{UserID: userID, Symbol: symbol}
}

func (p *Position) Flat() bool { return p.Quantity.IsZero() }

// Apply books a fill of qty at price on the given order side and returns the
// P&L it realized. A fill larger than an opposing position closes it and opens
// the excess in the other direction.
func (p *Position) Apply(side Side, qty, price decimal.Decimal) decimal.Decimal {
	realized := decimal.Zero

	if !p.Flat() && p.Side != side.Direction() {
		closeQty := decimal.Min(qty, p.Quantity)
		realized = price.Sub(p.AvgPrice).Mul(closeQty)
		if p.Side == Short {
			realized = realized.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(realized)
		p.Quantity = p.Quantity.Sub(closeQty)
		qty = qty.Sub(closeQty)
		if p.Flat() {
			p.Side = NoPosition
			p.AvgPrice = decimal.Zero
		}
	}

	if qty.IsPositive() {
		total := p.Quantity.Add(qty)
		cost := p.AvgPrice.Mul(p.Quantity).Add(price.Mul(qty))
		p.AvgPrice = cost.Div(total)
		p.Quantity = total
		p.Side = side.Direction()
	}

	p.PositionValue = p.Quantity.Mul(p.AvgPrice)
	return realized
}

// Mark recomputes unrealized P&L against a mark price.
func (p *Position) Mark(price decimal.Decimal) {
	if p.Flat() || price.IsZero() {
		p.UnrealizedPnL = decimal.Zero
		return
	}
	pnl := price.Sub(p.AvgPrice).Mul(p.Quantity)
	if p.Side == Short {
		pnl = pnl.Neg()
	}
	p.UnrealizedPnL = pnl
}
