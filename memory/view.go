package memory

import (
	"matchcore/domain"
	"matchcore/domain/orderbook"
)

// View is a read-only window onto a Manager. Everything it returns is a copy.
type View struct {
	m *Manager
}

func (m *Manager) View() View { return View{m: m} }

func (v View) Symbol(id string) (domain.Symbol, bool) {
	s, ok := v.m.Symbol(id)
	if !ok {
		return domain.Symbol{}, false
	}
	return *s, true
}

func (v View) Order(id uint64) (*orderbook.Order, bool) {
	o, ok := v.m.FindOrder(id)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Position returns the position marked at the book's last traded price.
func (v View) Position(userID uint64, symbol string) (domain.Position, bool) {
	p, ok := v.m.Position(userID, symbol)
	if !ok {
		return domain.Position{}, false
	}
	return v.marked(p), true
}

func (v View) UserPositions(userID uint64) []domain.Position {
	src := v.m.UserPositions(userID)
	out := make([]domain.Position, 0, len(src))
	for _, p := range src {
		out = append(out, v.marked(p))
	}
	return out
}

func (v View) marked(p *domain.Position) domain.Position {
	c := *p
	if b, ok := v.m.OrderBook(p.Symbol); ok {
		c.Mark(b.LastPrice())
	}
	return c
}

func (v View) Depth(symbol string, side domain.Side, levels int) []orderbook.DepthLevel {
	b, ok := v.m.OrderBook(symbol)
	if !ok {
		return nil
	}
	var out []orderbook.DepthLevel
	for lvl := range b.Depth(side, levels) {
		out = append(out, lvl)
	}
	return out
}

func (v View) Stats() Stats { return v.m.Stats() }
