package service

import (
	"fmt"

	"matchcore/command"
	"matchcore/domain"
	"matchcore/domain/orderbook"
)

func (e *Engine) clearSymbol(p command.ClearSymbol, res *command.Result) {
	_, known := e.mem.Symbol(p.Symbol)
	if _, ok := e.mem.OrderBook(p.Symbol); !ok && !known {
		res.Reject = domain.NewReject(domain.RejectUnknownSymbol, p.Symbol)
		return
	}
	res.Cancelled = cancelled(e.mem.RemoveOrderBook(p.Symbol))
}

func (e *Engine) addSymbol(p command.AddSymbol, res *command.Result) {
	if err := e.mem.AddSymbol(p.Symbol); err != nil {
		res.Reject = domain.NewReject(domain.RejectInvalidCommand, err.Error())
		return
	}
	s := p.Symbol
	res.Symbol = &s
}

func (e *Engine) updateSymbol(p command.UpdateSymbol, res *command.Result) {
	cur, ok := e.mem.Symbol(p.Symbol.ID)
	if !ok {
		res.Reject = domain.NewReject(domain.RejectUnknownSymbol, p.Symbol.ID)
		return
	}
	if cur.SupportsPosition != p.Symbol.SupportsPosition && len(e.mem.SymbolPositions(cur.ID)) > 0 {
		res.Reject = domain.NewReject(domain.RejectInvalidCommand,
			fmt.Sprintf("%s holds positions; supports_position cannot change", cur.ID))
		return
	}
	if err := e.mem.UpdateSymbol(p.Symbol); err != nil {
		res.Reject = domain.NewReject(domain.RejectInvalidCommand, err.Error())
		return
	}
	s := p.Symbol
	res.Symbol = &s
}

func (e *Engine) removeSymbol(p command.RemoveSymbol, res *command.Result) {
	dropped, err := e.mem.RemoveSymbol(p.Symbol)
	if err != nil {
		res.Reject = domain.NewReject(domain.RejectUnknownSymbol, p.Symbol)
		return
	}
	res.Cancelled = cancelled(dropped)
}

func cancelled(orders []*orderbook.Order) []*orderbook.Order {
	out := make([]*orderbook.Order, 0, len(orders))
	for _, o := range orders {
		c := o.Clone()
		c.Status = domain.Cancelled
		out = append(out, c)
	}
	return out
}

func (e *Engine) queryOrder(p command.QueryOrder, res *command.Result) {
	o, ok := e.mem.View().Order(p.OrderID)
	if !ok {
		res.Reject = domain.NewReject(domain.RejectNotFound, fmt.Sprintf("order %d", p.OrderID))
		return
	}
	res.Order = o
}

func (e *Engine) queryPosition(p command.QueryPosition, res *command.Result) {
	view := e.mem.View()
	if p.Symbol == "" {
		res.Positions = view.UserPositions(p.UserID)
		return
	}
	pos, ok := view.Position(p.UserID, p.Symbol)
	if !ok {
		res.Reject = domain.NewReject(domain.RejectNoPosition, fmt.Sprintf("user %d on %s", p.UserID, p.Symbol))
		return
	}
	res.Positions = []domain.Position{pos}
}
