package service

import (
	"fmt"

	"matchcore/command"
	"matchcore/domain"
	"matchcore/domain/orderbook"
	"matchcore/metrics"

	"github.com/shopspring/decimal"
)

//
// ──────────────────────────────────────────────────────────
// New orders
// ──────────────────────────────────────────────────────────
//

// admit validates p and builds the order. It is the Ok | Rejected step:
// nothing is mutated before it returns an order.
func (e *Engine) admit(c command.Command, p command.NewOrder) (*orderbook.Order, *domain.Symbol, *domain.Reject) {
	sym, ok := e.mem.Symbol(p.Symbol)
	if !ok {
		return nil, nil, domain.NewReject(domain.RejectUnknownSymbol, p.Symbol)
	}
	if !sym.Tradeable {
		return nil, nil, domain.NewReject(domain.RejectSymbolNotTradeable, p.Symbol)
	}
	if !p.Side.Valid() {
		return nil, nil, domain.NewReject(domain.RejectInvalidSide, fmt.Sprintf("side %d", p.Side))
	}
	if !p.OrderType.Valid() {
		return nil, nil, domain.NewReject(domain.RejectInvalidType, fmt.Sprintf("type %d", p.OrderType))
	}

	price := p.Price
	if p.OrderType == domain.Market {
		price = decimal.Zero
	} else if !sym.ValidPrice(price) {
		return nil, nil, domain.NewReject(domain.RejectInvalidPrice,
			fmt.Sprintf("%s with precision %d", price, sym.PricePrecision))
	}
	if !sym.ValidQuantity(p.Quantity) {
		return nil, nil, domain.NewReject(domain.RejectInvalidQuantity,
			fmt.Sprintf("%s with precision %d", p.Quantity, sym.QuantityPrecision))
	}

	action := domain.ActionNone
	if sym.SupportsPosition {
		current := e.mem.PositionSide(p.UserID, p.Symbol)
		action = p.PositionAction
		if action == domain.ActionNone {
			action = domain.DetermineAction(p.Side, current)
		}
		if _, ok, reason := domain.CalculatePositionChange(p.Side, action, current, p.Quantity); !ok {
			return nil, nil, domain.NewReject(domain.RejectInvalidPositionAction, reason)
		}
		// CLOSE is reduce-only. Every resting order of the user on the same
		// side may fill first, so together they must fit in the position.
		if action == domain.Close {
			pos, _ := e.mem.Position(p.UserID, p.Symbol)
			resting := e.mem.RestingQty(p.UserID, p.Symbol, p.Side)
			if p.Quantity.Add(resting).GreaterThan(pos.Quantity) {
				return nil, nil, domain.NewReject(domain.RejectInvalidPositionAction,
					fmt.Sprintf("close %s with %s resting exceeds position %s", p.Quantity, resting, pos.Quantity))
			}
		}
	}

	id := p.OrderID
	if id == 0 {
		id = e.mem.NextOrderID()
	} else if !e.mem.ReserveOrderID(id) {
		return nil, nil, domain.NewReject(domain.RejectDuplicateOrder,
			fmt.Sprintf("order %d is not above the last issued id", id))
	}

	return &orderbook.Order{
		ID:             id,
		UserID:         p.UserID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Type:           p.OrderType,
		Price:          price,
		Quantity:       p.Quantity,
		Filled:         decimal.Zero,
		Remaining:      p.Quantity,
		Status:         domain.Pending,
		PositionAction: action,
		CreatedAt:      c.Timestamp,
	}, sym, nil
}

func (e *Engine) newOrder(c command.Command, p command.NewOrder, res *command.Result) {
	o, sym, rej := e.admit(c, p)
	if rej != nil {
		res.Reject = rej
		return
	}

	book := e.mem.GetOrCreateOrderBook(sym.ID)
	out := e.matcher.Match(o, book, sym)
	if !out.Accepted() {
		res.Reject = out.Reject
		res.Order = o.Clone()
		return
	}

	res.Trades = e.applyTrades(c.ID, sym, out.Trades)
	res.Order = o.Clone()
	if sym.SupportsPosition && len(res.Trades) > 0 {
		res.Positions = e.touched(sym.ID, res.Trades)
	}
}

// applyTrades applies trades to the position ledger in emission order and
// annotates each leg with the action and delta it actually had.
func (e *Engine) applyTrades(commandID uint64, sym *domain.Symbol, trades []domain.Trade) []domain.Trade {
	for i := range trades {
		t := &trades[i]
		t.CommandID = commandID

		metrics.TradesTotal.WithLabelValues(sym.ID).Inc()
		metrics.TradeVolume.WithLabelValues(sym.ID).Add(t.Quantity.InexactFloat64())

		if !sym.SupportsPosition {
			continue
		}
		t.BuyAction, t.BuyPositionDelta = e.applyLeg(t.BuyUserID, sym.ID, domain.Buy, t.Quantity, t.Price)
		t.SellAction, t.SellPositionDelta = e.applyLeg(t.SellUserID, sym.ID, domain.Sell, t.Quantity, t.Price)
	}
	return trades
}

func (e *Engine) applyLeg(userID uint64, symbol string, side domain.Side, qty, price decimal.Decimal) (domain.PositionAction, decimal.Decimal) {
	pos := e.mem.GetOrCreatePosition(userID, symbol)
	action := domain.DetermineAction(side, pos.Side)
	delta, _, _ := domain.CalculatePositionChange(side, action, pos.Side, qty)
	pos.Apply(side, qty, price)
	return action, delta
}

// touched returns the positions of every user in trades, marked at the
// book's last price, ordered by user id.
func (e *Engine) touched(symbol string, trades []domain.Trade) []domain.Position {
	seen := make(map[uint64]bool)
	for _, t := range trades {
		seen[t.BuyUserID] = true
		seen[t.SellUserID] = true
	}

	view := e.mem.View()
	var out []domain.Position
	for _, p := range e.mem.SymbolPositions(symbol) {
		if seen[p.UserID] {
			vp, _ := view.Position(p.UserID, symbol)
			out = append(out, vp)
		}
	}
	return out
}

//
// ──────────────────────────────────────────────────────────
// Cancels
// ──────────────────────────────────────────────────────────
//

func (e *Engine) cancel(p command.Cancel, res *command.Result) {
	o, ok := e.mem.FindOrder(p.OrderID)
	if !ok || (p.UserID != 0 && o.UserID != p.UserID) {
		res.Reject = domain.NewReject(domain.RejectNotFound, fmt.Sprintf("order %d", p.OrderID))
		return
	}
	book, _ := e.mem.OrderBook(o.Symbol)
	book.RemoveOrder(o.ID)
	o.Status = domain.Cancelled

	c := o.Clone()
	res.Order = c
	res.Cancelled = []*orderbook.Order{c}
}

func (e *Engine) cancelAll(p command.CancelAll, res *command.Result) {
	if p.Symbol != "" {
		if _, ok := e.mem.Symbol(p.Symbol); !ok {
			if _, ok := e.mem.OrderBook(p.Symbol); !ok {
				res.Reject = domain.NewReject(domain.RejectUnknownSymbol, p.Symbol)
				return
			}
		}
	}

	for _, symbol := range e.mem.OrderBookSymbols() {
		if p.Symbol != "" && symbol != p.Symbol {
			continue
		}
		book, _ := e.mem.OrderBook(symbol)

		var mine []*orderbook.Order
		for o := range book.Orders() {
			if o.UserID == p.UserID {
				mine = append(mine, o)
			}
		}
		for _, o := range mine {
			book.RemoveOrder(o.ID)
			o.Status = domain.Cancelled
			res.Cancelled = append(res.Cancelled, o.Clone())
		}
	}
}

//
// ──────────────────────────────────────────────────────────
// Liquidation
// ──────────────────────────────────────────────────────────
//

// liquidate closes a position with a market order on the opposite side.
func (e *Engine) liquidate(c command.Command, p command.Liquidation, res *command.Result) {
	sym, ok := e.mem.Symbol(p.Symbol)
	if !ok {
		res.Reject = domain.NewReject(domain.RejectUnknownSymbol, p.Symbol)
		return
	}
	if !sym.SupportsPosition {
		res.Reject = domain.NewReject(domain.RejectInvalidCommand, p.Symbol+" carries no positions")
		return
	}
	pos, ok := e.mem.Position(p.UserID, p.Symbol)
	if !ok || pos.Flat() {
		res.Reject = domain.NewReject(domain.RejectNoPosition, fmt.Sprintf("user %d on %s", p.UserID, p.Symbol))
		return
	}

	if p.Quantity.IsNegative() {
		res.Reject = domain.NewReject(domain.RejectInvalidQuantity, p.Quantity.String())
		return
	}
	qty := pos.Quantity
	if p.Quantity.IsPositive() {
		if p.Quantity.GreaterThan(pos.Quantity) {
			res.Reject = domain.NewReject(domain.RejectInvalidQuantity,
				fmt.Sprintf("liquidate %s exceeds position %s", p.Quantity, pos.Quantity))
			return
		}
		qty = p.Quantity
	}

	side := domain.Sell
	if pos.Side == domain.Short {
		side = domain.Buy
	}
	// Checked here so a rejected liquidation cancels nothing.
	if !sym.Tradeable {
		res.Reject = domain.NewReject(domain.RejectSymbolNotTradeable, p.Symbol)
		return
	}
	book, ok := e.mem.OrderBook(p.Symbol)
	if !ok || book.Best(side.Opposite()) == nil {
		res.Reject = domain.NewReject(domain.RejectNoLiquidity, "opposing side is empty")
		return
	}
	// The user's own reducing orders would otherwise fill alongside the
	// liquidation and overshoot the position.
	var reducing []*orderbook.Order
	for o := range book.Orders() {
		if o.UserID == p.UserID && o.Side == side {
			reducing = append(reducing, o)
		}
	}
	for _, o := range reducing {
		book.RemoveOrder(o.ID)
		o.Status = domain.Cancelled
		res.Cancelled = append(res.Cancelled, o.Clone())
	}

	e.newOrder(c, command.NewOrder{
		UserID:         p.UserID,
		Symbol:         p.Symbol,
		Side:           side,
		OrderType:      domain.Market,
		Quantity:       qty,
		PositionAction: domain.Close,
	}, res)
}
