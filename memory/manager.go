// Package memory owns every piece of mutable engine state: order books,
// positions, symbols and the id counters that must survive a snapshot.
//
// Manager has no locks. Only the pipeline writer holds a *Manager; anything
// else gets a View or submits a command.
package memory

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"matchcore/domain"
	"matchcore/domain/orderbook"

	"github.com/shopspring/decimal"
)

var (
	ErrSymbolExists  = errors.New("symbol already exists")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Counters are the deterministic id sources captured with every snapshot.
type Counters struct {
	NextOrderID   uint64 `json:"next_order_id"`
	NextTradeID   uint64 `json:"next_trade_id"`
	LastCommandID uint64 `json:"last_command_id"`
}

type Stats struct {
	OrderBooks    int    `json:"order_books"`
	Positions     int    `json:"positions"`
	Symbols       int    `json:"symbols"`
	RestingOrders int    `json:"resting_orders"`
	LastCommandID uint64 `json:"last_command_id"`
}

type Manager struct {
	books     map[string]*orderbook.OrderBook
	positions map[string]map[uint64]*domain.Position
	symbols   map[string]*domain.Symbol
	orders    orderbook.Directory
	counters  Counters
}

func NewManager() *Manager {
	return &Manager{
		books:     make(map[string]*orderbook.OrderBook),
		positions: make(map[string]map[uint64]*domain.Position),
		symbols:   make(map[string]*domain.Symbol),
		orders:    make(orderbook.Directory),
	}
}

// ---- order books ----

func (m *Manager) GetOrCreateOrderBook(symbol string) *orderbook.OrderBook {
	if b, ok := m.books[symbol]; ok {
		return b
	}
	b := orderbook.NewInDirectory(symbol, m.orders)
	m.books[symbol] = b
	return b
}

func (m *Manager) OrderBook(symbol string) (*orderbook.OrderBook, bool) {
	b, ok := m.books[symbol]
	return b, ok
}

// RemoveOrderBook drops the book and every position on the symbol. The
// removed resting orders are returned in ladder order.
func (m *Manager) RemoveOrderBook(symbol string) []*orderbook.Order {
	b, ok := m.books[symbol]
	var dropped []*orderbook.Order
	if ok {
		for o := range b.Orders() {
			dropped = append(dropped, o)
		}
		b.Clear()
		delete(m.books, symbol)
	}
	delete(m.positions, symbol)
	return dropped
}

// OrderBookSymbols lists symbols with a book, sorted.
func (m *Manager) OrderBookSymbols() []string {
	out := make([]string, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// FindOrder looks up a resting order in any book.
func (m *Manager) FindOrder(id uint64) (*orderbook.Order, bool) {
	b, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return b.Order(id)
}

// RestingQty sums the remaining quantity of a user's resting orders on one
// side of a symbol.
func (m *Manager) RestingQty(userID uint64, symbol string, side domain.Side) decimal.Decimal {
	total := decimal.Zero
	b, ok := m.books[symbol]
	if !ok {
		return total
	}
	for o := range b.Orders() {
		if o.UserID == userID && o.Side == side {
			total = total.Add(o.Remaining)
		}
	}
	return total
}

// ---- positions ----

func (m *Manager) GetOrCreatePosition(userID uint64, symbol string) *domain.Position {
	bySymbol, ok := m.positions[symbol]
	if !ok {
		bySymbol = make(map[uint64]*domain.Position)
		m.positions[symbol] = bySymbol
	}
	p, ok := bySymbol[userID]
	if !ok {
		p = domain.NewPosition(userID, symbol)
		bySymbol[userID] = p
	}
	return p
}

func (m *Manager) Position(userID uint64, symbol string) (*domain.Position, bool) {
	p, ok := m.positions[symbol][userID]
	return p, ok
}

// PositionSide is the current direction of a user on a symbol.
func (m *Manager) PositionSide(userID uint64, symbol string) domain.PositionSide {
	if p, ok := m.Position(userID, symbol); ok {
		return p.Side
	}
	return domain.NoPosition
}

// UpdatePosition stores p, replacing whatever was held for its key.
func (m *Manager) UpdatePosition(p *domain.Position) {
	bySymbol, ok := m.positions[p.Symbol]
	if !ok {
		bySymbol = make(map[uint64]*domain.Position)
		m.positions[p.Symbol] = bySymbol
	}
	bySymbol[p.UserID] = p
}

func (m *Manager) UserPositions(userID uint64) []*domain.Position {
	var out []*domain.Position
	for _, bySymbol := range m.positions {
		if p, ok := bySymbol[userID]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Position) int { return cmp.Compare(a.Symbol, b.Symbol) })
	return out
}

func (m *Manager) SymbolPositions(symbol string) []*domain.Position {
	out := make([]*domain.Position, 0, len(m.positions[symbol]))
	for _, p := range m.positions[symbol] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *domain.Position) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}

// PositionSymbols lists symbols that hold positions, sorted.
func (m *Manager) PositionSymbols() []string {
	out := make([]string, 0, len(m.positions))
	for s := range m.positions {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// ---- symbols ----

func (m *Manager) AddSymbol(s domain.Symbol) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := m.symbols[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSymbolExists, s.ID)
	}
	m.symbols[s.ID] = &s
	return nil
}

func (m *Manager) UpdateSymbol(s domain.Symbol) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := m.symbols[s.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, s.ID)
	}
	m.symbols[s.ID] = &s
	return nil
}

// RemoveSymbol cascades to the symbol's book and positions.
func (m *Manager) RemoveSymbol(id string) ([]*orderbook.Order, error) {
	if _, ok := m.symbols[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, id)
	}
	dropped := m.RemoveOrderBook(id)
	delete(m.symbols, id)
	return dropped, nil
}

func (m *Manager) Symbol(id string) (*domain.Symbol, bool) {
	s, ok := m.symbols[id]
	return s, ok
}

func (m *Manager) Symbols() []*domain.Symbol {
	out := make([]*domain.Symbol, 0, len(m.symbols))
	for _, s := range m.symbols {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *domain.Symbol) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ---- counters ----

func (m *Manager) NextTradeID() uint64 {
	m.counters.NextTradeID++
	return m.counters.NextTradeID
}

func (m *Manager) NextOrderID() uint64 {
	m.counters.NextOrderID++
	return m.counters.NextOrderID
}

// ReserveOrderID claims a caller-chosen id. Ids only move forward: an id at
// or below the last one issued may belong to a filled or cancelled order and
// is refused.
func (m *Manager) ReserveOrderID(id uint64) bool {
	if id <= m.counters.NextOrderID {
		return false
	}
	m.counters.NextOrderID = id
	return true
}

func (m *Manager) MarkApplied(commandID uint64) { m.counters.LastCommandID = commandID }

func (m *Manager) Counters() Counters { return m.counters }

func (m *Manager) RestoreCounters(c Counters) { m.counters = c }

// ---- housekeeping ----

func (m *Manager) Stats() Stats {
	st := Stats{
		OrderBooks:    len(m.books),
		Symbols:       len(m.symbols),
		LastCommandID: m.counters.LastCommandID,
	}
	for _, b := range m.books {
		st.RestingOrders += b.Len()
	}
	for _, bySymbol := range m.positions {
		st.Positions += len(bySymbol)
	}
	return st
}

// ClearAll wipes books, positions and symbols. Id counters keep running so
// ids stay unique across a reset; recovery restores them explicitly.
func (m *Manager) ClearAll() {
	for _, b := range m.books {
		b.Clear()
	}
	clear(m.books)
	clear(m.orders)
	clear(m.positions)
	clear(m.symbols)
}
