// Package snapshot captures a consistent image of the engine state, checks
// it, and rebuilds a memory.Manager from it.
package snapshot

import (
	"errors"
	"fmt"

	"matchcore/domain"
	"matchcore/domain/orderbook"
	"matchcore/memory"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrNotFound        = errors.New("snapshot not found")
	ErrUnknownSymbol   = errors.New("unknown symbol")
)

// Snapshot is the image of every book, position and symbol as of CommandID.
// Symbol is empty for a full snapshot; only full snapshots can be restored.
type Snapshot struct {
	CommandID uint64            `json:"command_id"`
	Symbol    string            `json:"symbol,omitempty"`
	CreatedAt int64             `json:"created_at"`
	Counters  memory.Counters   `json:"counters"`
	Symbols   []domain.Symbol   `json:"symbols"`
	Books     []Book            `json:"books"`
	Positions []domain.Position `json:"positions"`
}

// Book holds resting orders in ladder order: bids best first then asks best
// first, FIFO within a level. Re-adding them in this order rebuilds the same
// queues.
type Book struct {
	Symbol    string            `json:"symbol"`
	LastPrice decimal.Decimal   `json:"last_price"`
	Volume    decimal.Decimal   `json:"volume"`
	Orders    []orderbook.Order `json:"orders"`
}

func (s *Snapshot) Full() bool { return s.Symbol == "" }

// Capture copies the state of m. It must run on the pipeline writer.
func Capture(m *memory.Manager, symbol string, createdAt int64) (*Snapshot, error) {
	c := m.Counters()
	s := &Snapshot{
		CommandID: c.LastCommandID,
		Symbol:    symbol,
		CreatedAt: createdAt,
		Counters:  c,
	}

	include := func(id string) bool { return symbol == "" || id == symbol }

	if symbol != "" {
		if _, ok := m.Symbol(symbol); !ok {
			if _, ok := m.OrderBook(symbol); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
			}
		}
	}

	for _, sym := range m.Symbols() {
		if include(sym.ID) {
			s.Symbols = append(s.Symbols, *sym)
		}
	}
	for _, id := range m.OrderBookSymbols() {
		if !include(id) {
			continue
		}
		b, _ := m.OrderBook(id)
		book := Book{Symbol: id, LastPrice: b.LastPrice(), Volume: b.Volume()}
		for o := range b.Orders() {
			book.Orders = append(book.Orders, *o.Clone())
		}
		s.Books = append(s.Books, book)
	}
	for _, id := range m.PositionSymbols() {
		if !include(id) {
			continue
		}
		for _, p := range m.SymbolPositions(id) {
			s.Positions = append(s.Positions, *p)
		}
	}
	return s, nil
}

// Validate checks that s is complete enough to replace live state.
func Validate(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	if !s.Full() {
		return fmt.Errorf("%w: symbol snapshot %s cannot be restored", ErrInvalidSnapshot, s.Symbol)
	}
	if s.Counters.LastCommandID != s.CommandID {
		return fmt.Errorf("%w: command id %d disagrees with counters %d", ErrInvalidSnapshot, s.CommandID, s.Counters.LastCommandID)
	}

	symbols := make(map[string]domain.Symbol, len(s.Symbols))
	for _, sym := range s.Symbols {
		if err := sym.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if _, dup := symbols[sym.ID]; dup {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidSnapshot, sym.ID)
		}
		symbols[sym.ID] = sym
	}

	type key struct {
		user   uint64
		symbol string
	}
	positions := make(map[key]domain.Position, len(s.Positions))
	for _, p := range s.Positions {
		sym, ok := symbols[p.Symbol]
		if !ok {
			return fmt.Errorf("%w: position of user %d references unknown symbol %s", ErrInvalidSnapshot, p.UserID, p.Symbol)
		}
		if !sym.SupportsPosition {
			return fmt.Errorf("%w: position on spot symbol %s", ErrInvalidSnapshot, p.Symbol)
		}
		if p.Quantity.IsNegative() || p.Quantity.IsZero() != (p.Side == domain.NoPosition) {
			return fmt.Errorf("%w: position %d/%s has side %s with quantity %s", ErrInvalidSnapshot, p.UserID, p.Symbol, p.Side, p.Quantity)
		}
		k := key{p.UserID, p.Symbol}
		if _, dup := positions[k]; dup {
			return fmt.Errorf("%w: duplicate position %d/%s", ErrInvalidSnapshot, p.UserID, p.Symbol)
		}
		positions[k] = p
	}

	seen := make(map[uint64]bool)
	books := make(map[string]bool, len(s.Books))
	for _, b := range s.Books {
		sym, ok := symbols[b.Symbol]
		if !ok {
			return fmt.Errorf("%w: book references unknown symbol %s", ErrInvalidSnapshot, b.Symbol)
		}
		if books[b.Symbol] {
			return fmt.Errorf("%w: duplicate book %s", ErrInvalidSnapshot, b.Symbol)
		}
		books[b.Symbol] = true

		for _, o := range b.Orders {
			if err := validateOrder(&o, b.Symbol, s.Counters); err != nil {
				return err
			}
			if seen[o.ID] {
				return fmt.Errorf("%w: order %d appears twice", ErrInvalidSnapshot, o.ID)
			}
			seen[o.ID] = true

			if sym.SupportsPosition && o.PositionAction == domain.Close {
				if _, ok := positions[key{o.UserID, o.Symbol}]; !ok {
					return fmt.Errorf("%w: closing order %d has no position entry", ErrInvalidSnapshot, o.ID)
				}
			}
		}
	}
	return nil
}

func validateOrder(o *orderbook.Order, symbol string, c memory.Counters) error {
	switch {
	case o.Symbol != symbol:
		return fmt.Errorf("%w: order %d of %s filed under %s", ErrInvalidSnapshot, o.ID, o.Symbol, symbol)
	case !o.Side.Valid():
		return fmt.Errorf("%w: order %d has no side", ErrInvalidSnapshot, o.ID)
	case !o.Remaining.IsPositive():
		return fmt.Errorf("%w: resting order %d has nothing remaining", ErrInvalidSnapshot, o.ID)
	case !o.Filled.Add(o.Remaining).Equal(o.Quantity):
		return fmt.Errorf("%w: order %d filled+remaining != quantity", ErrInvalidSnapshot, o.ID)
	case o.Status != domain.Pending && o.Status != domain.PartiallyFilled:
		return fmt.Errorf("%w: resting order %d in status %s", ErrInvalidSnapshot, o.ID, o.Status)
	case o.ID > c.NextOrderID:
		return fmt.Errorf("%w: order %d beyond order counter %d", ErrInvalidSnapshot, o.ID, c.NextOrderID)
	}
	return nil
}

// Restore validates s, wipes m and rebuilds it from s.
func Restore(m *memory.Manager, s *Snapshot) error {
	if err := Validate(s); err != nil {
		return err
	}

	m.ClearAll()
	for _, sym := range s.Symbols {
		if err := m.AddSymbol(sym); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
	}
	for _, b := range s.Books {
		book := m.GetOrCreateOrderBook(b.Symbol)
		book.RestoreStats(b.LastPrice, b.Volume)
		for i := range b.Orders {
			o := b.Orders[i]
			if err := book.AddOrder(&o); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
			}
		}
	}
	for _, p := range s.Positions {
		m.UpdatePosition(&p)
	}
	m.RestoreCounters(s.Counters)
	return nil
}

// Filter narrows a full snapshot to one symbol.
func (s *Snapshot) Filter(symbol string) *Snapshot {
	out := &Snapshot{
		CommandID: s.CommandID,
		Symbol:    symbol,
		CreatedAt: s.CreatedAt,
		Counters:  s.Counters,
	}
	for _, sym := range s.Symbols {
		if sym.ID == symbol {
			out.Symbols = append(out.Symbols, sym)
		}
	}
	for _, b := range s.Books {
		if b.Symbol == symbol {
			out.Books = append(out.Books, b)
		}
	}
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			out.Positions = append(out.Positions, p)
		}
	}
	return out
}
