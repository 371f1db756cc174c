// Package command defines the closed set of commands the pipeline accepts,
// the result each one completes with, and the egress event it emits.
package command

import (
	"fmt"

	"matchcore/domain"

	"github.com/shopspring/decimal"
)

type Type uint8

const (
	TypeNewOrder Type = iota + 1
	TypeCancel
	TypeCancelAll
	TypeSnapshot
	TypeClear
	TypeClearSymbol
	TypeStop
	TypeQueryOrder
	TypeQueryPosition
	TypeLiquidation
	TypeAddSymbol
	TypeUpdateSymbol
	TypeRemoveSymbol
)

var typeNames = map[Type]string{
	TypeNewOrder:      "NEW_ORDER",
	TypeCancel:        "CANCEL",
	TypeCancelAll:     "CANCEL_ALL",
	TypeSnapshot:      "SNAPSHOT",
	TypeClear:         "CLEAR",
	TypeClearSymbol:   "CLEAR_SYMBOL",
	TypeStop:          "STOP",
	TypeQueryOrder:    "QUERY_ORDER",
	TypeQueryPosition: "QUERY_POSITION",
	TypeLiquidation:   "LIQUIDATION",
	TypeAddSymbol:     "ADD_SYMBOL",
	TypeUpdateSymbol:  "UPDATE_SYMBOL",
	TypeRemoveSymbol:  "REMOVE_SYMBOL",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	for k, v := range typeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown command type %q", b)
}

// Mutating reports whether commands of this type change engine state and
// therefore belong in the durable log.
func (t Type) Mutating() bool {
	switch t {
	case TypeQueryOrder, TypeQueryPosition, TypeSnapshot, TypeStop:
		return false
	}
	return true
}

// Payload is implemented by exactly the payload structs below.
type Payload interface {
	Type() Type
}

// Command is one admitted unit of work. ID is zero until the pipeline admits it.
type Command struct {
	ID        uint64
	RequestID string
	Timestamp int64
	Payload   Payload
}

func (c Command) Type() Type {
	if c.Payload == nil {
		return 0
	}
	return c.Payload.Type()
}

type NewOrder struct {
	OrderID        uint64                `json:"order_id,omitempty"`
	UserID         uint64                `json:"user_id"`
	Symbol         string                `json:"symbol"`
	Side           domain.Side           `json:"side"`
	OrderType      domain.OrderType      `json:"order_type"`
	Price          decimal.Decimal       `json:"price"`
	Quantity       decimal.Decimal       `json:"quantity"`
	PositionAction domain.PositionAction `json:"position_action,omitempty"`
}

// Cancel removes one resting order. A non-zero UserID must own the order.
type Cancel struct {
	OrderID uint64 `json:"order_id"`
	UserID  uint64 `json:"user_id,omitempty"`
}

// CancelAll removes every resting order of a user, optionally on one symbol.
type CancelAll struct {
	UserID uint64 `json:"user_id"`
	Symbol string `json:"symbol,omitempty"`
}

// Snapshot captures the whole engine, or a single symbol when Symbol is set.
type Snapshot struct {
	Symbol string `json:"symbol,omitempty"`
}

type Clear struct{}

type ClearSymbol struct {
	Symbol string `json:"symbol"`
}

type Stop struct{}

type QueryOrder struct {
	OrderID uint64 `json:"order_id"`
}

// QueryPosition returns one position, or all of a user's when Symbol is empty.
type QueryPosition struct {
	UserID uint64 `json:"user_id"`
	Symbol string `json:"symbol,omitempty"`
}

// Liquidation force-closes a position. A zero Quantity closes all of it.
type Liquidation struct {
	UserID   uint64          `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

type AddSymbol struct {
	Symbol domain.Symbol `json:"symbol"`
}

type UpdateSymbol struct {
	Symbol domain.Symbol `json:"symbol"`
}

type RemoveSymbol struct {
	Symbol string `json:"symbol"`
}

func (NewOrder) Type() Type      { return TypeNewOrder }
func (Cancel) Type() Type        { return TypeCancel }
func (CancelAll) Type() Type     { return TypeCancelAll }
func (Snapshot) Type() Type      { return TypeSnapshot }
func (Clear) Type() Type         { return TypeClear }
func (ClearSymbol) Type() Type   { return TypeClearSymbol }
func (Stop) Type() Type          { return TypeStop }
func (QueryOrder) Type() Type    { return TypeQueryOrder }
func (QueryPosition) Type() Type { return TypeQueryPosition }
func (Liquidation) Type() Type   { return TypeLiquidation }
func (AddSymbol) Type() Type     { return TypeAddSymbol }
func (UpdateSymbol) Type() Type  { return TypeUpdateSymbol }
func (RemoveSymbol) Type() Type  { return TypeRemoveSymbol }

func newPayload(t Type) (Payload, bool) {
	switch t {
	case TypeNewOrder:
		return &NewOrder{}, true
	case TypeCancel:
		return &Cancel{}, true
	case TypeCancelAll:
		return &CancelAll{}, true
	case TypeSnapshot:
		return &Snapshot{}, true
	case TypeClear:
		return &Clear{}, true
	case TypeClearSymbol:
		return &ClearSymbol{}, true
	case TypeStop:
		return &Stop{}, true
	case TypeQueryOrder:
		return &QueryOrder{}, true
	case TypeQueryPosition:
		return &QueryPosition{}, true
	case TypeLiquidation:
		return &Liquidation{}, true
	case TypeAddSymbol:
		return &AddSymbol{}, true
	case TypeUpdateSymbol:
		return &UpdateSymbol{}, true
	case TypeRemoveSymbol:
		return &RemoveSymbol{}, true
	}
	return nil, false
}
