package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type PositionAction uint8

const (
	ActionNone PositionAction = iota
	Open
	Close
)

func (a PositionAction) String() string {
	switch a {
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	default:
		return ""
	}
}

func (a PositionAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *PositionAction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "OPEN":
		*a = Open
	case "CLOSE":
		*a = Close
	case "":
		*a = ActionNone
	default:
		return fmt.Errorf("unknown position action %q", b)
	}
	return nil
}

// DetermineAction derives whether a fill on side opens or closes against the
// current position direction.
func DetermineAction(side Side, current PositionSide) PositionAction {
	if current == NoPosition || current == side.Direction() {
		return Open
	}
	return Close
}

// CalculatePositionChange validates action against the current position
// direction and returns the signed quantity change. Positive grows a long or
// shrinks a short.
func CalculatePositionChange(side Side, action PositionAction, current PositionSide, qty decimal.Decimal) (decimal.Decimal, bool, string) {
	if !qty.IsPositive() {
		return decimal.Zero, false, "quantity must be positive"
	}

	switch action {
	case Open:
		if current != NoPosition && current != side.Direction() {
			return decimal.Zero, false, fmt.Sprintf("cannot open %s against %s position", side, current)
		}
	case Close:
		if current == NoPosition {
			return decimal.Zero, false, "no position to close"
		}
		if current == side.Direction() {
			return decimal.Zero, false, fmt.Sprintf("%s cannot close a %s position", side, current)
		}
	default:
		return decimal.Zero, false, "missing position action"
	}

	if side == Sell {
		return qty.Neg(), true, ""
	}
	return qty, true, ""
}
