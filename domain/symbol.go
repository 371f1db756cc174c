package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidSymbol = errors.New("invalid symbol")

// Symbol holds the trading rules of one instrument. It is reference data:
// matching reads it, only admin commands change it.
type Symbol struct {
	ID                string          `json:"id" yaml:"id"`
	PricePrecision    int32           `json:"price_precision" yaml:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision" yaml:"quantity_precision"`
	FeeRate           decimal.Decimal `json:"fee_rate" yaml:"fee_rate"`
	MaxDepth          int             `json:"max_depth" yaml:"max_depth"`
	MaxSlippage       decimal.Decimal `json:"max_slippage" yaml:"max_slippage"`
	SupportsPosition  bool            `json:"supports_position" yaml:"supports_position"`
	Tradeable         bool            `json:"tradeable" yaml:"tradeable"`
}

// NoDepthLimit as MaxDepth lets a market order walk every level within its
// slippage bound.
const NoDepthLimit = 0

func (s *Symbol) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidSymbol)
	case s.PricePrecision < 0 || s.QuantityPrecision < 0:
		return fmt.Errorf("%w: %s: negative precision", ErrInvalidSymbol, s.ID)
	case s.FeeRate.IsNegative():
		return fmt.Errorf("%w: %s: negative fee rate", ErrInvalidSymbol, s.ID)
	case s.MaxDepth < 0:
		return fmt.Errorf("%w: %s: negative max depth", ErrInvalidSymbol, s.ID)
	case s.MaxSlippage.IsNegative():
		return fmt.Errorf("%w: %s: negative max slippage", ErrInvalidSymbol, s.ID)
	}
	return nil
}

// ValidPrice reports whether p is positive and fits the price precision.
func (s *Symbol) ValidPrice(p decimal.Decimal) bool {
	return p.IsPositive() && p.Equal(p.Truncate(s.PricePrecision))
}

// ValidQuantity reports whether q is positive and fits the quantity precision.
func (s *Symbol) ValidQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Truncate(s.QuantityPrecision))
}

// CalcMaxPrice returns the worst price a market order may reach when the
// best opposing price is best. Buys may go up by MaxSlippage, sells down.
func (s *Symbol) CalcMaxPrice(side Side, best decimal.Decimal) decimal.Decimal {
	if side == Buy {
		return best.Mul(decimal.NewFromInt(1).Add(s.MaxSlippage))
	}
	return best.Mul(decimal.NewFromInt(1).Sub(s.MaxSlippage))
}

// Fee applies the symbol fee rate to a trade amount.
func (s *Symbol) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.FeeRate)
}
