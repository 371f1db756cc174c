package domain

import "github.com/shopspring/decimal"

// Trade is one pairwise fill between a taker and a resting maker order.
// Side is always recorded as BUY; TakerSide tells who aggressed.
type Trade struct {
	ID          uint64          `json:"id"`
	CommandID   uint64          `json:"command_id"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  uint64          `json:"buy_order_id"`
	SellOrderID uint64          `json:"sell_order_id"`
	BuyUserID   uint64          `json:"buy_user_id"`
	SellUserID  uint64          `json:"sell_user_id"`
	Side        Side            `json:"side"`
	TakerSide   Side            `json:"taker_side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	BuyFee      decimal.Decimal `json:"buy_fee"`
	SellFee     decimal.Decimal `json:"sell_fee"`
	Timestamp   int64           `json:"timestamp"`

	BuyAction         PositionAction  `json:"buy_action,omitempty"`
	SellAction        PositionAction  `json:"sell_action,omitempty"`
	BuyPositionDelta  decimal.Decimal `json:"buy_position_delta"`
	SellPositionDelta decimal.Decimal `json:"sell_position_delta"`
}
