package domain

type RejectCode string

const (
	RejectUnknownSymbol         RejectCode = "UNKNOWN_SYMBOL"
	RejectSymbolNotTradeable    RejectCode = "SYMBOL_NOT_TRADEABLE"
	RejectInvalidSide           RejectCode = "INVALID_SIDE"
	RejectInvalidType           RejectCode = "INVALID_TYPE"
	RejectInvalidPrice          RejectCode = "INVALID_PRICE"
	RejectInvalidQuantity       RejectCode = "INVALID_QUANTITY"
	RejectInvalidPositionAction RejectCode = "INVALID_POSITION_ACTION"
	RejectDuplicateOrder        RejectCode = "DUPLICATE_ORDER"
	RejectWouldCross            RejectCode = "POST_ONLY_WOULD_CROSS"
	RejectInsufficientLiquidity RejectCode = "FOK_INSUFFICIENT_LIQUIDITY"
	RejectNoLiquidity           RejectCode = "NO_LIQUIDITY"
	RejectNoPosition            RejectCode = "NO_POSITION"
	RejectNotFound              RejectCode = "NOT_FOUND"
	RejectInvalidCommand        RejectCode = "INVALID_COMMAND"
)

// Reject is a structured refusal. It is a value, not an error: rejected
// commands complete normally.
type Reject struct {
	Code   RejectCode `json:"code"`
	Reason string     `json:"reason"`
}

func NewReject(code RejectCode, reason string) *Reject {
	return &Reject{Code: code, Reason: reason}
}

func (r *Reject) String() string {
	if r.Reason == "" {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Reason
}
