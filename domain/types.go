package domain

import "fmt"

type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side that trades against s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY":
		*s = Buy
	case "SELL":
		*s = Sell
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

type OrderType uint8

const (
	Limit OrderType = iota + 1
	Market
	IOC
	FOK
	PostOnly
)

var orderTypeNames = map[OrderType]string{
	Limit:    "LIMIT",
	Market:   "MARKET",
	IOC:      "IOC",
	FOK:      "FOK",
	PostOnly: "POST_ONLY",
}

func (t OrderType) String() string {
	if n, ok := orderTypeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

func (t OrderType) Valid() bool {
	_, ok := orderTypeNames[t]
	return ok
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	for k, v := range orderTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown order type %q", b)
}

type OrderStatus uint8

const (
	Pending OrderStatus = iota + 1
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

var statusNames = map[OrderStatus]string{
	Pending:         "PENDING",
	PartiallyFilled: "PARTIALLY_FILLED",
	Filled:          "FILLED",
	Cancelled:       "CANCELLED",
	Rejected:        "REJECTED",
}

func (s OrderStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Terminal reports whether an order in this status can never trade again.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	for k, v := range statusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown order status %q", b)
}
