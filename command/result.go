package command

import (
	"matchcore/domain"
	"matchcore/domain/orderbook"
	"matchcore/snapshot"
)

// Status tracks a command through the pipeline:
// ADMITTED -> DISPATCHED -> COMPLETED | FAILED.
type Status uint8

const (
	StatusAdmitted Status = iota + 1
	StatusDispatched
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusAdmitted:
		return "ADMITTED"
	case StatusDispatched:
		return "DISPATCHED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is what a command completes with. A rejection is a completed
// command carrying Reject; Err is only set for FAILED commands.
type Result struct {
	CommandID uint64 `json:"command_id"`
	RequestID string `json:"request_id,omitempty"`
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Status    Status `json:"status"`
	Err       error  `json:"-"`

	Reject    *domain.Reject     `json:"reject,omitempty"`
	Order     *orderbook.Order   `json:"order,omitempty"`
	Cancelled []*orderbook.Order `json:"cancelled,omitempty"`
	Trades    []domain.Trade     `json:"trades,omitempty"`
	Positions []domain.Position  `json:"positions,omitempty"`
	Symbol    *domain.Symbol     `json:"symbol,omitempty"`
	Snapshot  *snapshot.Snapshot `json:"-"`
}

func NewResult(c Command) *Result {
	return &Result{
		CommandID: c.ID,
		RequestID: c.RequestID,
		Type:      c.Type(),
		Timestamp: c.Timestamp,
		Status:    StatusAdmitted,
	}
}

func (r *Result) Rejected() bool { return r.Reject != nil }

// Event is the egress record handed to the publisher for one command.
type Event struct {
	V         int                `json:"v"`
	CommandID uint64             `json:"command_id"`
	RequestID string             `json:"request_id,omitempty"`
	Type      Type               `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Reject    *domain.Reject     `json:"reject,omitempty"`
	Order     *orderbook.Order   `json:"order,omitempty"`
	Cancelled []*orderbook.Order `json:"cancelled,omitempty"`
	Trades    []domain.Trade     `json:"trades,omitempty"`
	Positions []domain.Position  `json:"positions,omitempty"`
}

const EventVersion = 1

// Event reports the egress record for a completed command. Queries,
// snapshots and control commands publish nothing.
func (r *Result) Event() (Event, bool) {
	if r.Status != StatusCompleted {
		return Event{}, false
	}
	switch r.Type {
	case TypeNewOrder, TypeCancel, TypeCancelAll, TypeClearSymbol, TypeLiquidation, TypeRemoveSymbol:
	default:
		return Event{}, false
	}
	if r.Order == nil && len(r.Cancelled) == 0 && len(r.Trades) == 0 && r.Reject == nil {
		return Event{}, false
	}
	return Event{
		V:         EventVersion,
		CommandID: r.CommandID,
		RequestID: r.RequestID,
		Type:      r.Type,
		Timestamp: r.Timestamp,
		Reject:    r.Reject,
		Order:     r.Order,
		Cancelled: r.Cancelled,
		Trades:    r.Trades,
		Positions: r.Positions,
	}, true
}
