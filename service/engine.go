package service

import (
	"encoding/json"
	"fmt"

	"matchcore/command"
	"matchcore/domain"
	"matchcore/logger"
	"matchcore/matching"
	"matchcore/memory"
	"matchcore/metrics"
	"matchcore/snapshot"
)

// Egress stages the published form of a completed command. Staging must be
// idempotent per command id and must not block on the network.
type Egress interface {
	Stage(commandID uint64, payload []byte) (bool, error)
}

// SnapshotSink takes captured snapshots off the writer for persistence.
type SnapshotSink interface {
	Persist(s *snapshot.Snapshot)
}

/*
Engine dispatches each command to its handler.

- Rejections are values on the result, never errors.
- Mutating commands advance the applied command id before they run, so a
  command that fails half way is still accounted for in a snapshot.
- Egress is staged after the handler; replay stages again and the outbox
  drops what it already holds.
*/
type Engine struct {
	mem       *memory.Manager
	matcher   *matching.Matcher
	egress    Egress
	snapshots SnapshotSink
	replaying bool
	log       *logger.Entry
}

type Option func(*Engine)

func WithEgress(e Egress) Option {
	return func(en *Engine) { en.egress = e }
}

func WithSnapshotSink(s SnapshotSink) Option {
	return func(en *Engine) { en.snapshots = s }
}

func NewEngine(mem *memory.Manager, log *logger.Log, opts ...Option) *Engine {
	e := &Engine{
		mem:     mem,
		matcher: matching.New(mem),
		log:     log.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Memory exposes the managed state. Only the writer may use it.
func (e *Engine) Memory() *memory.Manager { return e.mem }

// SetReplaying marks commands as coming from the durable log. Snapshot
// persistence is suppressed while replaying.
func (e *Engine) SetReplaying(v bool) { e.replaying = v }

// Handle runs c to completion. Panics are left to the caller.
func (e *Engine) Handle(c command.Command) *command.Result {
	res := command.NewResult(c)
	res.Status = command.StatusDispatched

	if c.Type().Mutating() {
		e.mem.MarkApplied(c.ID)
	}

	var err error
	switch p := c.Payload.(type) {
	case command.NewOrder:
		e.newOrder(c, p, res)
	case command.Cancel:
		e.cancel(p, res)
	case command.CancelAll:
		e.cancelAll(p, res)
	case command.Snapshot:
		err = e.snapshot(c, p, res)
	case command.Clear:
		e.mem.ClearAll()
	case command.ClearSymbol:
		e.clearSymbol(p, res)
	case command.Stop:
	case command.QueryOrder:
		e.queryOrder(p, res)
	case command.QueryPosition:
		e.queryPosition(p, res)
	case command.Liquidation:
		e.liquidate(c, p, res)
	case command.AddSymbol:
		e.addSymbol(p, res)
	case command.UpdateSymbol:
		e.updateSymbol(p, res)
	case command.RemoveSymbol:
		e.removeSymbol(p, res)
	default:
		res.Reject = domain.NewReject(domain.RejectInvalidCommand, fmt.Sprintf("unsupported payload %T", c.Payload))
	}

	if err != nil {
		res.Status = command.StatusFailed
		res.Err = err
		return res
	}
	res.Status = command.StatusCompleted
	if res.Reject != nil {
		metrics.OrderRejections.WithLabelValues(string(res.Reject.Code)).Inc()
	}
	e.stage(res)
	return res
}

func (e *Engine) stage(res *command.Result) {
	if e.egress == nil {
		return
	}
	ev, ok := res.Event()
	if !ok {
		return
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, err = e.egress.Stage(res.CommandID, b)
	}
	if err != nil {
		e.log.WithError(err).WithFields(logger.Fields{
			"command_id": res.CommandID,
			"type":       res.Type.String(),
		}).Error("egress staging failed")
	}
}

func (e *Engine) snapshot(c command.Command, p command.Snapshot, res *command.Result) error {
	if p.Symbol != "" {
		if _, ok := e.mem.Symbol(p.Symbol); !ok {
			if _, ok := e.mem.OrderBook(p.Symbol); !ok {
				res.Reject = domain.NewReject(domain.RejectUnknownSymbol, p.Symbol)
				return nil
			}
		}
	}
	s, err := snapshot.Capture(e.mem, p.Symbol, c.Timestamp)
	if err != nil {
		return fmt.Errorf("capture snapshot: %w", err)
	}
	res.Snapshot = s
	if e.snapshots != nil && !e.replaying {
		e.snapshots.Persist(s)
	}
	return nil
}
