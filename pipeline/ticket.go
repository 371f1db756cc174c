package pipeline

import (
	"context"
	"time"

	"matchcore/command"
)

// Ticket tracks one admitted command until the writer completes it.
type Ticket struct {
	cmd        command.Command
	admittedAt time.Time
	done       chan struct{}
	res        *command.Result
}

func newTicket(c command.Command) *Ticket {
	return &Ticket{cmd: c, admittedAt: time.Now(), done: make(chan struct{})}
}

func (t *Ticket) ID() uint64 { return t.cmd.ID }

func (t *Ticket) Command() command.Command { return t.cmd }

func (t *Ticket) Done() <-chan struct{} { return t.done }

func (t *Ticket) complete(res *command.Result) {
	t.res = res
	close(t.done)
}

// Wait blocks until the command completes or ctx ends. A cancelled wait
// does not cancel the command.
func (t *Ticket) Wait(ctx context.Context) (*command.Result, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
