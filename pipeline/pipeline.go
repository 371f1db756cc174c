// Package pipeline is the single-writer command processor. Many goroutines
// admit commands; one writer applies them in admission order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"matchcore/command"
	"matchcore/infra/sequence"
	"matchcore/logger"
	"matchcore/memory"
	"matchcore/metrics"
	"matchcore/rbq"
	"matchcore/rcu"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull       = errors.New("admission queue full")
	ErrRateLimited     = errors.New("admission rate exceeded")
	ErrPipelineStopped = errors.New("pipeline not accepting commands")
	ErrHandlerPanic    = errors.New("command handler panicked")
	ErrLogAppend       = errors.New("command log append failed")
)

// Handler applies one command. It runs only on the writer goroutine.
type Handler interface {
	Handle(c command.Command) *command.Result
}

// CommandLog is the write side of the durable command log.
type CommandLog interface {
	Append(c command.Command) error
}

// Policy decides what admission does when the queue is full.
type Policy uint8

const (
	Block Policy = iota
	Fail
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block", "":
		return Block, nil
	case "fail":
		return Fail, nil
	}
	return 0, fmt.Errorf("unknown admission policy %q", s)
}

type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	QueueSize int
	Policy    Policy
	// RateLimit is commands per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Stats is an eventually consistent view for monitoring.
type Stats struct {
	State      string       `json:"state"`
	Admitted   uint64       `json:"admitted"`
	Completed  uint64       `json:"completed"`
	Failed     uint64       `json:"failed"`
	Rejected   uint64       `json:"rejected"`
	QueueDepth int          `json:"queue_depth"`
	LastID     uint64       `json:"last_command_id"`
	Memory     memory.Stats `json:"memory"`
}

type Pipeline struct {
	handler Handler
	log     CommandLog
	seq     *sequence.Sequencer
	policy  Policy
	limiter *rate.Limiter
	stats   func() memory.Stats
	now     func() int64
	lg      *logger.Entry

	// admitMu orders id assignment, logging and enqueue as one step.
	admitMu sync.Mutex
	queue   *rbq.Ring[*Ticket]
	slots   chan struct{}
	wake    chan struct{}
	done    chan struct{}
	state   atomic.Int32
	started atomic.Bool

	admitted  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	memStats  rcu.Value[memory.Stats]
}

type Option func(*Pipeline)

// WithCommandLog makes every mutating command durable before it is queued.
func WithCommandLog(l CommandLog) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithStats publishes engine stats after each command.
func WithStats(fn func() memory.Stats) Option {
	return func(p *Pipeline) { p.stats = fn }
}

// WithClock stamps admitted commands; tests use a fixed clock.
func WithClock(now func() int64) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(cfg Config, h Handler, seq *sequence.Sequencer, log *logger.Log, opts ...Option) *Pipeline {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	p := &Pipeline{
		handler: h,
		seq:     seq,
		policy:  cfg.Policy,
		now:     func() int64 { return time.Now().UnixNano() },
		lg:      log.WithComponent("pipeline"),
		queue:   rbq.New[*Ticket](size),
		slots:   make(chan struct{}, size),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) State() State { return State(p.state.Load()) }

// Done is closed once the writer has processed STOP.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// ------------------------------------------------
// ADMISSION
// ------------------------------------------------

// Submit admits payload and returns its ticket. The command id is assigned
// here; admission order is processing order.
func (p *Pipeline) Submit(ctx context.Context, payload command.Payload, requestID string) (*Ticket, error) {
	if p.State() != Running {
		return nil, ErrPipelineStopped
	}
	if err := p.throttle(ctx); err != nil {
		return nil, err
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	p.admitMu.Lock()
	defer p.admitMu.Unlock()

	if p.State() != Running {
		<-p.slots
		return nil, ErrPipelineStopped
	}

	c := command.Command{
		ID:        p.seq.Next(),
		RequestID: requestID,
		Timestamp: p.now(),
		Payload:   payload,
	}
	if p.log != nil && c.Type().Mutating() {
		// The id is burned even on failure: the frame may already be on disk.
		if err := p.log.Append(c); err != nil {
			<-p.slots
			metrics.AdmissionRejections.WithLabelValues("log").Inc()
			return nil, fmt.Errorf("%w: %v", ErrLogAppend, err)
		}
	}

	t := newTicket(c)
	if !p.queue.Enqueue(t) {
		// slots bounds the ring, so a full ring means the accounting is broken
		panic(fmt.Sprintf("pipeline: ring full with a slot held (command %d)", c.ID))
	}
	p.admitted.Add(1)
	metrics.QueueDepth.Set(float64(p.queue.Len()))
	if c.Type() == command.TypeStop {
		p.state.Store(int32(Draining))
		p.lg.WithField("command_id", c.ID).Info("draining")
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return t, nil
}

// Execute submits payload and waits for its result.
func (p *Pipeline) Execute(ctx context.Context, payload command.Payload, requestID string) (*command.Result, error) {
	t, err := p.Submit(ctx, payload, requestID)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

func (p *Pipeline) throttle(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if p.policy == Fail {
		if !p.limiter.Allow() {
			metrics.AdmissionRejections.WithLabelValues("rate").Inc()
			return ErrRateLimited
		}
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *Pipeline) acquire(ctx context.Context) error {
	if p.policy == Fail {
		select {
		case p.slots <- struct{}{}:
			return nil
		default:
			metrics.AdmissionRejections.WithLabelValues("queue_full").Inc()
			return ErrQueueFull
		}
	}
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ------------------------------------------------
// WRITER
// ------------------------------------------------

// Start runs the writer until STOP has been processed.
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.lg.WithField("next_id", p.seq.Current()+1).Info("started")
	go p.run()
}

func (p *Pipeline) run() {
	defer close(p.done)
	for {
		t, ok := p.queue.Dequeue()
		if !ok {
			<-p.wake
			continue
		}
		<-p.slots
		metrics.QueueDepth.Set(float64(p.queue.Len()))

		res := p.dispatch(t.cmd)
		p.account(res, t.admittedAt)
		t.complete(res)

		if t.cmd.Type() == command.TypeStop {
			p.state.Store(int32(Stopped))
			p.lg.WithField("command_id", t.cmd.ID).Info("stopped")
			return
		}
	}
}

// dispatch is the fault boundary: a panicking handler fails its own
// command and nothing else.
func (p *Pipeline) dispatch(c command.Command) (res *command.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = command.NewResult(c)
			res.Status = command.StatusFailed
			res.Err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	res = p.handler.Handle(c)
	if res == nil {
		res = command.NewResult(c)
		res.Status = command.StatusFailed
		res.Err = errors.New("handler returned no result")
	}
	return res
}

func (p *Pipeline) account(res *command.Result, admittedAt time.Time) {
	typ := res.Type.String()
	metrics.CommandsTotal.WithLabelValues(typ, res.Status.String()).Inc()
	if !admittedAt.IsZero() {
		metrics.CommandLatency.WithLabelValues(typ).Observe(time.Since(admittedAt).Seconds())
	}

	switch {
	case res.Status == command.StatusFailed:
		p.failed.Add(1)
		p.lg.WithError(res.Err).WithFields(logger.Fields{
			"command_id": res.CommandID,
			"request_id": res.RequestID,
			"type":       typ,
		}).Error("command failed")
	case res.Rejected():
		p.rejected.Add(1)
		p.completed.Add(1)
	default:
		p.completed.Add(1)
	}

	if p.stats != nil {
		p.memStats.Publish(p.stats())
	}
}

// ------------------------------------------------
// RECOVERY
// ------------------------------------------------

// ResetSequence moves the id generator to a recovery point.
func (p *Pipeline) ResetSequence(last uint64) {
	p.seq.Reset(last)
}

// Replay applies a logged command on the caller's goroutine. It must only be
// used before Start.
func (p *Pipeline) Replay(c command.Command) *command.Result {
	res := p.dispatch(c)
	p.seq.Observe(c.ID)
	p.account(res, time.Time{})
	return res
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

// Stop admits STOP, then waits for everything admitted before it to drain.
func (p *Pipeline) Stop(ctx context.Context) error {
	if _, err := p.Submit(ctx, command.Stop{}, "stop-"+uuid.NewString()); err != nil &&
		!errors.Is(err, ErrPipelineStopped) {
		return err
	}
	if !p.started.Load() {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		State:      p.State().String(),
		Admitted:   p.admitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
		QueueDepth: p.queue.Len(),
		LastID:     p.seq.Current(),
		Memory:     p.memStats.Load(),
	}
}
