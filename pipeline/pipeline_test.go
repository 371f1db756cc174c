package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matchcore/command"
	"matchcore/infra/sequence"
	"matchcore/logger"
	"matchcore/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	seen  []uint64
	panic uint64
	gate  chan struct{}
}

func (r *recorder) Handle(c command.Command) *command.Result {
	if r.gate != nil {
		<-r.gate
	}
	if c.ID == r.panic {
		panic("boom")
	}
	r.mu.Lock()
	r.seen = append(r.seen, c.ID)
	r.mu.Unlock()
	res := command.NewResult(c)
	res.Status = command.StatusCompleted
	return res
}

func (r *recorder) ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seen...)
}

type memLog struct {
	ids  []uint64
	fail bool
}

func (l *memLog) Append(c command.Command) error {
	if l.fail {
		return errors.New("disk full")
	}
	l.ids = append(l.ids, c.ID)
	return nil
}

func newTestPipeline(cfg Config, h Handler, opts ...Option) *Pipeline {
	return New(cfg, h, sequence.New(0), logger.Discard(), opts...)
}

func TestCommandsRunInAdmissionOrder(t *testing.T) {
	h := &recorder{}
	p := newTestPipeline(Config{QueueSize: 8}, h)
	p.Start()

	const workers, each = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				res, err := p.Execute(context.Background(), command.QueryOrder{OrderID: 1}, "")
				assert.NoError(t, err)
				assert.Equal(t, command.StatusCompleted, res.Status)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, p.Stop(context.Background()))

	ids := h.ids()
	require.Len(t, ids, workers*each+1)
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
	assert.Equal(t, Stopped, p.State())
}

func TestFailPolicyRejectsWhenFull(t *testing.T) {
	p := newTestPipeline(Config{QueueSize: 2, Policy: Fail}, &recorder{})

	for i := 0; i < 2; i++ {
		_, err := p.Submit(context.Background(), command.Clear{}, "")
		require.NoError(t, err)
	}
	_, err := p.Submit(context.Background(), command.Clear{}, "")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(2), p.seq.Current())
}

func TestBlockPolicyHonoursContext(t *testing.T) {
	p := newTestPipeline(Config{QueueSize: 1, Policy: Block}, &recorder{})
	_, err := p.Submit(context.Background(), command.Clear{}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Submit(ctx, command.Clear{}, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlockPolicyWaitsForSlot(t *testing.T) {
	h := &recorder{gate: make(chan struct{})}
	p := newTestPipeline(Config{QueueSize: 1, Policy: Block}, h)
	p.Start()

	first, err := p.Submit(context.Background(), command.Clear{}, "")
	require.NoError(t, err)

	admitted := make(chan *Ticket)
	go func() {
		// the writer holds the first command; this one takes the freed slot
		t2, err := p.Submit(context.Background(), command.Clear{}, "")
		assert.NoError(t, err)
		admitted <- t2
	}()

	h.gate <- struct{}{}
	_, err = first.Wait(context.Background())
	require.NoError(t, err)

	second := <-admitted
	h.gate <- struct{}{}
	res, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.CommandID)

	close(h.gate)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPanicFailsOnlyItsCommand(t *testing.T) {
	h := &recorder{panic: 2}
	p := newTestPipeline(Config{QueueSize: 4}, h)
	p.Start()
	defer p.Stop(context.Background())

	ctx := context.Background()
	r1, err := p.Execute(ctx, command.Clear{}, "a")
	require.NoError(t, err)
	r2, err := p.Execute(ctx, command.Clear{}, "b")
	require.NoError(t, err)
	r3, err := p.Execute(ctx, command.Clear{}, "c")
	require.NoError(t, err)

	assert.Equal(t, command.StatusCompleted, r1.Status)
	assert.Equal(t, command.StatusFailed, r2.Status)
	assert.ErrorIs(t, r2.Err, ErrHandlerPanic)
	assert.Equal(t, "b", r2.RequestID)
	assert.Equal(t, command.StatusCompleted, r3.Status)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestStopDrainsThenRefuses(t *testing.T) {
	h := &recorder{gate: make(chan struct{})}
	p := newTestPipeline(Config{QueueSize: 8}, h)
	p.Start()

	var tickets []*Ticket
	for i := 0; i < 3; i++ {
		tk, err := p.Submit(context.Background(), command.Clear{}, "")
		require.NoError(t, err)
		tickets = append(tickets, tk)
	}
	stop, err := p.Submit(context.Background(), command.Stop{}, "")
	require.NoError(t, err)
	assert.Equal(t, Draining, p.State())

	_, err = p.Submit(context.Background(), command.Clear{}, "")
	assert.ErrorIs(t, err, ErrPipelineStopped)

	close(h.gate)
	for _, tk := range tickets {
		res, err := tk.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, command.StatusCompleted, res.Status)
	}
	_, err = stop.Wait(context.Background())
	require.NoError(t, err)
	<-p.Done()
	assert.Equal(t, Stopped, p.State())
}

func TestOnlyMutatingCommandsAreLogged(t *testing.T) {
	log := &memLog{}
	p := newTestPipeline(Config{QueueSize: 8}, &recorder{}, WithCommandLog(log))

	for _, payload := range []command.Payload{
		command.Clear{},
		command.QueryOrder{OrderID: 1},
		command.Snapshot{},
		command.Cancel{OrderID: 1},
	} {
		_, err := p.Submit(context.Background(), payload, "")
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 4}, log.ids)
}

func TestLogFailureNeverReusesTheID(t *testing.T) {
	log := &memLog{fail: true}
	p := newTestPipeline(Config{QueueSize: 8}, &recorder{}, WithCommandLog(log))

	_, err := p.Submit(context.Background(), command.Clear{}, "")
	assert.ErrorIs(t, err, ErrLogAppend)
	assert.Equal(t, uint64(1), p.seq.Current(), "a failed append may have left its frame on disk")

	log.fail = false
	tk, err := p.Submit(context.Background(), command.Clear{}, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tk.ID())
}

func TestFullRingWithAFreeSlotPanics(t *testing.T) {
	p := newTestPipeline(Config{QueueSize: 2}, &recorder{})
	// tickets pushed behind the slot accounting
	require.True(t, p.queue.Enqueue(newTicket(command.Command{ID: 100})))
	require.True(t, p.queue.Enqueue(newTicket(command.Command{ID: 101})))

	assert.Panics(t, func() {
		_, _ = p.Submit(context.Background(), command.Clear{}, "")
	})
}

func TestRateLimitWithFailPolicy(t *testing.T) {
	p := newTestPipeline(Config{QueueSize: 8, Policy: Fail, RateLimit: 0.001, RateBurst: 1}, &recorder{})

	_, err := p.Submit(context.Background(), command.Clear{}, "")
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), command.Clear{}, "")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestReplayAdvancesSequence(t *testing.T) {
	h := &recorder{}
	p := newTestPipeline(Config{QueueSize: 8}, h)

	p.ResetSequence(10)
	res := p.Replay(command.Command{ID: 12, Payload: command.Clear{}})
	assert.Equal(t, command.StatusCompleted, res.Status)
	assert.Equal(t, uint64(12), p.seq.Current())

	tk, err := p.Submit(context.Background(), command.Clear{}, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(13), tk.ID())
}

func TestStatsArePublished(t *testing.T) {
	p := newTestPipeline(Config{QueueSize: 8}, &recorder{}, WithStats(func() memory.Stats {
		return memory.Stats{Symbols: 3}
	}))
	p.Start()
	_, err := p.Execute(context.Background(), command.Clear{}, "")
	require.NoError(t, err)
	require.NoError(t, p.Stop(context.Background()))

	st := p.Stats()
	assert.Equal(t, 3, st.Memory.Symbols)
	assert.Equal(t, uint64(2), st.Admitted)
	assert.Equal(t, "STOPPED", st.State)
}

func TestParsePolicy(t *testing.T) {
	pol, err := ParsePolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, Fail, pol)
	_, err = ParsePolicy("drop")
	assert.Error(t, err)
}
