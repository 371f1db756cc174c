// Package broadcaster forwards staged egress events to a sink in command id
// order and advances the outbox ack offset as the sink confirms them.
package broadcaster

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"matchcore/infra/kafka"
	exitwal "matchcore/infra/wal/exit"
	"matchcore/logger"
	"matchcore/metrics"
)

const (
	defaultInterval = 250 * time.Millisecond
	defaultBatch    = 512
)

// errStop ends a scan without being reported.
var errStop = errors.New("stop scan")

type Broadcaster struct {
	outbox   *exitwal.Outbox
	sink     kafka.Sink
	interval time.Duration
	batch    int
	log      *logger.Entry

	wg sync.WaitGroup
}

type Option func(*Broadcaster)

func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

func WithBatch(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.batch = n
		}
	}
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(outbox *exitwal.Outbox, sink kafka.Sink, log *logger.Log, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		outbox:   outbox,
		sink:     sink,
		interval: defaultInterval,
		batch:    defaultBatch,
		log:      log.WithComponent("broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.WithField("interval", b.interval.String()).Info("started")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
					b.log.WithError(err).Warn("flush stopped")
				}
			}
		}
	}()
}

// Wait blocks until the loop started by Start has returned.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// ------------------------------------------------
// PUBLISH
// ------------------------------------------------

// Flush publishes pending events oldest first. It stops at the first sink
// failure so that the ack offset only ever covers a delivered prefix.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	sent := 0
	var sendErr error

	err := b.outbox.Pending(b.batch, func(e exitwal.Entry) error {
		if err := ctx.Err(); err != nil {
			sendErr = err
			return errStop
		}
		if err := b.outbox.MarkSent(e.CommandID); err != nil {
			return err
		}

		key := []byte(strconv.FormatUint(e.CommandID, 10))
		if err := b.sink.Send(ctx, key, e.Payload); err != nil {
			metrics.EgressPublished.WithLabelValues("failed").Inc()
			_ = b.outbox.MarkFailed(e.CommandID)
			b.log.WithError(err).WithField("command_id", e.CommandID).Warn("publish failed, will retry")
			sendErr = err
			return errStop
		}

		if err := b.outbox.Ack(e.CommandID); err != nil {
			return err
		}
		metrics.EgressPublished.WithLabelValues("ok").Inc()
		sent++
		return nil
	})
	if errors.Is(err, errStop) {
		err = sendErr
	}

	if n, perr := b.outbox.PendingCount(); perr == nil {
		metrics.OutboxPending.Set(float64(n))
	}
	if sent > 0 {
		b.log.WithFields(logger.Fields{"sent": sent, "acked": b.outbox.AckedOffset()}).Debug("flushed")
	}
	return sent, err
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	b.wg.Wait()
	return b.sink.Close()
}
