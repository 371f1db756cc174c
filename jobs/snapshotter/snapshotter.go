// Package snapshotter persists snapshots captured by the writer and, once a
// full snapshot is stored, trims the command log and the outbox behind it.
package snapshotter

import (
	"context"
	"sync"
	"time"

	"matchcore/command"
	"matchcore/logger"
	"matchcore/metrics"
	"matchcore/snapshot"

	"github.com/google/uuid"
)

// Submitter admits commands into the pipeline.
type Submitter interface {
	Execute(ctx context.Context, payload command.Payload, requestID string) (*command.Result, error)
}

// LogTruncator drops command log segments covered by a snapshot.
type LogTruncator interface {
	TruncateBefore(id uint64) (int, error)
}

// Outbox holds staged egress events. Sync makes every staged event durable;
// the command log is only trimmed after it succeeds, since replay is what
// restages events lost from an unsynced outbox.
type Outbox interface {
	Sync() error
	TruncateAckedUpTo(id uint64) (int, error)
}

type Config struct {
	// Keep is how many snapshots of each scope the store retains.
	Keep    int
	Backlog int
}

type Snapshotter struct {
	store  *snapshot.Store
	log    LogTruncator
	outbox Outbox
	keep   int
	lg     *logger.Entry

	queue chan *snapshot.Snapshot
	wg    sync.WaitGroup
	saved chan uint64
}

func New(cfg Config, store *snapshot.Store, log *logger.Log) *Snapshotter {
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = 4
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = 3
	}
	return &Snapshotter{
		store: store,
		keep:  keep,
		lg:    log.WithComponent("snapshotter"),
		queue: make(chan *snapshot.Snapshot, backlog),
	}
}

// WithTruncation trims the command log and the outbox after each stored
// full snapshot.
func (s *Snapshotter) WithTruncation(log LogTruncator, outbox Outbox) *Snapshotter {
	s.log = log
	s.outbox = outbox
	return s
}

// Notify reports the command id of every stored snapshot on ch; tests use it.
func (s *Snapshotter) Notify(ch chan uint64) *Snapshotter {
	s.saved = ch
	return s
}

// Persist hands a captured snapshot to the saver. It never blocks the
// writer: when the saver is behind, the snapshot is dropped and the next
// one supersedes it.
func (s *Snapshotter) Persist(snap *snapshot.Snapshot) {
	select {
	case s.queue <- snap:
	default:
		metrics.SnapshotsTotal.WithLabelValues("dropped").Inc()
		s.lg.WithField("command_id", snap.CommandID).Warn("saver busy, snapshot dropped")
	}
}

// Start runs the saver until ctx ends, then saves what is already queued.
func (s *Snapshotter) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case snap := <-s.queue:
				s.save(ctx, snap)
			case <-ctx.Done():
				for {
					select {
					case snap := <-s.queue:
						s.save(context.Background(), snap)
					default:
						return
					}
				}
			}
		}
	}()
}

// Schedule submits a full SNAPSHOT command every interval until ctx ends.
func (s *Snapshotter) Schedule(ctx context.Context, p Submitter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				res, err := p.Execute(ctx, command.Snapshot{}, "snapshot-"+uuid.NewString())
				if err != nil {
					s.lg.WithError(err).Warn("periodic snapshot not admitted")
					continue
				}
				if res.Status == command.StatusFailed {
					s.lg.WithError(res.Err).WithField("command_id", res.CommandID).Error("snapshot capture failed")
				}
			}
		}
	}()
}

func (s *Snapshotter) Wait() {
	s.wg.Wait()
}

func (s *Snapshotter) save(ctx context.Context, snap *snapshot.Snapshot) {
	start := time.Now()
	entry := s.lg.WithFields(logger.Fields{"command_id": snap.CommandID, "symbol": snap.Symbol})

	if err := s.store.Save(ctx, snap); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("failed").Inc()
		entry.WithError(err).Error("snapshot save failed")
		return
	}
	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
	metrics.SnapshotDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())

	if snap.Full() {
		synced := true
		if s.outbox != nil {
			if err := s.outbox.Sync(); err != nil {
				synced = false
				entry.WithError(err).Warn("outbox sync failed, command log kept")
			}
		}
		if s.log != nil && synced {
			if n, err := s.log.TruncateBefore(snap.CommandID); err != nil {
				entry.WithError(err).Warn("command log truncation failed")
			} else if n > 0 {
				entry.WithField("segments", n).Debug("command log truncated")
			}
		}
		if s.outbox != nil {
			if _, err := s.outbox.TruncateAckedUpTo(snap.CommandID); err != nil {
				entry.WithError(err).Warn("outbox truncation failed")
			}
		}
	}
	if err := s.store.Prune(ctx, snap.Symbol, s.keep); err != nil {
		entry.WithError(err).Warn("snapshot prune failed")
	}

	entry.Info("snapshot saved")
	if s.saved != nil {
		s.saved <- snap.CommandID
	}
}
