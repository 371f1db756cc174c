// Package entry is the durable command log: an append-only, segmented,
// CRC-framed file log keyed by command id.
package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrOutOfOrder = errors.New("wal sequence out of order")
	// ErrFailed is returned by every append after a write or fsync failed.
	// The tail of the log is in doubt until the process restarts and rescans.
	ErrFailed = errors.New("wal failed")
)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// Fsync after every append.
	Sync bool
}

type WAL struct {
	mu sync.Mutex

	dir         string
	segSize     int64
	segDuration time.Duration
	sync        bool

	current    *segment
	segIndex   int
	lastRotate time.Time
	lastSeq    uint64
	truncated  uint64

	failed       error
	rotatePended bool

	syncFile    func(*os.File) error
	openSegment func(dir string, index int) (*segment, error)
}

const watermarkFile = "TRUNCATED"

// Open scans existing segments and starts a fresh one after them, so a torn
// tail in the previous segment is never appended to.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	lastSeq, err := Replay(cfg.Dir, func(*Record) error { return nil })
	if err != nil {
		return nil, fmt.Errorf("scan wal %s: %w", cfg.Dir, err)
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := 0
	if len(files) > 0 {
		last, err := segmentIndex(files[len(files)-1])
		if err != nil {
			return nil, err
		}
		next = last + 1
	}

	truncated, err := readWatermark(cfg.Dir)
	if err != nil {
		return nil, err
	}

	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:         cfg.Dir,
		segSize:     cfg.SegmentSize,
		segDuration: cfg.SegmentDuration,
		sync:        cfg.Sync,
		current:     seg,
		segIndex:    next,
		lastRotate:  time.Now(),
		lastSeq:     lastSeq,
		truncated:   truncated,
		syncFile:    (*os.File).Sync,
		openSegment: openSegment,
	}, nil
}

// Append writes r to the current segment. Once a write or fsync has failed
// the WAL refuses further appends with ErrFailed, since the failed frame may
// or may not be on disk. A failed rotation is retried on the next append.
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed != nil {
		return fmt.Errorf("%w: %v", ErrFailed, w.failed)
	}
	if r.Seq <= w.lastSeq {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, r.Seq, w.lastSeq)
	}
	if w.rotatePended {
		w.rotatePended = w.rotate() != nil
	}

	if err := w.current.append(encodeRecord(r)); err != nil {
		w.failed = err
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	if w.sync {
		if err := w.syncFile(w.current.file); err != nil {
			w.failed = err
			return fmt.Errorf("%w: %v", ErrFailed, err)
		}
	}
	w.lastSeq = r.Seq
	if r.Seq > w.current.maxSeq {
		w.current.maxSeq = r.Seq
	}

	if w.shouldRotate() {
		w.rotatePended = w.rotate() != nil
	}
	return nil
}

// Failed reports the error that made the WAL refuse appends, if any.
func (w *WAL) Failed() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

func (w *WAL) shouldRotate() bool {
	if w.segSize > 0 && w.current.offset >= w.segSize {
		return true
	}
	return w.segDuration > 0 && time.Since(w.lastRotate) >= w.segDuration
}

// rotate opens the next segment before closing the current one, so a failure
// leaves the current segment writable.
func (w *WAL) rotate() error {
	seg, err := w.openSegment(w.dir, w.segIndex+1)
	if err != nil {
		return err
	}
	_ = w.current.close()
	w.segIndex++
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// LastSeq is the highest sequence durably appended.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// ReadFrom calls fn for every record with Seq >= from, in order.
func (w *WAL) ReadFrom(from uint64, fn ReplayHandler) error {
	_, err := Replay(w.dir, func(r *Record) error {
		if r.Seq < from {
			return nil
		}
		return fn(r)
	})
	return err
}

// TruncateBefore removes closed segments whose records are all <= seq.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	through := w.truncated
	defer func() {
		if through > w.truncated && writeWatermark(w.dir, through) == nil {
			w.truncated = through
		}
	}()
	for _, path := range files {
		if path == w.current.path {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			return removed, err
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return removed, err
			}
			removed++
			through = max(through, maxSeq)
		}
	}
	return removed, nil
}

// TruncatedThrough is the highest sequence that may have been removed by
// TruncateBefore. Replay starting at or below it would miss records.
func (w *WAL) TruncatedThrough() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}

func readWatermark(dir string) (uint64, error) {
	b, err := os.ReadFile(filepath.Join(dir, watermarkFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: watermark length %d", ErrCorrupt, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func writeWatermark(dir string, seq uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	tmp := filepath.Join(dir, watermarkFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, watermarkFile))
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.current.file.Sync(); err != nil {
		return err
	}
	return w.current.close()
}
