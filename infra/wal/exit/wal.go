// Package exit is the egress outbox: events ready to publish, keyed by
// command id, with the acknowledgment offset the publisher advances.
package exit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type Entry struct {
	CommandID   uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// value: [state:1][retries:4][lastAttempt:8][payload]
const metaSize = 1 + 4 + 8

func encodeEntry(e Entry) []byte {
	buf := make([]byte, metaSize+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[metaSize:], e.Payload)
	return buf
}

func decodeEntry(id uint64, b []byte) (Entry, error) {
	if len(b) < metaSize {
		return Entry{}, errors.New("invalid outbox entry length")
	}
	payload := make([]byte, len(b)-metaSize)
	copy(payload, b[metaSize:])
	return Entry{
		CommandID:   id,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

const (
	eventPrefix = "event/"
	eventUpper  = "event/~"
	ackKey      = "meta/acked"
)

func keyFor(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", eventPrefix, id))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b[len(eventPrefix):]), 10, 64)
}

type Outbox struct {
	db *pebble.DB

	// guards the ack offset read-modify-write
	mu    sync.Mutex
	acked uint64
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	o := &Outbox{db: db}

	val, closer, err := db.Get([]byte(ackKey))
	switch {
	case err == nil:
		o.acked = binary.BigEndian.Uint64(val)
		_ = closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Stage records the egress payload of a command. Ids already acknowledged or
// already staged are skipped, which keeps replay from publishing twice. The
// write is not fsynced: anything lost in a crash is staged again by replay,
// as long as Sync ran before the command log behind it was truncated.
func (o *Outbox) Stage(id uint64, payload []byte) (bool, error) {
	if id <= o.AckedOffset() {
		return false, nil
	}
	key := keyFor(id)
	_, closer, err := o.db.Get(key)
	if err == nil {
		_ = closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, err
	}
	return true, o.db.Set(key, encodeEntry(Entry{State: StateNew, Payload: payload}), pebble.NoSync)
}

// Sync forces every staged entry to disk.
func (o *Outbox) Sync() error {
	return o.db.LogData(nil, pebble.Sync)
}

func (o *Outbox) Get(id uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(id))
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()
	return decodeEntry(id, val)
}

func (o *Outbox) setState(id uint64, state State, retries uint32) error {
	e, err := o.Get(id)
	if err != nil {
		return err
	}
	e.State = state
	e.Retries = retries
	e.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(id), encodeEntry(e), pebble.Sync)
}

func (o *Outbox) MarkSent(id uint64) error {
	e, err := o.Get(id)
	if err != nil {
		return err
	}
	return o.setState(id, StateSent, e.Retries)
}

func (o *Outbox) MarkFailed(id uint64) error {
	e, err := o.Get(id)
	if err != nil {
		return err
	}
	return o.setState(id, StateFailed, e.Retries+1)
}

// Ack marks id delivered and moves the ack offset up to it.
func (o *Outbox) Ack(id uint64) error {
	e, err := o.Get(id)
	if err != nil {
		return err
	}
	if err := o.setState(id, StateAcked, e.Retries); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if id <= o.acked {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	if err := o.db.Set([]byte(ackKey), buf, pebble.Sync); err != nil {
		return err
	}
	o.acked = id
	return nil
}

// AckedOffset is the highest command id durably forwarded.
func (o *Outbox) AckedOffset() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acked
}

// Pending calls fn for up to limit unacknowledged entries in command id
// order. A limit <= 0 means no limit. Returning an error from fn stops the
// scan and is returned.
func (o *Outbox) Pending(limit int, fn func(Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(eventPrefix),
		UpperBound: []byte(eventUpper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && n >= limit {
			break
		}
		id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeEntry(id, iter.Value())
		if err != nil {
			return err
		}
		if e.State == StateAcked {
			continue
		}
		n++
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// PendingCount counts unacknowledged entries.
func (o *Outbox) PendingCount() (int, error) {
	n := 0
	err := o.Pending(0, func(Entry) error {
		n++
		return nil
	})
	return n, err
}

// TruncateAckedUpTo deletes acknowledged entries with id <= upTo.
func (o *Outbox) TruncateAckedUpTo(upTo uint64) (int, error) {
	if acked := o.AckedOffset(); upTo > acked {
		upTo = acked
	}
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(eventPrefix),
		UpperBound: keyFor(upTo + 1),
	})
	if err != nil {
		return 0, err
	}

	batch := o.db.NewBatch()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if State(iter.Value()[0]) != StateAcked {
			continue
		}
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			_ = iter.Close()
			_ = batch.Close()
			return 0, err
		}
		n++
	}
	if err := iter.Close(); err != nil {
		_ = batch.Close()
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return n, nil
}
