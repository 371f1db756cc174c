package snapshot

import (
	"context"
	"errors"
	"fmt"
)

// Backend is a byte store addressed by slash-separated keys. List returns
// keys under prefix in ascending order; Get returns ErrNotFound for a
// missing key.
type Backend interface {
	Put(ctx context.Context, key string, b []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	fullPrefix   = "full/"
	symbolPrefix = "symbol/"
)

// Store keys snapshots by scope and command id on top of any Backend.
type Store struct {
	backend Backend
}

func NewStore(b Backend) *Store {
	return &Store{backend: b}
}

func scopePrefix(symbol string) string {
	if symbol == "" {
		return fullPrefix
	}
	return symbolPrefix + symbol + "/"
}

func keyFor(s *Snapshot) string {
	return fmt.Sprintf("%s%020d", scopePrefix(s.Symbol), s.CommandID)
}

func (st *Store) Save(ctx context.Context, s *Snapshot) error {
	b, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", s.CommandID, err)
	}
	if err := st.backend.Put(ctx, keyFor(s), b); err != nil {
		return fmt.Errorf("save snapshot %d: %w", s.CommandID, err)
	}
	return nil
}

// LoadLatest returns the newest full snapshot that decodes cleanly. Corrupt
// newer entries are skipped and reported through the returned error only
// when nothing older is usable.
func (st *Store) LoadLatest(ctx context.Context) (*Snapshot, error) {
	return st.latest(ctx, fullPrefix)
}

// LoadBySymbol returns the newest symbol-scoped snapshot, falling back to
// the symbol's slice of the newest full snapshot.
func (st *Store) LoadBySymbol(ctx context.Context, symbol string) (*Snapshot, error) {
	scoped, err := st.latest(ctx, scopePrefix(symbol))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	full, ferr := st.latest(ctx, fullPrefix)
	if ferr != nil && !errors.Is(ferr, ErrNotFound) {
		return nil, ferr
	}

	switch {
	case scoped == nil && full == nil:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	case full == nil || (scoped != nil && scoped.CommandID >= full.CommandID):
		return scoped, nil
	default:
		return full.Filter(symbol), nil
	}
}

func (st *Store) latest(ctx context.Context, prefix string) (*Snapshot, error) {
	keys, err := st.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for i := len(keys) - 1; i >= 0; i-- {
		b, err := st.backend.Get(ctx, keys[i])
		if err == nil {
			var s *Snapshot
			if s, err = Decode(b); err == nil {
				return s, nil
			}
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", keys[i], err)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNotFound
}

// Prune keeps the newest keep snapshots of each scope.
func (st *Store) Prune(ctx context.Context, symbol string, keep int) error {
	keys, err := st.backend.List(ctx, scopePrefix(symbol))
	if err != nil {
		return err
	}
	for len(keys) > keep {
		if err := st.backend.Delete(ctx, keys[0]); err != nil {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

func (st *Store) Close() error {
	return st.backend.Close()
}
