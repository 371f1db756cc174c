package snapshot

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
)

type PebbleBackend struct {
	db *pebble.DB
}

func OpenPebbleBackend(dir string) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) Put(_ context.Context, key string, b []byte) error {
	return p.db.Set([]byte(key), b, pebble.Sync)
}

func (p *PebbleBackend) Get(_ context.Context, key string) ([]byte, error) {
	val, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (p *PebbleBackend) List(_ context.Context, prefix string) ([]string, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: append([]byte(prefix), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	return keys, iter.Error()
}

func (p *PebbleBackend) Delete(_ context.Context, key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *PebbleBackend) Close() error {
	return p.db.Close()
}
