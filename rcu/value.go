// Package rcu publishes values written by one goroutine to any number of
// lock-free readers. Readers always see a complete copy; they may see an
// older one.
package rcu

import "sync/atomic"

type Value[T any] struct {
	ptr   atomic.Pointer[T]
	epoch atomic.Uint64
}

// Publish replaces the current copy and advances the epoch.
func (v *Value[T]) Publish(x T) {
	v.ptr.Store(&x)
	v.epoch.Add(1)
}

// Load returns the latest published copy, or the zero value before the
// first Publish.
func (v *Value[T]) Load() T {
	if p := v.ptr.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Epoch counts publications.
func (v *Value[T]) Epoch() uint64 {
	return v.epoch.Load()
}
