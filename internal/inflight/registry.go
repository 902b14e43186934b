// Package inflight collapses concurrent identical reads into a single live
// dispatch whose outcome every caller shares. This bounds request
// amplification when the UI re-renders and re-requests the same resource.
package inflight

import (
	"context"
	"sync"
)

type call[T any] struct {
	done  chan struct{}
	value T
	err   error
}

type Registry[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		calls: make(map[string]*call[T]),
	}
}

// Do runs fn for key, unless a call for key is already in flight, in which
// case it waits for that call and returns its result. The second return
// value reports whether the result was shared from another caller's
// dispatch. The registry entry is removed when the dispatch settles,
// success or failure alike.
func (r *Registry[T]) Do(ctx context.Context, key string, fn func() (T, error)) (T, bool, error) {
	r.mu.Lock()
	if existing, ok := r.calls[key]; ok {
		r.mu.Unlock()

		select {
		case <-existing.done:
			return existing.value, true, existing.err
		case <-ctx.Done():
			var empty T
			return empty, true, ctx.Err()
		}
	}

	c := &call[T]{done: make(chan struct{})}
	r.calls[key] = c
	r.mu.Unlock()

	c.value, c.err = fn()

	r.mu.Lock()
	delete(r.calls, key)
	r.mu.Unlock()
	close(c.done)

	return c.value, false, c.err
}
