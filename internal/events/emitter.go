// Package events broadcasts observability events the UI can surface as
// banners, e.g. "offline, showing cached data". Emission never blocks or
// fails the request that triggered it.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/haakenstad/ledgerlight/internal/logging"
)

type Kind string

const (
	// A live dispatch failed at the transport and the cached value was
	// returned instead.
	OfflineCacheSubstituted Kind = "offline-cache-substituted"
	// The server throttled us and the cached value was returned instead.
	RateLimitCacheSubstituted Kind = "rate-limit-cache-substituted"
)

type Event struct {
	Kind Kind
	Path string
	// Timestamp is when the substituted cache entry was originally
	// fetched, so consumers can show how stale the data is.
	Timestamp time.Time
}

type subscription struct {
	handler func(Event)
}

type Emitter struct {
	mu          sync.Mutex
	subscribers []*subscription
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers handler for all future events and returns an
// idempotent unsubscribe func. Handlers run on the emitting goroutine and
// should return quickly.
func (e *Emitter) Subscribe(handler func(Event)) func() {
	sub := &subscription{handler: handler}

	e.mu.Lock()
	e.subscribers = append(e.subscribers, sub)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subscribers {
			if s == sub {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (e *Emitter) Emit(ctx context.Context, event Event) {
	e.mu.Lock()
	subscribers := make([]*subscription, len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.mu.Unlock()

	logging.FromContext(ctx).Info("emitting event", "kind", string(event.Kind), "path", event.Path)

	for _, sub := range subscribers {
		sub.handler(event)
	}
}
