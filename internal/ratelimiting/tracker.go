// Package ratelimiting tracks server-imposed cooldowns and optional
// client-side dispatch throttling for the access layer.
package ratelimiting

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/haakenstad/ledgerlight/internal/logging"
)

// Tracker remembers, per resource path, until when the server has asked us
// to back off. A later throttle response overwrites any active cooldown,
// the server is authoritative about its own recovery time.
type Tracker struct {
	cooldowns *ttlcache.Cache[string, time.Time]
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	metrics trackerMetricsCollection
}

func NewTracker(
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) (*Tracker, func(), error) {
	meter := otel.Meter("ratelimiting/tracker")
	metrics, err := setupTrackerMetrics(meter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	cooldowns := ttlcache.New[string, time.Time](
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go cooldowns.Start()

	return &Tracker{
		cooldowns: cooldowns,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,

		metrics: metrics,
	}, cooldowns.Stop, nil
}

// RecordThrottle starts a cooldown for key ending retryAfter from now.
// Last write wins.
func (t *Tracker) RecordThrottle(ctx context.Context, key string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}

	until := t.nowFunc().Add(retryAfter)
	// The entry's TTL doubles as its lazy removal
	t.cooldowns.Set(key, until, retryAfter)

	t.metrics.throttleCount.Add(ctx, 1)
	logging.FromContext(ctx).Info("recorded throttle cooldown", "key", key, "retryAfter", retryAfter.String())
}

// Wait suspends the caller until any active cooldown for key has elapsed.
// It is a no-op when no cooldown is active. A throttle recorded while
// waiting extends the suspension, the entry is only cleared once the
// latest cooldown has actually passed.
func (t *Tracker) Wait(ctx context.Context, key string) error {
	for {
		item := t.cooldowns.Get(key)
		if item == nil {
			return nil
		}

		wait := item.Value().Sub(t.nowFunc())
		if wait <= 0 {
			t.cooldowns.Delete(key)
			return nil
		}

		logging.FromContext(ctx).Info("waiting out cooldown before dispatch", "key", key, "wait", wait.String())
		t.metrics.waitCount.Add(ctx, 1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.afterFunc(wait):
		}
	}
}

type trackerMetricsCollection struct {
	throttleCount metric.Int64Counter
	waitCount     metric.Int64Counter
}

func setupTrackerMetrics(meter metric.Meter) (trackerMetricsCollection, error) {
	throttleCount, err := meter.Int64Counter(
		"ratelimiting/throttle_count",
		metric.WithDescription("Throttle responses recorded"),
	)
	if err != nil {
		return trackerMetricsCollection{}, fmt.Errorf("failed to create metric: %w", err)
	}

	waitCount, err := meter.Int64Counter(
		"ratelimiting/wait_count",
		metric.WithDescription("Dispatches that waited out a cooldown"),
	)
	if err != nil {
		return trackerMetricsCollection{}, fmt.Errorf("failed to create metric: %w", err)
	}

	return trackerMetricsCollection{
		throttleCount: throttleCount,
		waitCount:     waitCount,
	}, nil
}
