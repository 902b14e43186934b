// Package apicache persists GET responses in the durable key-value store,
// stamped with their fetch time so callers can tell fresh data from stale.
package apicache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/haakenstad/ledgerlight/internal/kvstore"
	"github.com/haakenstad/ledgerlight/internal/logging"
)

const keyPrefix = "cache:"

type Entry struct {
	Timestamp time.Time
	Data      json.RawMessage
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

type Store struct {
	kv      kvstore.Store
	nowFunc func() time.Time

	metrics storeMetricsCollection
}

func NewStore(kv kvstore.Store, nowFunc func() time.Time) (*Store, error) {
	meter := otel.Meter("apicache/store")
	metrics, err := setupStoreMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Store{
		kv:      kv,
		nowFunc: nowFunc,

		metrics: metrics,
	}, nil
}

// wrapper is the stored form. Entries written before timestamps were
// introduced are bare payloads, they decode as timestamp 0 so they are
// never preferred over a live fetch but still serve as an offline fallback.
type wrapper struct {
	TimestampMs *int64          `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

// Read returns the cached entry for path, or false on a miss. Undecodable
// values count as misses, Read never fails the calling request.
func (s *Store) Read(ctx context.Context, path string) (Entry, bool) {
	raw, ok, err := s.kv.GetItem(ctx, keyPrefix+path)
	if err != nil {
		logging.FromContext(ctx).Error("failed to read cache entry", "path", path, "error", err.Error())
		s.metrics.readCount.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return Entry{}, false
	}
	if !ok {
		s.metrics.readCount.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "miss")))
		return Entry{}, false
	}

	if !json.Valid([]byte(raw)) {
		logging.FromContext(ctx).Warn("dropping undecodable cache entry", "path", path)
		s.metrics.readCount.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "undecodable")))
		return Entry{}, false
	}

	var w wrapper
	if err := json.Unmarshal([]byte(raw), &w); err == nil && w.TimestampMs != nil && w.Data != nil {
		s.metrics.readCount.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "hit")))
		return Entry{
			Timestamp: time.UnixMilli(*w.TimestampMs),
			Data:      w.Data,
		}, true
	}

	// Bare payload written by an older layer version, maximally stale
	s.metrics.readCount.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "legacy")))
	return Entry{
		Timestamp: time.UnixMilli(0),
		Data:      json.RawMessage(raw),
	}, true
}

// Write stores data for path stamped with the current time.
func (s *Store) Write(ctx context.Context, path string, data json.RawMessage) error {
	w := wrapper{
		TimestampMs: int64Ptr(s.nowFunc().UnixMilli()),
		Data:        data,
	}
	encoded, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := s.kv.SetItem(ctx, keyPrefix+path, string(encoded)); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

type storeMetricsCollection struct {
	readCount metric.Int64Counter
}

func setupStoreMetrics(meter metric.Meter) (storeMetricsCollection, error) {
	readCount, err := meter.Int64Counter(
		"apicache/read_count",
		metric.WithDescription("Cache reads by result"),
	)
	if err != nil {
		return storeMetricsCollection{}, fmt.Errorf("failed to create metric: %w", err)
	}

	return storeMetricsCollection{
		readCount: readCount,
	}, nil
}
