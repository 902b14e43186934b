// Package kvstore provides the durable key-value string store the access
// layer keeps its response cache and session credential in. The store is
// only ever a cache of server state, never the source of truth.
package kvstore

import "context"

type Store interface {
	// GetItem returns the stored value and whether the key existed.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key string, value string) error
	DeleteItem(ctx context.Context, key string) error
}
