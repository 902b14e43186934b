// Package session owns the bearer credential and the session-expiry
// signal. Token issuance is the backend's business, the layer only stores
// the opaque string and reports when the server stops accepting it.
package session

import (
	"context"
	"fmt"

	"github.com/haakenstad/ledgerlight/internal/kvstore"
)

const tokenKey = "auth:token"

type TokenStore struct {
	kv kvstore.Store
}

func NewTokenStore(kv kvstore.Store) *TokenStore {
	return &TokenStore{kv: kv}
}

// Get returns the stored credential, or "" when none is stored. Absence is
// not an error, it just means anonymous access.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	token, ok, err := s.kv.GetItem(ctx, tokenKey)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (s *TokenStore) Set(ctx context.Context, token string) error {
	if err := s.kv.SetItem(ctx, tokenKey, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.kv.DeleteItem(ctx, tokenKey); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}
