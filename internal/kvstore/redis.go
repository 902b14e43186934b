package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
}

// NewRedis returns a Store backed by a shared redis instance, for
// deployments where multiple clients share one session cache.
func NewRedis(addr string) Store {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &redisStore{client: client}
}

func (s *redisStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *redisStore) SetItem(ctx context.Context, key string, value string) error {
	err := s.client.Set(ctx, key, value, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) DeleteItem(ctx context.Context, key string) error {
	err := s.client.Del(ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
