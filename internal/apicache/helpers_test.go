package apicache_test

import (
	"context"
	"errors"
)

type failingKV struct{}

func (f *failingKV) GetItem(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("storage unavailable")
}

func (f *failingKV) SetItem(ctx context.Context, key string, value string) error {
	return errors.New("storage unavailable")
}

func (f *failingKV) DeleteItem(ctx context.Context, key string) error {
	return errors.New("storage unavailable")
}
