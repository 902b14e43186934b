package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

type levelDBStore struct {
	db *leveldb.DB
}

// NewLevelDB opens an embedded store at path. The returned close func must
// be called before the process exits to flush pending writes.
func NewLevelDB(path string) (Store, func() error, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	store := &levelDBStore{db: db}
	return store, db.Close, nil
}

func (s *levelDBStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(value), true, nil
}

func (s *levelDBStore) SetItem(ctx context.Context, key string, value string) error {
	err := s.db.Put([]byte(key), []byte(value), nil)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *levelDBStore) DeleteItem(ctx context.Context, key string) error {
	err := s.db.Delete([]byte(key), nil)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
