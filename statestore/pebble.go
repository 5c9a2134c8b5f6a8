package statestore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

const prefixState = "/state/"

// PebbleStore keeps blobs in a local Pebble database
type PebbleStore struct {
	db     *pebble.DB
	closed atomic.Bool
}

// NewPebbleStore opens or creates the database at path
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Read(key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("state store is closed")
	}

	val, closer, err := s.db.Get([]byte(prefixState + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *PebbleStore) Write(key string, data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("state store is closed")
	}

	if err := s.db.Set([]byte(prefixState+key), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
