package state

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// MemoryStore is a map-backed Store used by backtests and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	saves   int
	failErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	rec.Body = append([]byte(nil), rec.Body...)
	s.records[rec.Key] = rec
	s.saves++
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, errors.Wrapf(exception.ErrCheckpointNotFound, "key %s", key)
	}
	if err := rec.Verify(); err != nil {
		return Record{}, err
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	delete(s.records, key)
	return nil
}

// Saves counts successful writes.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// FailWith makes every following write return err until called with nil.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// Put stores rec without validation, for seeding corrupt records in tests.
func (s *MemoryStore) Put(rec Record) {
	s.mu.Lock()
	s.records[rec.Key] = rec
	s.mu.Unlock()
}
