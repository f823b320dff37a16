package blob

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps files in memory.
type MemStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	// FailPut, when set, is returned by Put for matching names.
	FailPut func(ref Ref) error
}

func NewMemStore() *MemStore {
	return &MemStore{files: make(map[string][]byte)}
}

func (s *MemStore) Put(_ context.Context, ref Ref, data []byte, _ string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if s.FailPut != nil {
		if err := s.FailPut(ref); err != nil {
			return err
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.files[ref.Key()] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemStore) Delete(_ context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[ref.Key()]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}
	delete(s.files, ref.Key())
	return nil
}

// Keys lists stored object keys in sorted order.
func (s *MemStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
