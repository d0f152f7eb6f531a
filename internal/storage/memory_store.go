package storage

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store used in tests and development.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
	lists  map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		lists:  make(map[string][][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) Push(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], append([]byte(nil), value...))
	return nil
}

func (s *MemoryStore) Pop(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	head := list[0]
	if len(list) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list[1:]
	}
	return head, nil
}

func (s *MemoryStore) Close() error { return nil }
