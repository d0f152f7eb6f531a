package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type fileDocument struct {
	Values map[string][]byte   `json:"values"`
	Lists  map[string][][]byte `json:"lists"`
}

// FileStore persists the whole namespace as one JSON document. Every write
// rewrites the file through a temp file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  fileDocument
}

// NewFileStore loads path if it exists; a missing or empty file starts empty.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc: fileDocument{
			Values: make(map[string][]byte),
			Lists:  make(map[string][][]byte),
		},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file failed: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse state file failed: %w", err)
	}
	if s.doc.Values == nil {
		s.doc.Values = make(map[string][]byte)
	}
	if s.doc.Lists == nil {
		s.doc.Lists = make(map[string][][]byte)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.Values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Values[key] = append([]byte(nil), value...)
	return s.flush()
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, inValues := s.doc.Values[key]
	_, inLists := s.doc.Lists[key]
	if !inValues && !inLists {
		return nil
	}
	delete(s.doc.Values, key)
	delete(s.doc.Lists, key)
	return s.flush()
}

func (s *FileStore) Push(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Lists[key] = append(s.doc.Lists[key], append([]byte(nil), value...))
	return s.flush()
}

func (s *FileStore) Pop(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.doc.Lists[key]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	head := list[0]
	if len(list) == 1 {
		delete(s.doc.Lists, key)
	} else {
		s.doc.Lists[key] = list[1:]
	}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return head, nil
}

func (s *FileStore) Close() error { return nil }

// flush must be called with mu held.
func (s *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir failed: %w", err)
	}
	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("marshal state failed: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state failed: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state failed: %w", err)
	}
	return nil
}
