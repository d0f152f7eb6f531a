package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stemsi/exstem-assess/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errStoreDown = errors.New("store down")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (brokenStore) Set(context.Context, string, []byte) error { return errStoreDown }
func (brokenStore) Delete(context.Context, string) error { return errStoreDown }
func (brokenStore) Push(context.Context, string, []byte) error { return errStoreDown }
func (brokenStore) Pop(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (brokenStore) Close() error { return nil }

var _ storage.Store = brokenStore{}
