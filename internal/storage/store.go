// Package storage is the key/value mirror of the candidate's in-memory
// session state: question status, countdown, proctoring counters and the
// background status-sync queue.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/database"
)

// ErrNotFound is returned when a key or queue holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a flat key/value namespace with FIFO lists for queues.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Push appends value to the tail of the list at key.
	Push(ctx context.Context, key string, value []byte) error
	// Pop removes and returns the head of the list at key.
	Pop(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Open builds the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rdb), nil
	case config.StoreDriverFile:
		st, err := NewFileStore(cfg.StateFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.StateFile).Msg("File store opened")
		return st, nil
	case config.StoreDriverMemory:
		log.Warn().Msg("Memory store selected, state will not survive restarts")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
