package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

type flakyBackend struct {
	mu       sync.Mutex
	failures int
	calls    []int
}

func (b *flakyBackend) UpdateStatus(_ context.Context, id int, _ model.AssessmentStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, id)
	if b.failures > 0 {
		b.failures--
		return errors.New("backend down")
	}
	return nil
}

func (b *flakyBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func newRedisStore(t *testing.T) storage.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return storage.NewRedisStore(rdb)
}

func enqueue(t *testing.T, st storage.Store, job model.StatusSyncJob) {
	t.Helper()
	raw, _ := json.Marshal(job)
	if err := st.Push(context.Background(), config.WorkerKey.StatusSyncQueue, raw); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func queued(t *testing.T, st storage.Store) []model.StatusSyncJob {
	t.Helper()
	var jobs []model.StatusSyncJob
	for {
		raw, err := st.Pop(context.Background(), config.WorkerKey.StatusSyncQueue)
		if errors.Is(err, storage.ErrNotFound) {
			return jobs
		}
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		var job model.StatusSyncJob
		_ = json.Unmarshal(raw, &job)
		jobs = append(jobs, job)
	}
}

func TestStatusSyncRetriesThenSucceeds(t *testing.T) {
	st := newRedisStore(t)
	backend := &flakyBackend{failures: 1}
	w := NewStatusSyncWorker(st, backend, zerolog.Nop())
	ctx := context.Background()
	enqueue(t, st, model.StatusSyncJob{AssessmentID: 7, Status: model.AssessmentStatusCompleted})

	if wait := w.processNext(ctx); wait != StatusSyncRetryDelay {
		t.Fatalf("expected retry delay, got %v", wait)
	}
	if wait := w.processNext(ctx); wait != 0 {
		t.Fatalf("expected no wait after success, got %v", wait)
	}
	if backend.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", backend.callCount())
	}
	if jobs := queued(t, st); len(jobs) != 0 {
		t.Fatalf("queue should be empty, got %+v", jobs)
	}
}

func TestStatusSyncGivesUpAfterMaxAttempts(t *testing.T) {
	st := storage.NewMemoryStore()
	backend := &flakyBackend{failures: 100}
	w := NewStatusSyncWorker(st, backend, zerolog.Nop())
	ctx := context.Background()
	enqueue(t, st, model.StatusSyncJob{AssessmentID: 7, Status: model.AssessmentStatusCompleted})

	for i := 0; i < StatusSyncMaxAttempts+2; i++ {
		w.processNext(ctx)
	}
	if backend.callCount() != StatusSyncMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", StatusSyncMaxAttempts, backend.callCount())
	}
}

func TestStatusSyncEmptyQueueWaits(t *testing.T) {
	w := NewStatusSyncWorker(storage.NewMemoryStore(), &flakyBackend{}, zerolog.Nop())
	if wait := w.processNext(context.Background()); wait != PollInterval {
		t.Fatalf("expected poll interval, got %v", wait)
	}
}

func TestStatusSyncDrainsOnShutdown(t *testing.T) {
	st := newRedisStore(t)
	backend := &flakyBackend{}
	w := NewStatusSyncWorker(st, backend, zerolog.Nop())
	w.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, id := range []int{1, 2, 3} {
		enqueue(t, st, model.StatusSyncJob{AssessmentID: id, Status: model.AssessmentStatusCompleted})
	}

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}

	if backend.callCount() != 3 {
		t.Fatalf("expected all jobs drained, got %d calls", backend.callCount())
	}
}

func TestStatusSyncDrainStopsAtFirstFailure(t *testing.T) {
	st := storage.NewMemoryStore()
	backend := &flakyBackend{failures: 1}
	w := NewStatusSyncWorker(st, backend, zerolog.Nop())
	enqueue(t, st, model.StatusSyncJob{AssessmentID: 1, Status: model.AssessmentStatusCompleted})
	enqueue(t, st, model.StatusSyncJob{AssessmentID: 2, Status: model.AssessmentStatusCompleted})

	w.drain(context.Background())

	jobs := queued(t, st)
	if len(jobs) != 2 || jobs[0].AssessmentID != 2 || jobs[1].AssessmentID != 1 {
		t.Fatalf("expected failed job requeued behind the rest, got %+v", jobs)
	}
}
