package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

const (
	StatusSyncMaxAttempts = 5
	StatusSyncRetryDelay  = 5 * time.Second
	PollInterval          = 1 * time.Second
)

// StatusUpdater pushes an assessment status to the backend.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, assessmentID int, status model.AssessmentStatus) error
}

// StatusSyncWorker consumes status_sync_queue and retries the status updates
// that failed while an assessment was being completed.
type StatusSyncWorker struct {
	store   storage.Store
	backend StatusUpdater
	log     zerolog.Logger

	pollInterval time.Duration
	retryDelay   time.Duration
	maxAttempts  int
}

// NewStatusSyncWorker creates a new StatusSyncWorker.
func NewStatusSyncWorker(st storage.Store, backend StatusUpdater, log zerolog.Logger) *StatusSyncWorker {
	return &StatusSyncWorker{
		store:        st,
		backend:      backend,
		log:          log.With().Str("component", "status_sync_worker").Logger(),
		pollInterval: PollInterval,
		retryDelay:   StatusSyncRetryDelay,
		maxAttempts:  StatusSyncMaxAttempts,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *StatusSyncWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			if wait := w.processNext(ctx); wait > 0 {
				sleep(ctx, wait)
			}
		}
	}
}

// processNext handles one queued job and returns how long to wait before
// the next one.
func (w *StatusSyncWorker) processNext(ctx context.Context) time.Duration {
	raw, err := w.store.Pop(ctx, config.WorkerKey.StatusSyncQueue)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Queue pop error")
		}
		return w.pollInterval
	}

	var job model.StatusSyncJob
	if err := json.Unmarshal(raw, &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping job")
		return 0
	}

	if err := w.backend.UpdateStatus(ctx, job.AssessmentID, job.Status); err != nil {
		job.Attempts++
		if job.Attempts >= w.maxAttempts {
			w.log.Error().Err(err).
				Int("assessment_id", job.AssessmentID).
				Str("status", string(job.Status)).
				Int("attempts", job.Attempts).
				Msg("Status sync failed, giving up")
			return 0
		}
		w.log.Warn().Err(err).
			Int("assessment_id", job.AssessmentID).
			Int("attempts", job.Attempts).
			Msg("Status sync error, retrying later")
		w.requeue(ctx, job)
		return w.retryDelay
	}

	w.log.Info().
		Int("assessment_id", job.AssessmentID).
		Str("status", string(job.Status)).
		Msg("Status synced")
	return 0
}

func (w *StatusSyncWorker) requeue(ctx context.Context, job model.StatusSyncJob) {
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := w.store.Push(ctx, config.WorkerKey.StatusSyncQueue, raw); err != nil {
		w.log.Error().Err(err).Int("assessment_id", job.AssessmentID).Msg("Requeue error, job lost")
	}
}

// drain makes one last attempt at every queued job before shutdown. The
// first failure is put back and stops the drain.
func (w *StatusSyncWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.store.Pop(ctx, config.WorkerKey.StatusSyncQueue)
		if err != nil {
			break
		}

		var job model.StatusSyncJob
		if err := json.Unmarshal(raw, &job); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.backend.UpdateStatus(ctx, job.AssessmentID, job.Status); err != nil {
			w.log.Error().Err(err).Msg("Drain sync error")
			w.requeue(ctx, job)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
