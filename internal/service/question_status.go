package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

// QuestionStatusStore keeps the per-problem working state of one assessment
// and mirrors every change to storage.
type QuestionStatusStore struct {
	mu              sync.RWMutex
	store           storage.Store
	key             string
	total           int
	defaultLanguage int
	statuses        map[int]model.QuestionStatus
	log             zerolog.Logger
}

// NewQuestionStatusStore loads the persisted mapping stored under key, or
// initializes indices [0,total) to the defaults when nothing is stored.
// Indices missing from a loaded mapping get the default entry.
func NewQuestionStatusStore(ctx context.Context, st storage.Store, key string, total, defaultLanguage int, log zerolog.Logger) *QuestionStatusStore {
	q := &QuestionStatusStore{
		store:           st,
		key:             key,
		total:           total,
		defaultLanguage: defaultLanguage,
		log:             log.With().Str("component", "question_status").Str("key", key).Logger(),
	}

	raw, err := st.Get(ctx, key)
	if err == nil {
		var loaded map[int]model.QuestionStatus
		jsonErr := json.Unmarshal(raw, &loaded)
		if jsonErr == nil && loaded != nil {
			q.statuses = loaded
			q.fillDefaultsLocked()
			return q
		}
		q.log.Warn().Err(jsonErr).Msg("Discarding unreadable question status")
	} else if !errors.Is(err, storage.ErrNotFound) {
		q.log.Warn().Err(err).Msg("Failed to load question status, starting fresh")
	}

	q.statuses = make(map[int]model.QuestionStatus, total)
	q.fillDefaultsLocked()
	q.persist(ctx, q.statuses)
	return q
}

// fillDefaultsLocked gives every index in [0,total) an entry.
func (q *QuestionStatusStore) fillDefaultsLocked() {
	for i := 0; i < q.total; i++ {
		if _, ok := q.statuses[i]; !ok {
			q.statuses[i] = q.defaultStatus()
		}
	}
}

func (q *QuestionStatusStore) defaultStatus() model.QuestionStatus {
	return model.QuestionStatus{
		Status:     model.AttemptNotAttempted,
		Code:       "",
		LanguageID: q.defaultLanguage,
	}
}

// Get returns the status at index, or the default for an untouched index.
func (q *QuestionStatusStore) Get(index int) model.QuestionStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if s, ok := q.statuses[index]; ok {
		return s
	}
	return q.defaultStatus()
}

// Update merges patch into the entry at index and writes the whole mapping.
// Storage failures are logged, the in-memory state is authoritative.
func (q *QuestionStatusStore) Update(ctx context.Context, index int, patch model.QuestionStatusPatch) model.QuestionStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.statuses[index]
	if !ok {
		current = q.defaultStatus()
	}
	next := patch.Apply(current)
	q.statuses[index] = next
	// Written under the lock so a stale snapshot never overwrites a newer one.
	q.persist(ctx, q.statuses)
	return next
}

// All returns a copy of the mapping.
func (q *QuestionStatusStore) All() map[int]model.QuestionStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.copyLocked()
}

// Clear puts every index back to the default and removes the stored
// mapping. The next Update persists the fresh state.
func (q *QuestionStatusStore) Clear(ctx context.Context) {
	q.mu.Lock()
	q.statuses = make(map[int]model.QuestionStatus, q.total)
	q.fillDefaultsLocked()
	q.mu.Unlock()

	if err := q.store.Delete(ctx, q.key); err != nil {
		q.log.Warn().Err(err).Msg("Failed to delete question status")
	}
}

func (q *QuestionStatusStore) copyLocked() map[int]model.QuestionStatus {
	out := make(map[int]model.QuestionStatus, len(q.statuses))
	for k, v := range q.statuses {
		out[k] = v
	}
	return out
}

func (q *QuestionStatusStore) persist(ctx context.Context, statuses map[int]model.QuestionStatus) {
	raw, err := json.Marshal(statuses)
	if err != nil {
		q.log.Error().Err(err).Msg("Failed to encode question status")
		return
	}
	if err := q.store.Set(ctx, q.key, raw); err != nil {
		q.log.Warn().Err(err).Msg("Failed to save question status")
	}
}
