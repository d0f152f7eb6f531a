package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/metrics"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

// DefaultViolationLimit is the number of warnings a candidate gets; the next
// violation ends the assessment.
const DefaultViolationLimit = 5

// FullscreenInstruction is shown when the candidate dismisses a warning.
const FullscreenInstruction = "Return to fullscreen mode to continue the assessment."

// Proctor counts focus, fullscreen and shortcut violations for one
// assessment and escalates once the limit is exceeded.
type Proctor struct {
	mu         sync.Mutex
	store      storage.Store
	countKey   string
	logKey     string
	limit      int
	count      int
	terminated bool
	onEscalate func()
	now        func() time.Time
	log        zerolog.Logger
}

// NewProctor restores the persisted violation count of the assessment.
func NewProctor(ctx context.Context, st storage.Store, assessmentID, limit int, now func() time.Time, log zerolog.Logger) *Proctor {
	if limit <= 0 {
		limit = DefaultViolationLimit
	}
	if now == nil {
		now = time.Now
	}
	p := &Proctor{
		store:    st,
		countKey: config.CacheKey.ViolationCountKey(assessmentID),
		logKey:   config.CacheKey.ViolationLogKey(assessmentID),
		limit:    limit,
		now:      now,
		log:      log.With().Str("component", "proctor").Int("assessment_id", assessmentID).Logger(),
	}

	raw, err := st.Get(ctx, p.countKey)
	switch {
	case err == nil:
		if n, convErr := strconv.Atoi(string(raw)); convErr == nil && n > 0 {
			p.count = n
		}
	case !errors.Is(err, storage.ErrNotFound):
		p.log.Warn().Err(err).Msg("Failed to load violation count")
	}
	p.terminated = p.count > p.limit
	return p
}

// OnEscalate registers the callback invoked when the limit is exceeded.
func (p *Proctor) OnEscalate(fn func()) {
	p.mu.Lock()
	p.onEscalate = fn
	p.mu.Unlock()
}

// Record counts one violation. The first violation past the limit escalates;
// later ones are still counted but neither warn nor escalate again.
func (p *Proctor) Record(ctx context.Context, kind model.ViolationKind, key string) model.Verdict {
	p.mu.Lock()
	p.count++
	v := model.Verdict{Count: p.count, Limit: p.limit}

	var escalate func()
	switch {
	case p.terminated:
	case p.count > p.limit:
		p.terminated = true
		v.Terminated = true
		escalate = p.onEscalate
	default:
		v.Warn = true
	}
	entry := model.Violation{Kind: kind, Key: key, Count: p.count, At: p.now().UTC()}
	count := p.count
	p.mu.Unlock()

	metrics.ViolationsTotal.WithLabelValues(string(kind)).Inc()
	p.persist(ctx, count, entry)

	evt := p.log.Warn().Str("kind", string(kind)).Int("count", count).Int("limit", p.limit)
	if key != "" {
		evt = evt.Str("key", key)
	}
	evt.Bool("terminated", v.Terminated).Msg("Proctoring violation")

	if escalate != nil {
		escalate()
	}
	return v
}

// HandleKey records a blocked_key violation when combo is a blocked
// shortcut. The UI suppresses the key whenever Blocked is true.
func (p *Proctor) HandleKey(ctx context.Context, combo model.KeyCombo) model.KeyVerdict {
	if !IsBlockedKey(combo) {
		return model.KeyVerdict{}
	}
	v := p.Record(ctx, model.ViolationBlockedKey, describeCombo(combo))
	return model.KeyVerdict{Blocked: true, Verdict: &v}
}

// DismissWarning closes the warning overlay; the candidate must re-enter
// fullscreen.
func (p *Proctor) DismissWarning() string {
	return FullscreenInstruction
}

func (p *Proctor) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Proctor) Limit() int { return p.limit }

// Terminated reports whether the count is already past the limit.
func (p *Proctor) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Reset clears the counter and the audit trail.
func (p *Proctor) Reset(ctx context.Context) {
	p.mu.Lock()
	p.count = 0
	p.terminated = false
	p.mu.Unlock()

	for _, key := range []string{p.countKey, p.logKey} {
		if err := p.store.Delete(ctx, key); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("Failed to clear proctoring state")
		}
	}
}

func (p *Proctor) persist(ctx context.Context, count int, entry model.Violation) {
	if err := p.store.Set(ctx, p.countKey, []byte(strconv.Itoa(count))); err != nil {
		p.log.Warn().Err(err).Msg("Failed to save violation count")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := p.store.Push(ctx, p.logKey, raw); err != nil {
		p.log.Warn().Err(err).Msg("Failed to append violation log")
	}
}

// IsBlockedKey reports whether combo is a browser shortcut that could leave
// the assessment or open developer tools. Meta counts as Ctrl.
func IsBlockedKey(combo model.KeyCombo) bool {
	key := strings.ToLower(combo.Key)
	if key == "f12" {
		return true
	}
	if !combo.Ctrl && !combo.Meta {
		return false
	}
	if key == "tab" {
		return true
	}
	if combo.Shift {
		switch key {
		case "t", "i", "j", "c":
			return true
		}
		return false
	}
	switch key {
	case "t", "n", "w", "r", "u":
		return true
	}
	return false
}

func describeCombo(combo model.KeyCombo) string {
	var parts []string
	if combo.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if combo.Meta {
		parts = append(parts, "Meta")
	}
	if combo.Shift {
		parts = append(parts, "Shift")
	}
	key := combo.Key
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	return strings.Join(append(parts, key), "+")
}
