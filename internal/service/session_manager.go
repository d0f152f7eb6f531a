package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/storage"
)

// DefaultSessionIdleTimeout is how long an unused session stays cached.
const DefaultSessionIdleTimeout = 30 * time.Minute

type managedSession struct {
	session  *Session
	lastSeen time.Time
}

// SessionManager caches one Session per candidate link id. Sessions nobody
// has opened or watched for a while are evicted by Sweep; their state stays
// in storage and the next Open resumes it.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession

	judge   Judge
	backend Backend
	store   storage.Store
	opts    Options
	now     func() time.Time
	log     zerolog.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(judge Judge, backend Backend, st storage.Store, opts Options, log zerolog.Logger) *SessionManager {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		sessions: make(map[string]*managedSession),
		judge:    judge,
		backend:  backend,
		store:    st,
		opts:     opts,
		now:      now,
		log:      log,
	}
}

// Open returns the session of linkID, fetching the assessment the first
// time the link is seen. Fetch errors are returned unchanged.
func (m *SessionManager) Open(ctx context.Context, linkID string) (*Session, error) {
	if s := m.lookup(linkID); s != nil {
		return s, nil
	}

	a, err := m.backend.GetAssessment(ctx, linkID)
	if err != nil {
		return nil, err
	}
	// Built without m.mu: resuming may complete the assessment, which
	// calls the backend.
	s := NewSession(ctx, a, m.judge, m.backend, m.store, m.opts, m.log)

	m.mu.Lock()
	// Another request may have opened the link while we were fetching.
	if existing, ok := m.sessions[linkID]; ok {
		existing.lastSeen = m.now()
		m.mu.Unlock()
		s.Close()
		return existing.session, nil
	}
	m.sessions[linkID] = &managedSession{session: s, lastSeen: m.now()}
	m.mu.Unlock()

	m.log.Info().Str("link_id", linkID).Int("assessment_id", a.ID).Str("status", string(s.Status())).Msg("Session opened")
	return s, nil
}

func (m *SessionManager) lookup(linkID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[linkID]
	if !ok {
		return nil
	}
	entry.lastSeen = m.now()
	return entry.session
}

// Len is the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes and forgets sessions that have not been opened for idle and
// have no live subscribers. It returns how many were evicted.
func (m *SessionManager) Sweep(idle time.Duration) int {
	now := m.now()
	var evicted []*Session

	m.mu.Lock()
	for linkID, entry := range m.sessions {
		if now.Sub(entry.lastSeen) < idle || entry.session.subscriberCount() > 0 {
			continue
		}
		delete(m.sessions, linkID)
		evicted = append(evicted, entry.session)
		m.log.Debug().Str("link_id", linkID).Msg("Session evicted")
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	return len(evicted)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (m *SessionManager) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	if idle <= 0 {
		idle = DefaultSessionIdleTimeout
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(idle); n > 0 {
				m.log.Info().Int("evicted", n).Int("open", m.Len()).Msg("Idle sessions evicted")
			}
		}
	}
}

// Close closes every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, entry := range sessions {
		entry.session.Close()
	}
}
