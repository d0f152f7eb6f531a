package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/metrics"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

// DefaultDurationSeconds is used when the contest carries no duration.
const DefaultDurationSeconds = 3600

const subscriberBuffer = 32

// Judge runs code against a problem's sample test.
type Judge interface {
	Run(ctx context.Context, req model.RunRequest) (*model.RunResult, error)
	Languages(ctx context.Context) []model.Language
}

// Backend is the assessment collaborator.
type Backend interface {
	GetAssessment(ctx context.Context, linkID string) (*model.Assessment, error)
	UpdateStatus(ctx context.Context, assessmentID int, status model.AssessmentStatus) error
	SubmitSolution(ctx context.Context, req model.SubmissionRequest) (*model.SubmissionResult, error)
}

// Options tune every session created by a manager.
type Options struct {
	DefaultLanguageID int
	DefaultDuration   time.Duration
	ViolationLimit    int
	// Clock overrides time.Now for the countdown and the violation log.
	Clock func() time.Time
	// ManualTick leaves countdown ticking to the caller instead of a
	// background goroutine.
	ManualTick bool
}

type resource struct {
	closer io.Closer
	once   sync.Once
}

func (r *resource) close() error {
	var err error
	r.once.Do(func() { err = r.closer.Close() })
	return err
}

// Session owns everything a single candidate link needs while the
// assessment is open: question state, the countdown, proctoring and the
// in-flight judge calls.
type Session struct {
	mu         sync.Mutex
	assessment model.Assessment
	current    int
	lastResult *model.ActionResult
	inFlight   map[int]model.ActionKind
	transition bool
	closed     bool
	countdown  *Countdown
	runCancel  context.CancelFunc
	resources  map[*resource]struct{}

	subMu       sync.Mutex
	subscribers map[chan model.SessionEvent]struct{}

	statuses *QuestionStatusStore
	proctor  *Proctor
	judge    Judge
	backend  Backend
	store    storage.Store
	opts     Options
	log      zerolog.Logger
}

// NewSession builds the session of an already fetched assessment. An
// assessment that is in progress resumes its persisted countdown.
func NewSession(ctx context.Context, a *model.Assessment, judge Judge, backend Backend, st storage.Store, opts Options, log zerolog.Logger) *Session {
	if opts.DefaultLanguageID <= 0 {
		opts.DefaultLanguageID = 71
	}
	s := &Session{
		assessment:  *a,
		inFlight:    make(map[int]model.ActionKind),
		resources:   make(map[*resource]struct{}),
		subscribers: make(map[chan model.SessionEvent]struct{}),
		judge:       judge,
		backend:     backend,
		store:       st,
		opts:        opts,
		log: log.With().
			Str("component", "session").
			Int("assessment_id", a.ID).
			Str("link_id", a.UniqueLinkID).
			Logger(),
	}

	s.statuses = NewQuestionStatusStore(ctx, st, config.CacheKey.QuestionStatusKey(a.ID),
		len(a.Problems), opts.DefaultLanguageID, s.log)
	s.proctor = NewProctor(ctx, st, a.ID, opts.ViolationLimit, opts.Clock, s.log)
	s.proctor.OnEscalate(func() {
		s.complete(context.Background(), model.CompletionViolations)
	})

	if a.Status == model.AssessmentStatusInProgress {
		// A restored count past the limit means the completion never
		// reached the backend. Finish it instead of restarting the clock.
		if s.proctor.Terminated() {
			s.complete(ctx, model.CompletionViolations)
		} else {
			s.startCountdown(ctx)
		}
	}
	return s
}

// initialSeconds is the contest duration, or the configured default when
// the contest has none.
func (s *Session) initialSeconds() int {
	if s.assessment.Contest.Duration > 0 {
		return s.assessment.Contest.Duration * 60
	}
	if d := int(s.opts.DefaultDuration / time.Second); d > 0 {
		return d
	}
	return DefaultDurationSeconds
}

func (s *Session) startCountdown(ctx context.Context) {
	s.mu.Lock()
	key := config.CacheKey.TimerKey(s.assessment.ID)
	initial := s.initialSeconds()
	s.mu.Unlock()

	cd := NewCountdown(ctx, s.store, key, initial, s.opts.Clock, s.log)
	cd.OnTick(func(v model.TimerView) {
		s.publish(model.SessionEvent{Type: model.EventTick, Timer: &v})
	})
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.countdown = cd
	s.runCancel = cancel
	s.mu.Unlock()

	cd.Start(ctx, func() { s.OnTimeExpire(context.Background()) })
	if cd.IsActive() && !s.opts.ManualTick {
		go cd.Run(runCtx)
	}
}

// Begin moves the assessment from not_started into progress. A failed
// remote update is returned and leaves the session untouched.
func (s *Session) Begin(ctx context.Context, fullName, email string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.assessment.Status != model.AssessmentStatusNotStarted {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	if s.transition {
		s.mu.Unlock()
		return ErrActionInFlight
	}
	s.transition = true
	id := s.assessment.ID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.transition = false
		s.mu.Unlock()
	}()

	if err := s.backend.UpdateStatus(ctx, id, model.AssessmentStatusInProgress); err != nil {
		s.log.Error().Err(err).Msg("Failed to start assessment")
		return fmt.Errorf("start assessment: %w", err)
	}

	s.mu.Lock()
	s.assessment.Status = model.AssessmentStatusInProgress
	s.assessment.Candidate.FullName = strings.TrimSpace(fullName)
	s.assessment.Candidate.Email = strings.TrimSpace(email)
	s.current = 0
	s.lastResult = nil
	s.mu.Unlock()

	s.startCountdown(ctx)
	s.log.Info().Msg("Assessment started")
	s.publish(model.SessionEvent{Type: model.EventStatus, Status: model.AssessmentStatusInProgress})
	return nil
}

// Reset returns a completed assessment to not_started and forgets every
// piece of local state.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.assessment.Status != model.AssessmentStatusCompleted {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	if s.transition {
		s.mu.Unlock()
		return ErrActionInFlight
	}
	s.transition = true
	id := s.assessment.ID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.transition = false
		s.mu.Unlock()
	}()

	if err := s.backend.UpdateStatus(ctx, id, model.AssessmentStatusNotStarted); err != nil {
		s.log.Error().Err(err).Msg("Failed to reset assessment")
		return fmt.Errorf("reset assessment: %w", err)
	}

	s.statuses.Clear(ctx)
	s.proctor.Reset(ctx)
	if err := s.store.Delete(ctx, config.CacheKey.TimerKey(id)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear countdown")
	}

	s.mu.Lock()
	s.assessment.Status = model.AssessmentStatusNotStarted
	s.current = 0
	s.lastResult = nil
	s.mu.Unlock()

	s.log.Info().Msg("Assessment reset")
	s.publish(model.SessionEvent{Type: model.EventStatus, Status: model.AssessmentStatusNotStarted})
	return nil
}

// SelectQuestion switches to problem index and clears the last result.
func (s *Session) SelectQuestion(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInProgressLocked(); err != nil {
		return err
	}
	if index < 0 || index >= len(s.assessment.Problems) {
		return ErrInvalidQuestion
	}
	if index != s.current {
		s.current = index
		s.lastResult = nil
	}
	return nil
}

// Skip moves to the next problem, wrapping around after the last one.
func (s *Session) Skip() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInProgressLocked(); err != nil {
		return 0, err
	}
	n := len(s.assessment.Problems)
	if n == 0 {
		return 0, ErrInvalidQuestion
	}
	s.current = (s.current + 1) % n
	s.lastResult = nil
	return s.current, nil
}

// UpdateCode stores the editor contents of the current problem.
func (s *Session) UpdateCode(ctx context.Context, code string) (model.QuestionStatus, error) {
	s.mu.Lock()
	if err := s.requireInProgressLocked(); err != nil {
		s.mu.Unlock()
		return model.QuestionStatus{}, err
	}
	idx := s.current
	s.mu.Unlock()

	status := model.AttemptNotAttempted
	if strings.TrimSpace(code) != "" {
		status = model.AttemptAttempted
	}
	return s.statuses.Update(ctx, idx, model.QuestionStatusPatch{Code: &code, Status: &status}), nil
}

// ChangeLanguage sets the language of the current problem.
func (s *Session) ChangeLanguage(ctx context.Context, languageID int) (model.QuestionStatus, error) {
	s.mu.Lock()
	if err := s.requireInProgressLocked(); err != nil {
		s.mu.Unlock()
		return model.QuestionStatus{}, err
	}
	idx := s.current
	s.mu.Unlock()

	return s.statuses.Update(ctx, idx, model.QuestionStatusPatch{LanguageID: &languageID}), nil
}

// RunCode runs the current problem's code against its sample test.
func (s *Session) RunCode(ctx context.Context) (*model.ActionResult, error) {
	idx, qs, problem, err := s.acquire(model.ActionRun)
	if err != nil {
		return nil, err
	}

	res, err := s.judge.Run(ctx, model.RunRequest{
		LanguageID:     qs.LanguageID,
		SourceCode:     qs.Code,
		Stdin:          problem.SampleTestCase.InputData,
		ExpectedOutput: problem.SampleTestCase.ExpectedOutput,
	})

	result := &model.ActionResult{Action: model.ActionRun, Question: idx, Run: res, At: s.now()}
	if err != nil {
		result.Error = err.Error()
		s.log.Warn().Err(err).Int("question", idx).Msg("Run failed")
	}
	s.release(idx, result)
	return result, err
}

// SubmitCode scores the current problem against the hidden suite. The
// candidate must have confirmed the submission.
func (s *Session) SubmitCode(ctx context.Context, confirmed bool) (*model.ActionResult, error) {
	if !confirmed {
		return nil, ErrNotConfirmed
	}
	idx, qs, problem, err := s.acquire(model.ActionSubmit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	assessmentID := s.assessment.ID
	s.mu.Unlock()

	res, err := s.backend.SubmitSolution(ctx, model.SubmissionRequest{
		AssessmentID: assessmentID,
		ProblemID:    problem.ID,
		LanguageID:   qs.LanguageID,
		SourceCode:   qs.Code,
	})

	result := &model.ActionResult{Action: model.ActionSubmit, Question: idx, Submission: res, At: s.now()}
	if err != nil {
		result.Error = err.Error()
		s.log.Warn().Err(err).Int("question", idx).Msg("Submission failed")
		s.release(idx, result)
		return result, err
	}

	status := model.AttemptAttempted
	if res.Accepted() {
		status = model.AttemptCompleted
	}
	s.statuses.Update(ctx, idx, model.QuestionStatusPatch{Status: &status})
	s.release(idx, result)

	s.publish(model.SessionEvent{
		Type:   model.EventStatus,
		Status: model.AssessmentStatusInProgress,
		Result: &model.QuestionProgress{Index: idx, Status: status},
	})
	return result, nil
}

// acquire validates a run or submit of the current problem and marks it in
// flight. Blank code is refused before any network call.
func (s *Session) acquire(action model.ActionKind) (int, model.QuestionStatus, model.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgressLocked(); err != nil {
		return 0, model.QuestionStatus{}, model.Problem{}, err
	}
	idx := s.current
	if idx < 0 || idx >= len(s.assessment.Problems) {
		return 0, model.QuestionStatus{}, model.Problem{}, ErrInvalidQuestion
	}
	qs := s.statuses.Get(idx)
	if strings.TrimSpace(qs.Code) == "" {
		return 0, model.QuestionStatus{}, model.Problem{}, emptyCodeError{action: action}
	}
	if _, busy := s.inFlight[idx]; busy {
		return 0, model.QuestionStatus{}, model.Problem{}, ErrActionInFlight
	}
	s.inFlight[idx] = action
	return idx, qs, s.assessment.Problems[idx], nil
}

// release ends the in-flight action on idx. The result is only shown if the
// candidate is still on that problem.
func (s *Session) release(idx int, result *model.ActionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, idx)
	if s.current == idx {
		s.lastResult = result
	}
}

// ReportViolation records a visibility or fullscreen violation.
func (s *Session) ReportViolation(ctx context.Context, kind model.ViolationKind) (model.Verdict, error) {
	if err := s.requireInProgress(); err != nil {
		return model.Verdict{}, err
	}
	v := s.proctor.Record(ctx, kind, "")
	s.publishVerdict(v)
	return v, nil
}

// HandleKey reports whether combo must be suppressed and records it as a
// violation while the assessment is in progress.
func (s *Session) HandleKey(ctx context.Context, combo model.KeyCombo) model.KeyVerdict {
	if err := s.requireInProgress(); err != nil {
		return model.KeyVerdict{Blocked: IsBlockedKey(combo)}
	}
	kv := s.proctor.HandleKey(ctx, combo)
	if kv.Verdict != nil {
		s.publishVerdict(*kv.Verdict)
	}
	return kv
}

// DismissWarning closes the warning overlay.
func (s *Session) DismissWarning() string {
	return s.proctor.DismissWarning()
}

func (s *Session) publishVerdict(v model.Verdict) {
	if v.Warn {
		s.publish(model.SessionEvent{Type: model.EventWarning, Verdict: &v})
	}
}

// OnTimeExpire ends the assessment when the countdown runs out.
func (s *Session) OnTimeExpire(ctx context.Context) {
	s.complete(ctx, model.CompletionTimeUp)
}

// complete marks the assessment completed. It is idempotent. The remote
// update is best-effort: failures are queued for the status sync worker.
func (s *Session) complete(ctx context.Context, reason model.CompletionReason) {
	s.mu.Lock()
	if s.assessment.Status == model.AssessmentStatusCompleted {
		s.mu.Unlock()
		return
	}
	s.assessment.Status = model.AssessmentStatusCompleted
	id := s.assessment.ID
	cd, cancel := s.countdown, s.runCancel
	s.countdown, s.runCancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cd != nil {
		cd.Stop(ctx)
	}

	metrics.CompletionsTotal.WithLabelValues(string(reason)).Inc()
	s.log.Info().Str("reason", string(reason)).Msg("Assessment completed")

	if err := s.backend.UpdateStatus(ctx, id, model.AssessmentStatusCompleted); err != nil {
		s.log.Warn().Err(err).Msg("Failed to sync completion, queued for retry")
		metrics.StatusSyncFailuresTotal.Inc()
		s.enqueueStatusSync(ctx, id, model.AssessmentStatusCompleted)
	}

	s.publish(model.SessionEvent{Type: model.EventCompleted, Status: model.AssessmentStatusCompleted, Reason: reason})
	s.releaseResources()
}

func (s *Session) enqueueStatusSync(ctx context.Context, id int, status model.AssessmentStatus) {
	raw, err := json.Marshal(model.StatusSyncJob{AssessmentID: id, Status: status})
	if err != nil {
		return
	}
	if err := s.store.Push(ctx, config.WorkerKey.StatusSyncQueue, raw); err != nil {
		s.log.Error().Err(err).Msg("Failed to queue status sync")
	}
}

// AttachResource ties c to the assessment: it is closed exactly once when
// the assessment completes or the session closes. detach forgets c without
// closing it.
func (s *Session) AttachResource(c io.Closer) (detach func()) {
	r := &resource{closer: c}
	s.mu.Lock()
	s.resources[r] = struct{}{}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.resources, r)
		s.mu.Unlock()
	}
}

func (s *Session) releaseResources() {
	s.mu.Lock()
	held := s.resources
	s.resources = make(map[*resource]struct{})
	s.mu.Unlock()

	for r := range held {
		if err := r.close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to release resource")
		}
	}
}

// Subscribe returns a stream of session events. cancel must be called once
// the listener is gone; it closes the channel.
func (s *Session) Subscribe() (<-chan model.SessionEvent, func()) {
	ch := make(chan model.SessionEvent, subscriberBuffer)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *Session) subscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

func (s *Session) publish(evt model.SessionEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			s.log.Debug().Str("event", string(evt.Type)).Msg("Subscriber is slow, dropping event")
		}
	}
}

// Snapshot is the read-only view used for rendering.
func (s *Session) Snapshot() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.assessment
	view := model.SessionView{
		Screen:          model.ScreenFor(a.Status),
		Assessment:      &a,
		CurrentQuestion: s.current,
		Questions:       s.statuses.All(),
		Violations:      s.proctor.Count(),
		ViolationLimit:  s.proctor.Limit(),
		LastResult:      s.lastResult,
	}
	if s.countdown != nil {
		t := s.countdown.View()
		view.Timer = &t
	}
	if len(s.inFlight) > 0 {
		view.InFlight = make(map[int]model.ActionKind, len(s.inFlight))
		for k, v := range s.inFlight {
			view.InFlight[k] = v
		}
	}
	return view
}

// Timer returns the countdown snapshot, or false when no countdown runs.
func (s *Session) Timer() (model.TimerView, bool) {
	s.mu.Lock()
	cd := s.countdown
	s.mu.Unlock()
	if cd == nil {
		return model.TimerView{}, false
	}
	return cd.View(), true
}

// Status returns the current assessment status.
func (s *Session) Status() model.AssessmentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assessment.Status
}

// Languages lists the languages the judge accepts.
func (s *Session) Languages(ctx context.Context) []model.Language {
	return s.judge.Languages(ctx)
}

// Close stops background work and releases resources. The persisted state
// is kept so the assessment resumes on the next open.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.releaseResources()

	s.subMu.Lock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

func (s *Session) requireInProgress() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requireInProgressLocked()
}

func (s *Session) requireInProgressLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.assessment.Status != model.AssessmentStatusInProgress {
		return ErrNotInProgress
	}
	return nil
}

func (s *Session) now() time.Time {
	if s.opts.Clock != nil {
		return s.opts.Clock().UTC()
	}
	return time.Now().UTC()
}
