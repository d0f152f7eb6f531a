package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

type stubJudge struct {
	mu      sync.Mutex
	calls   []model.RunRequest
	result  *model.RunResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (j *stubJudge) Run(ctx context.Context, req model.RunRequest) (*model.RunResult, error) {
	j.mu.Lock()
	j.calls = append(j.calls, req)
	started, release := j.started, j.release
	j.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return j.result, j.err
}

func (j *stubJudge) Languages(context.Context) []model.Language {
	return []model.Language{{ID: 71, Name: "Python (3.8.1)"}}
}

func (j *stubJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.calls)
}

type stubBackend struct {
	mu          sync.Mutex
	assessment  model.Assessment
	gets        int
	updates     []model.AssessmentStatus
	updateErr   error
	submissions []model.SubmissionRequest
	submitRes   *model.SubmissionResult
	submitErr   error
}

func (b *stubBackend) GetAssessment(_ context.Context, linkID string) (*model.Assessment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if linkID != b.assessment.UniqueLinkID {
		return nil, errors.New("assessment not found")
	}
	a := b.assessment
	return &a, nil
}

func (b *stubBackend) UpdateStatus(_ context.Context, _ int, status model.AssessmentStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, status)
	return b.updateErr
}

func (b *stubBackend) SubmitSolution(_ context.Context, req model.SubmissionRequest) (*model.SubmissionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submissions = append(b.submissions, req)
	return b.submitRes, b.submitErr
}

func (b *stubBackend) statusUpdates() []model.AssessmentStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.AssessmentStatus(nil), b.updates...)
}

func testAssessment(status model.AssessmentStatus) model.Assessment {
	return model.Assessment{
		ID:           1,
		UniqueLinkID: "3f0e2f8c-6a6b-4b7e-9f43-0c3f7b7e2a11",
		Status:       status,
		Contest:      model.Contest{Name: "Backend Hiring", Duration: 45},
		Problems: []model.Problem{
			{ID: 11, Name: "Sum", SampleTestCase: model.SampleTestCase{InputData: "1 2", ExpectedOutput: "3"}},
			{ID: 12, Name: "Reverse", SampleTestCase: model.SampleTestCase{InputData: "abc", ExpectedOutput: "cba"}},
			{ID: 13, Name: "Paths"},
		},
	}
}

type harness struct {
	session *Session
	judge   *stubJudge
	backend *stubBackend
	store   *storage.MemoryStore
	clock   *fakeClock
}

func newHarness(t *testing.T, status model.AssessmentStatus) *harness {
	t.Helper()
	h := &harness{
		judge:   &stubJudge{result: &model.RunResult{StatusID: model.StatusAccepted, Status: "Accepted"}},
		backend: &stubBackend{assessment: testAssessment(status)},
		store:   storage.NewMemoryStore(),
		clock:   newFakeClock(),
	}
	h.session = h.open(t)
	return h
}

func (h *harness) open(t *testing.T) *Session {
	t.Helper()
	a := h.backend.assessment
	s := NewSession(context.Background(), &a, h.judge, h.backend, h.store,
		Options{DefaultLanguageID: 71, ViolationLimit: 5, Clock: h.clock.Now, ManualTick: true}, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func (h *harness) tick() {
	h.session.mu.Lock()
	cd := h.session.countdown
	h.session.mu.Unlock()
	if cd != nil {
		cd.Tick(context.Background())
	}
}

type closeCounter struct {
	mu sync.Mutex
	n  int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *closeCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestSessionScreenFollowsStatus(t *testing.T) {
	cases := map[model.AssessmentStatus]model.Screen{
		model.AssessmentStatusNotStarted: model.ScreenIntro,
		model.AssessmentStatusInProgress: model.ScreenWorkspace,
		model.AssessmentStatusCompleted:  model.ScreenEnd,
	}
	for status, want := range cases {
		h := newHarness(t, status)
		if got := h.session.Snapshot().Screen; got != want {
			t.Errorf("status %s: screen %s, want %s", status, got, want)
		}
	}
}

func TestSessionBeginStartsCountdown(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusNotStarted)
	ctx := context.Background()

	if err := h.session.Begin(ctx, " Ada Lovelace ", "ada@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	view := h.session.Snapshot()
	if view.Screen != model.ScreenWorkspace || view.Timer == nil || view.Timer.TimeLeft != 45*60 {
		t.Fatalf("unexpected view after begin: %+v", view)
	}
	if view.Assessment.Candidate.FullName != "Ada Lovelace" {
		t.Fatalf("candidate name not stored: %q", view.Assessment.Candidate.FullName)
	}
	if got := h.backend.statusUpdates(); len(got) != 1 || got[0] != model.AssessmentStatusInProgress {
		t.Fatalf("unexpected remote updates: %v", got)
	}
	if err := h.session.Begin(ctx, "Ada", "ada@example.com"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second begin: expected ErrInvalidTransition, got %v", err)
	}
}

func TestSessionBeginSurfacesRemoteFailure(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusNotStarted)
	h.backend.updateErr = errors.New("backend down")

	if err := h.session.Begin(context.Background(), "Ada", "ada@example.com"); err == nil {
		t.Fatalf("expected begin to fail")
	}
	if h.session.Status() != model.AssessmentStatusNotStarted {
		t.Fatalf("failed begin must leave status untouched")
	}
	if _, ok := h.session.Timer(); ok {
		t.Fatalf("failed begin must not start a countdown")
	}
}

func TestSessionDefaultDurationWhenContestHasNone(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusNotStarted)
	h.backend.assessment.Contest.Duration = 0
	s := h.open(t)

	if err := s.Begin(context.Background(), "Ada", "ada@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if timer, _ := s.Timer(); timer.TimeLeft != DefaultDurationSeconds {
		t.Fatalf("expected default duration, got %d", timer.TimeLeft)
	}
}

func TestSessionRunRejectsEmptyCodeWithoutNetwork(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	ctx := context.Background()
	if _, err := h.session.UpdateCode(ctx, "   \n\t"); err != nil {
		t.Fatalf("update code: %v", err)
	}

	_, err := h.session.RunCode(ctx)
	if !errors.Is(err, ErrEmptyCode) || err.Error() != "Please write some code before running." {
		t.Fatalf("run: unexpected error %v", err)
	}
	_, err = h.session.SubmitCode(ctx, true)
	if !errors.Is(err, ErrEmptyCode) || err.Error() != "Please write some code before submitting." {
		t.Fatalf("submit: unexpected error %v", err)
	}
	if h.judge.callCount() != 0 || len(h.backend.submissions) != 0 {
		t.Fatalf("empty code must not reach the network")
	}
}

func TestSessionUpdateCodeTracksAttempted(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	ctx := context.Background()

	qs, _ := h.session.UpdateCode(ctx, "print(1)")
	if qs.Status != model.AttemptAttempted {
		t.Fatalf("expected attempted, got %s", qs.Status)
	}
	qs, _ = h.session.UpdateCode(ctx, "  ")
	if qs.Status != model.AttemptNotAttempted {
		t.Fatalf("expected not-attempted, got %s", qs.Status)
	}
	qs, _ = h.session.ChangeLanguage(ctx, 63)
	if qs.LanguageID != 63 {
		t.Fatalf("expected language 63, got %d", qs.LanguageID)
	}
}

func TestSessionRunUsesSampleTest(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	ctx := context.Background()
	if err := h.session.SelectQuestion(1); err != nil {
		t.Fatalf("select: %v", err)
	}
	_, _ = h.session.UpdateCode(ctx, "print(input()[::-1])")

	result, err := h.session.RunCode(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Run.Passed() || result.Question != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	req := h.judge.calls[0]
	if req.Stdin != "abc" || req.ExpectedOutput != "cba" || req.LanguageID != 71 {
		t.Fatalf("unexpected judge request: %+v", req)
	}
	if h.session.Snapshot().LastResult != result {
		t.Fatalf("expected result to be shown")
	}

	if err := h.session.SelectQuestion(2); err != nil {
		t.Fatalf("select: %v", err)
	}
	if h.session.Snapshot().LastResult != nil {
		t.Fatalf("switching problems must clear the result")
	}
}

func TestSessionRunIsSingleFlightPerQuestion(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	h.judge.started = make(chan struct{}, 1)
	h.judge.release = make(chan struct{})
	ctx := context.Background()
	_, _ = h.session.UpdateCode(ctx, "print(3)")

	done := make(chan error, 1)
	go func() {
		_, err := h.session.RunCode(ctx)
		done <- err
	}()
	<-h.judge.started

	if _, err := h.session.RunCode(ctx); !errors.Is(err, ErrActionInFlight) {
		t.Fatalf("expected ErrActionInFlight, got %v", err)
	}
	if _, err := h.session.SubmitCode(ctx, true); !errors.Is(err, ErrActionInFlight) {
		t.Fatalf("expected ErrActionInFlight for submit, got %v", err)
	}
	if h.session.Snapshot().InFlight[0] != model.ActionRun {
		t.Fatalf("expected run to be reported in flight")
	}

	close(h.judge.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if h.judge.callCount() != 1 {
		t.Fatalf("expected a single judge call, got %d", h.judge.callCount())
	}
}

func TestSessionRunRecordsJudgeError(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	h.judge.result = nil
	h.judge.err = errors.New("submission processing timeout")
	ctx := context.Background()
	_, _ = h.session.UpdateCode(ctx, "while True: pass")

	result, err := h.session.RunCode(ctx)
	if err == nil || result == nil || result.Error != "submission processing timeout" {
		t.Fatalf("unexpected run outcome: %+v %v", result, err)
	}
	if len(h.session.Snapshot().InFlight) != 0 {
		t.Fatalf("failed run must release the question")
	}
}

func TestSessionSubmitRequiresConfirmation(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	ctx := context.Background()
	_, _ = h.session.UpdateCode(ctx, "print(3)")

	if _, err := h.session.SubmitCode(ctx, false); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if len(h.backend.submissions) != 0 {
		t.Fatalf("unconfirmed submit reached the backend")
	}
}

func TestSessionSubmitUpdatesQuestionStatus(t *testing.T) {
	cases := []struct {
		overall string
		want    model.AttemptStatus
	}{
		{"Accepted", model.AttemptCompleted},
		{"Wrong Answer", model.AttemptAttempted},
	}
	for _, tc := range cases {
		t.Run(tc.overall, func(t *testing.T) {
			h := newHarness(t, model.AssessmentStatusInProgress)
			h.backend.submitRes = &model.SubmissionResult{OverallStatus: tc.overall, TotalTestCases: 10, PassedTestCases: 7}
			ctx := context.Background()
			_, _ = h.session.UpdateCode(ctx, "print(3)")
			events, cancel := h.session.Subscribe()
			defer cancel()

			result, err := h.session.SubmitCode(ctx, true)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if result.Submission.OverallStatus != tc.overall {
				t.Fatalf("unexpected result: %+v", result)
			}
			if got := h.session.Snapshot().Questions[0].Status; got != tc.want {
				t.Fatalf("question status %s, want %s", got, tc.want)
			}
			req := h.backend.submissions[0]
			if req.AssessmentID != 1 || req.ProblemID != 11 || req.SourceCode != "print(3)" {
				t.Fatalf("unexpected submission: %+v", req)
			}
			evt := <-events
			if evt.Type != model.EventStatus || evt.Result == nil || evt.Result.Status != tc.want {
				t.Fatalf("unexpected event: %+v", evt)
			}
		})
	}
}

func TestSessionSkipWraps(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	for _, want := range []int{1, 2, 0} {
		got, err := h.session.Skip()
		if err != nil || got != want {
			t.Fatalf("skip = %d, %v; want %d", got, err, want)
		}
	}
	if err := h.session.SelectQuestion(3); !errors.Is(err, ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}
}

func TestSessionActionsRequireInProgress(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusNotStarted)
	ctx := context.Background()

	if _, err := h.session.RunCode(ctx); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("run: expected ErrNotInProgress, got %v", err)
	}
	if _, err := h.session.SubmitCode(ctx, true); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("submit: expected ErrNotInProgress, got %v", err)
	}
	if _, err := h.session.ReportViolation(ctx, model.ViolationVisibilityHidden); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("violation: expected ErrNotInProgress, got %v", err)
	}
	if kv := h.session.HandleKey(ctx, model.KeyCombo{Key: "F12"}); !kv.Blocked || kv.Verdict != nil {
		t.Fatalf("keys are blocked but not counted outside the workspace: %+v", kv)
	}
}

func TestSessionTimeUpCompletesOnce(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	events, cancel := h.session.Subscribe()
	defer cancel()
	res := &closeCounter{}
	h.session.AttachResource(res)

	h.clock.Advance(45 * time.Minute)
	h.tick()
	h.tick()

	if h.session.Status() != model.AssessmentStatusCompleted {
		t.Fatalf("expected completed, got %s", h.session.Status())
	}
	if got := h.backend.statusUpdates(); len(got) != 1 || got[0] != model.AssessmentStatusCompleted {
		t.Fatalf("expected a single completion update, got %v", got)
	}
	if res.count() != 1 {
		t.Fatalf("expected resource closed once, got %d", res.count())
	}
	h.session.Close()
	if res.count() != 1 {
		t.Fatalf("close after completion must not close twice")
	}

	var completed int
	for evt := range events {
		if evt.Type == model.EventCompleted {
			completed++
			if evt.Reason != model.CompletionTimeUp {
				t.Fatalf("unexpected reason %s", evt.Reason)
			}
		}
	}
	if completed != 1 {
		t.Fatalf("expected one completed event, got %d", completed)
	}
	if _, err := h.store.Get(context.Background(), config.CacheKey.TimerKey(1)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected countdown entry to be cleared, got %v", err)
	}
}

func TestSessionResumesExpiredCountdown(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusNotStarted)
	raw, _ := json.Marshal(model.TimerState{
		TimeLeft:  3600,
		IsActive:  true,
		StartTime: h.clock.Now().Add(-3700 * time.Second).UnixMilli(),
	})
	_ = h.store.Set(context.Background(), config.CacheKey.TimerKey(1), raw)
	h.backend.assessment.Status = model.AssessmentStatusInProgress

	s := h.open(t)
	if s.Status() != model.AssessmentStatusCompleted {
		t.Fatalf("expired countdown must complete on open, got %s", s.Status())
	}
	if got := h.backend.statusUpdates(); len(got) != 1 {
		t.Fatalf("expected exactly one completion update, got %v", got)
	}
}

func TestSessionViolationsEscalate(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	h.backend.updateErr = errors.New("backend down")
	ctx := context.Background()
	events, cancel := h.session.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		v, err := h.session.ReportViolation(ctx, model.ViolationFullscreenExit)
		if err != nil || !v.Warn {
			t.Fatalf("violation %d: %+v %v", i, v, err)
		}
		if evt := <-events; evt.Type != model.EventWarning || evt.Verdict.Count != i {
			t.Fatalf("violation %d: unexpected event %+v", i, evt)
		}
	}

	v, err := h.session.ReportViolation(ctx, model.ViolationVisibilityHidden)
	if err != nil || !v.Terminated {
		t.Fatalf("sixth violation: %+v %v", v, err)
	}
	if evt := <-events; evt.Type != model.EventCompleted || evt.Reason != model.CompletionViolations {
		t.Fatalf("unexpected event %+v", evt)
	}
	if h.session.Status() != model.AssessmentStatusCompleted {
		t.Fatalf("expected completed")
	}

	raw, err := h.store.Pop(ctx, config.WorkerKey.StatusSyncQueue)
	if err != nil {
		t.Fatalf("expected failed completion to be queued: %v", err)
	}
	var job model.StatusSyncJob
	if err := json.Unmarshal(raw, &job); err != nil || job.AssessmentID != 1 || job.Status != model.AssessmentStatusCompleted {
		t.Fatalf("unexpected job %s (%v)", raw, err)
	}

	if _, err := h.session.ReportViolation(ctx, model.ViolationVisibilityHidden); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("violations after completion must be refused, got %v", err)
	}
}

func TestSessionReset(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	ctx := context.Background()
	_, _ = h.session.UpdateCode(ctx, "print(1)")
	_, _ = h.session.ReportViolation(ctx, model.ViolationFullscreenExit)

	if err := h.session.Reset(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reset in progress: expected ErrInvalidTransition, got %v", err)
	}

	h.session.OnTimeExpire(ctx)
	if err := h.session.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	view := h.session.Snapshot()
	if view.Screen != model.ScreenIntro || view.Violations != 0 || view.Questions[0].Code != "" {
		t.Fatalf("reset left state behind: %+v", view)
	}
	updates := h.backend.statusUpdates()
	if updates[len(updates)-1] != model.AssessmentStatusNotStarted {
		t.Fatalf("expected remote reset, got %v", updates)
	}
}

func TestSessionResetRestoresQuestionDefaults(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusInProgress)
	ctx := context.Background()
	_, _ = h.session.UpdateCode(ctx, "print(1)")
	if _, err := h.session.ChangeLanguage(ctx, 63); err != nil {
		t.Fatalf("change language: %v", err)
	}
	h.session.OnTimeExpire(ctx)

	if err := h.session.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := h.session.Begin(ctx, "Ada Lovelace", "ada@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	questions := h.session.Snapshot().Questions
	if len(questions) != len(h.backend.assessment.Problems) {
		t.Fatalf("expected %d question entries, got %+v", len(h.backend.assessment.Problems), questions)
	}
	for i, q := range questions {
		if q.Status != model.AttemptNotAttempted || q.Code != "" || q.LanguageID != 71 {
			t.Fatalf("question %d not reset: %+v", i, q)
		}
	}
}

func TestSessionCompletesRestoredTerminatedProctor(t *testing.T) {
	h := newHarness(t, model.AssessmentStatusNotStarted)
	ctx := context.Background()
	_ = h.store.Set(ctx, config.CacheKey.ViolationCountKey(1), []byte("6"))
	h.backend.assessment.Status = model.AssessmentStatusInProgress

	s := h.open(t)
	if s.Status() != model.AssessmentStatusCompleted {
		t.Fatalf("expected completed on open, got %s", s.Status())
	}
	updates := h.backend.statusUpdates()
	if len(updates) != 1 || updates[0] != model.AssessmentStatusCompleted {
		t.Fatalf("expected one completion update, got %v", updates)
	}
	if _, ok := s.Timer(); ok {
		t.Fatalf("countdown must not restart for a terminated assessment")
	}
	if _, err := s.ReportViolation(ctx, model.ViolationFullscreenExit); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestSessionManagerCachesByLink(t *testing.T) {
	backend := &stubBackend{assessment: testAssessment(model.AssessmentStatusNotStarted)}
	m := NewSessionManager(&stubJudge{}, backend, storage.NewMemoryStore(), Options{ManualTick: true}, zerolog.Nop())
	defer m.Close()
	ctx := context.Background()

	first, err := m.Open(ctx, backend.assessment.UniqueLinkID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, _ := m.Open(ctx, backend.assessment.UniqueLinkID)
	if first != second || backend.gets != 1 || m.Len() != 1 {
		t.Fatalf("expected a single cached session, gets=%d", backend.gets)
	}

	if _, err := m.Open(ctx, "unknown"); err == nil {
		t.Fatalf("expected fetch error to propagate")
	}
	if m.Len() != 1 {
		t.Fatalf("failed open must not be cached")
	}
}

// multiBackend serves several links. UpdateStatus blocks for blockID until
// release is closed.
type multiBackend struct {
	stubBackend
	byLink  map[string]model.Assessment
	blockID int
	entered chan struct{}
	release chan struct{}
}

func (b *multiBackend) GetAssessment(_ context.Context, linkID string) (*model.Assessment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	a, ok := b.byLink[linkID]
	if !ok {
		return nil, errors.New("assessment not found")
	}
	return &a, nil
}

func (b *multiBackend) UpdateStatus(ctx context.Context, id int, status model.AssessmentStatus) error {
	if id == b.blockID {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.stubBackend.UpdateStatus(ctx, id, status)
}

func TestSessionManagerOpenDoesNotBlockOtherLinks(t *testing.T) {
	slow := testAssessment(model.AssessmentStatusInProgress)
	fast := testAssessment(model.AssessmentStatusNotStarted)
	fast.ID, fast.UniqueLinkID = 2, "9b1d7c55-2f4e-4c1a-8d7e-5a3b6c2d1e0f"
	backend := &multiBackend{
		byLink:  map[string]model.Assessment{slow.UniqueLinkID: slow, fast.UniqueLinkID: fast},
		blockID: slow.ID,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	st := storage.NewMemoryStore()
	// The slow link resumes past its violation limit, so opening it
	// completes the assessment remotely.
	_ = st.Set(context.Background(), config.CacheKey.ViolationCountKey(slow.ID), []byte("6"))
	m := NewSessionManager(&stubJudge{}, backend, st, Options{ManualTick: true}, zerolog.Nop())
	defer m.Close()

	slowDone := make(chan *Session, 1)
	go func() {
		s, _ := m.Open(context.Background(), slow.UniqueLinkID)
		slowDone <- s
	}()
	select {
	case <-backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("slow open never reached the backend")
	}

	fastDone := make(chan error, 1)
	go func() {
		_, err := m.Open(context.Background(), fast.UniqueLinkID)
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("open: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("open of another link waited on the slow completion")
	}

	close(backend.release)
	s := <-slowDone
	if s == nil || s.Status() != model.AssessmentStatusCompleted {
		t.Fatalf("expected the slow session to be completed")
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Len())
	}
}

func TestSessionManagerConcurrentOpenSharesSession(t *testing.T) {
	backend := &stubBackend{assessment: testAssessment(model.AssessmentStatusNotStarted)}
	m := NewSessionManager(&stubJudge{}, backend, storage.NewMemoryStore(), Options{ManualTick: true}, zerolog.Nop())
	defer m.Close()

	const openers = 8
	got := make([]*Session, openers)
	var wg sync.WaitGroup
	for i := 0; i < openers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = m.Open(context.Background(), backend.assessment.UniqueLinkID)
		}(i)
	}
	wg.Wait()

	for i := 1; i < openers; i++ {
		if got[i] == nil || got[i] != got[0] {
			t.Fatalf("opener %d got a different session", i)
		}
	}
	if m.Len() != 1 {
		t.Fatalf("expected one cached session, got %d", m.Len())
	}
}

func TestSessionManagerSweepEvictsIdleSessions(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{assessment: testAssessment(model.AssessmentStatusInProgress)}
	st := storage.NewMemoryStore()
	m := NewSessionManager(&stubJudge{}, backend, st, Options{ManualTick: true, Clock: clock.Now}, zerolog.Nop())
	defer m.Close()
	ctx := context.Background()
	link := backend.assessment.UniqueLinkID

	first, err := m.Open(ctx, link)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := first.UpdateCode(ctx, "print(1)"); err != nil {
		t.Fatalf("update code: %v", err)
	}
	if n := m.Sweep(time.Hour); n != 0 {
		t.Fatalf("fresh session evicted")
	}

	clock.Advance(2 * time.Hour)
	_, unsubscribe := first.Subscribe()
	if n := m.Sweep(time.Hour); n != 0 || m.Len() != 1 {
		t.Fatalf("session with a live subscriber evicted")
	}
	unsubscribe()
	if n := m.Sweep(time.Hour); n != 1 || m.Len() != 0 {
		t.Fatalf("expected idle session to be evicted, len=%d", m.Len())
	}

	second, err := m.Open(ctx, link)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if second == first || backend.gets != 2 {
		t.Fatalf("expected a fresh fetch after eviction, gets=%d", backend.gets)
	}
	if got := second.Snapshot().Questions[0].Code; got != "print(1)" {
		t.Fatalf("evicted session state not resumed: %q", got)
	}
}
