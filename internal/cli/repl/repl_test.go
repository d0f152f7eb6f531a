package repl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/storage"
	"github.com/stemsi/exstem-assess/internal/validator"
)

func init() {
	validator.Setup()
}

type fakeJudge struct{}

func (fakeJudge) Run(_ context.Context, req model.RunRequest) (*model.RunResult, error) {
	return &model.RunResult{StatusID: model.StatusAccepted, Status: "Accepted", Stdout: req.ExpectedOutput}, nil
}

func (fakeJudge) Languages(context.Context) []model.Language {
	return []model.Language{{ID: 71, Name: "Python (3.8.1)"}, {ID: 63, Name: "JavaScript (Node.js 12.14.0)"}}
}

type fakeBackend struct {
	mu       sync.Mutex
	statuses []model.AssessmentStatus
	submits  int
}

func (b *fakeBackend) GetAssessment(context.Context, string) (*model.Assessment, error) {
	return nil, errors.New("not used")
}

func (b *fakeBackend) UpdateStatus(_ context.Context, _ int, status model.AssessmentStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, status)
	return nil
}

func (b *fakeBackend) SubmitSolution(context.Context, model.SubmissionRequest) (*model.SubmissionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	return &model.SubmissionResult{TotalTestCases: 4, PassedTestCases: 4, OverallStatus: model.OverallAccepted}, nil
}

func newSession(t *testing.T, status model.AssessmentStatus) (*service.Session, *fakeBackend) {
	t.Helper()
	a := &model.Assessment{
		ID:           3,
		UniqueLinkID: "link",
		Status:       status,
		Contest:      model.Contest{Name: "Backend Hiring", Duration: 30},
		Problems: []model.Problem{
			{ID: 1, Name: "Sum", Difficulty: model.DifficultyEasy, SampleTestCase: model.SampleTestCase{InputData: "1 2", ExpectedOutput: "3"}},
			{ID: 2, Name: "Reverse", Difficulty: model.DifficultyMedium},
		},
	}
	backend := &fakeBackend{}
	s := service.NewSession(context.Background(), a, fakeJudge{}, backend, storage.NewMemoryStore(),
		service.Options{ManualTick: true}, zerolog.Nop())
	t.Cleanup(s.Close)
	return s, backend
}

func exec(t *testing.T, r *REPL, line string) error {
	t.Helper()
	return r.Execute(context.Background(), line)
}

func TestStartRequiresValidCandidate(t *testing.T) {
	s, backend := newSession(t, model.AssessmentStatusNotStarted)
	var out bytes.Buffer
	r := New(s, strings.NewReader(""), &out, Options{})

	if err := exec(t, r, `start "   " not-an-email`); err == nil {
		t.Fatal("expected validation error")
	}
	if err := exec(t, r, `start "Ada Lovelace" ada@example.com`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status() != model.AssessmentStatusInProgress {
		t.Fatalf("expected in_progress, got %s", s.Status())
	}
	if len(backend.statuses) != 1 || backend.statuses[0] != model.AssessmentStatusInProgress {
		t.Fatalf("unexpected remote updates: %v", backend.statuses)
	}
	if !strings.Contains(out.String(), "[1/2] Sum") {
		t.Fatalf("expected workspace view, got:\n%s", out.String())
	}
}

func TestCodeEntryAndRun(t *testing.T) {
	s, _ := newSession(t, model.AssessmentStatusInProgress)
	var out bytes.Buffer
	in := strings.NewReader("a, b = map(int, input().split())\nprint(a + b)\n.\n")
	r := New(s, in, &out, Options{})

	if err := exec(t, r, "run"); !errors.Is(err, service.ErrEmptyCode) {
		t.Fatalf("expected ErrEmptyCode, got %v", err)
	}
	if err := exec(t, r, "code"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Snapshot().Questions[0].Code; !strings.Contains(got, "print(a + b)") {
		t.Fatalf("code not saved: %q", got)
	}
	if err := exec(t, r, "run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "status: Accepted") {
		t.Fatalf("expected run result, got:\n%s", out.String())
	}
}

func TestLoadFile(t *testing.T) {
	s, _ := newSession(t, model.AssessmentStatusInProgress)
	path := filepath.Join(t.TempDir(), "main.py")
	if err := os.WriteFile(path, []byte("print(3)\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	r := New(s, strings.NewReader(""), &bytes.Buffer{}, Options{})

	if err := exec(t, r, "load "+path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	qs := s.Snapshot().Questions[0]
	if qs.Code != "print(3)\n" || qs.Status != model.AttemptAttempted {
		t.Fatalf("unexpected status: %+v", qs)
	}
}

func TestSubmitNeedsConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		opts    Options
		wantErr error
		submits int
	}{
		{name: "non-interactive refused", opts: Options{}, wantErr: service.ErrNotConfirmed},
		{name: "assume yes", opts: Options{AssumeYes: true}, submits: 1},
		{name: "interactive yes", input: "y\n", opts: Options{Interactive: true}, submits: 1},
		{name: "interactive default no", input: "\n", opts: Options{Interactive: true}, wantErr: service.ErrNotConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, backend := newSession(t, model.AssessmentStatusInProgress)
			if _, err := s.UpdateCode(context.Background(), "print(3)"); err != nil {
				t.Fatal(err)
			}
			r := New(s, strings.NewReader(tt.input), &bytes.Buffer{}, tt.opts)

			err := exec(t, r, "submit")
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if backend.submits != tt.submits {
				t.Fatalf("expected %d submits, got %d", tt.submits, backend.submits)
			}
		})
	}
}

func TestNavigation(t *testing.T) {
	s, _ := newSession(t, model.AssessmentStatusInProgress)
	var out bytes.Buffer
	r := New(s, strings.NewReader(""), &out, Options{})

	if err := exec(t, r, "select 2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := exec(t, r, "skip"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Snapshot().CurrentQuestion; got != 0 {
		t.Fatalf("expected skip to wrap to 0, got %d", got)
	}
	if err := exec(t, r, "select 9"); !errors.Is(err, service.ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}
	if err := exec(t, r, "lang 63"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Snapshot().Questions[0].LanguageID; got != 63 {
		t.Fatalf("expected language 63, got %d", got)
	}
	if err := exec(t, r, "nope"); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestRunLoopExitsAndPrintsCompletion(t *testing.T) {
	s, _ := newSession(t, model.AssessmentStatusInProgress)
	pr, pw := newPipe()
	var out syncBuffer
	r := New(s, pr, &out, Options{})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	waitFor(t, func() bool { return strings.Contains(out.String(), "[1/2] Sum") })

	s.OnTimeExpire(context.Background())
	waitFor(t, func() bool { return strings.Contains(out.String(), "assessment completed (time_up)") })

	pw.WriteLine("exit")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type pipeWriter struct{ ch chan string }

func (w pipeWriter) WriteLine(s string) { w.ch <- s + "\n" }

type pipeReader struct {
	ch   chan string
	rest string
}

func newPipe() (*pipeReader, pipeWriter) {
	ch := make(chan string, 4)
	return &pipeReader{ch: ch}, pipeWriter{ch: ch}
}

func (r *pipeReader) Read(p []byte) (int, error) {
	if r.rest == "" {
		r.rest = <-r.ch
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
