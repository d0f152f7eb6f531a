// Package judge talks to a Judge0-style code execution service: it creates a
// submission for the sample test and polls it until the verdict is final.
package judge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/apiclient"
	"github.com/stemsi/exstem-assess/internal/metrics"
	"github.com/stemsi/exstem-assess/internal/model"
)

var (
	ErrNoToken            = errors.New("no submission token received")
	ErrTimeout            = errors.New("submission processing timeout")
	ErrServiceUnavailable = errors.New("code execution service is unavailable")
)

// ExecutionError is an HTTP-level failure reported by the judge.
type ExecutionError struct {
	StatusCode int
	Message    string
}

func (e *ExecutionError) Error() string {
	return "failed to execute code: " + e.Message
}

const resultFields = "stdout,stderr,compile_output,status_id,language_id,time,memory"

// FallbackLanguages is served when the judge's language list is unreachable.
var FallbackLanguages = []model.Language{
	{ID: 71, Name: "Python (3.8.1)"},
	{ID: 63, Name: "JavaScript (Node.js 12.14.0)"},
	{ID: 54, Name: "C++ (GCC 9.2.0)"},
	{ID: 62, Name: "Java (OpenJDK 13.0.1)"},
}

// Client runs sample tests against the judge.
type Client struct {
	api          *apiclient.Client
	pollInterval time.Duration
	maxAttempts  int
	log          zerolog.Logger
}

// NewClient creates a judge client. pollInterval and maxAttempts bound the
// status polling of a single run.
func NewClient(baseURL string, timeout, pollInterval time.Duration, maxAttempts int, log zerolog.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Client{
		api:          apiclient.New(baseURL, timeout),
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		log:          log.With().Str("component", "judge_client").Logger(),
	}
}

type createSubmissionRequest struct {
	LanguageID     int    `json:"language_id"`
	SourceCode     string `json:"source_code"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
	Base64Encoded  bool   `json:"base64_encoded"`
}

type createSubmissionResponse struct {
	Token string `json:"token"`
}

type submissionStatus struct {
	StatusID      int     `json:"status_id"`
	LanguageID    int     `json:"language_id"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Time          *string `json:"time"`
	Memory        *int64  `json:"memory"`
}

// Run submits code against the sample test and blocks until the judge
// returns a terminal verdict, the attempt budget is spent, or ctx ends.
func (c *Client) Run(ctx context.Context, req model.RunRequest) (*model.RunResult, error) {
	start := time.Now()
	result, err := c.run(ctx, req)

	outcome := runOutcome(result, err)
	metrics.JudgeRunsTotal.WithLabelValues(outcome).Inc()
	metrics.JudgeRunDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (c *Client) run(ctx context.Context, req model.RunRequest) (*model.RunResult, error) {
	body := createSubmissionRequest{
		LanguageID:     req.LanguageID,
		SourceCode:     encode(req.SourceCode),
		Stdin:          encode(req.Stdin),
		ExpectedOutput: encode(req.ExpectedOutput),
		Base64Encoded:  true,
	}

	var created createSubmissionResponse
	if _, err := c.api.Do(ctx, http.MethodPost, "/submissions?base64_encoded=true&wait=false", 0, body, &created); err != nil {
		return nil, c.classify(ctx, err)
	}
	if created.Token == "" {
		return nil, ErrNoToken
	}

	statusPath := fmt.Sprintf("/submissions/%s?base64_encoded=true&fields=%s",
		url.PathEscape(created.Token), resultFields)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var status submissionStatus
		if _, err := c.api.Do(ctx, http.MethodGet, statusPath, 0, nil, &status); err != nil {
			metrics.JudgePollAttempts.Observe(float64(attempt))
			return nil, c.classify(ctx, err)
		}

		if model.StatusID(status.StatusID).Terminal() {
			metrics.JudgePollAttempts.Observe(float64(attempt))
			return toResult(status, attempt), nil
		}

		c.log.Debug().
			Str("token", created.Token).
			Int("attempt", attempt).
			Int("status_id", status.StatusID).
			Msg("Submission still pending")

		if attempt == c.maxAttempts {
			break
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}

	metrics.JudgePollAttempts.Observe(float64(c.maxAttempts))
	c.log.Warn().Str("token", created.Token).Int("attempts", c.maxAttempts).Msg("Submission polling timed out")
	return nil, ErrTimeout
}

// Languages returns the judge's language list, or FallbackLanguages when the
// judge cannot be reached.
func (c *Client) Languages(ctx context.Context) []model.Language {
	var langs []model.Language
	if _, err := c.api.Do(ctx, http.MethodGet, "/languages/", 0, nil, &langs); err != nil || len(langs) == 0 {
		c.log.Warn().Err(err).Msg("Failed to fetch languages, using fallback list")
		out := make([]model.Language, len(FallbackLanguages))
		copy(out, FallbackLanguages)
		return out
	}
	return langs
}

func (c *Client) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, apiclient.ErrUnavailable) {
		return ctxErr
	}
	var httpErr *apiclient.HTTPError
	if errors.As(err, &httpErr) {
		msg := httpErr.Message
		if msg == "" {
			msg = fmt.Sprintf("judge responded with status %d", httpErr.StatusCode)
		}
		return &ExecutionError{StatusCode: httpErr.StatusCode, Message: msg}
	}
	c.log.Error().Err(err).Msg("Judge request failed")
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

func toResult(s submissionStatus, attempts int) *model.RunResult {
	id := model.StatusID(s.StatusID)
	r := &model.RunResult{
		StatusID:      id,
		Status:        id.String(),
		LanguageID:    s.LanguageID,
		Stdout:        decode(s.Stdout),
		Stderr:        decode(s.Stderr),
		CompileOutput: decode(s.CompileOutput),
		Attempts:      attempts,
	}
	if s.Time != nil {
		r.Time = *s.Time
	}
	if s.Memory != nil {
		r.Memory = *s.Memory
	}
	return r
}

func runOutcome(r *model.RunResult, err error) string {
	switch {
	case err == nil && r != nil:
		return strings.ToLower(strings.ReplaceAll(r.Status, " ", "_"))
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNoToken):
		return "no_token"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decode reverses the judge's base64 encoding. The judge wraps long output
// with newlines; values that are not valid base64 are returned unchanged.
func decode(s *string) string {
	if s == nil {
		return ""
	}
	raw := strings.NewReplacer("\n", "", "\r", "").Replace(*s)
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return *s
	}
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
