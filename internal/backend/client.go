// Package backend is the client of the assessment backend: it loads the
// assessment by link, syncs its status and scores full submissions.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/apiclient"
	"github.com/stemsi/exstem-assess/internal/metrics"
	"github.com/stemsi/exstem-assess/internal/model"
)

var (
	ErrNotFound           = errors.New("assessment not found. please check your link")
	ErrLoadFailed         = errors.New("failed to load assessment. please try again")
	ErrSubmissionFailed   = errors.New("failed to submit solution. please try again")
	ErrServiceUnavailable = errors.New("submission service is unavailable")
)

// SubmissionError carries the scoring service's own message.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string { return e.Message }

func (e *SubmissionError) Unwrap() error { return ErrSubmissionFailed }

// Client talks to the assessment backend.
type Client struct {
	api           *apiclient.Client
	submitTimeout time.Duration
	log           zerolog.Logger
}

// NewClient creates a backend client. timeout applies to every call except
// submissions, which run the hidden suite server-side and get submitTimeout.
func NewClient(baseURL string, timeout, submitTimeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		api:           apiclient.New(baseURL, timeout),
		submitTimeout: submitTimeout,
		log:           log.With().Str("component", "backend_client").Logger(),
	}
}

// GetAssessment loads the assessment addressed by a candidate link id.
func (c *Client) GetAssessment(ctx context.Context, linkID string) (*model.Assessment, error) {
	var a model.Assessment
	_, err := c.api.Do(ctx, http.MethodGet, "/api/assessment/"+url.PathEscape(linkID), 0, nil, &a)
	if err != nil {
		var httpErr *apiclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		c.log.Error().Err(err).Str("link_id", linkID).Msg("Failed to load assessment")
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	if a.UniqueLinkID == "" {
		a.UniqueLinkID = linkID
	}
	return &a, nil
}

// UpdateStatus patches the remote assessment status. Callers decide whether
// a failure matters; background bookkeeping swallows it.
func (c *Client) UpdateStatus(ctx context.Context, assessmentID int, status model.AssessmentStatus) error {
	path := fmt.Sprintf("/api/assessment/status/%d", assessmentID)
	if _, err := c.api.Do(ctx, http.MethodPatch, path, 0, model.UpdateStatusRequest{Status: status}, nil); err != nil {
		return fmt.Errorf("update assessment %d status to %s: %w", assessmentID, status, err)
	}
	return nil
}

// SubmitSolution runs the full hidden test suite for one problem.
func (c *Client) SubmitSolution(ctx context.Context, req model.SubmissionRequest) (*model.SubmissionResult, error) {
	var resp model.SubmissionResponse
	_, err := c.api.Do(ctx, http.MethodPost, "/api/assessment/submissions/", c.submitTimeout, req, &resp)
	if err != nil {
		var httpErr *apiclient.HTTPError
		if errors.As(err, &httpErr) {
			msg := httpErr.Message
			if msg == "" {
				msg = "Failed to submit solution. Please try again."
			}
			c.log.Warn().
				Int("status", httpErr.StatusCode).
				Int("problem_id", req.ProblemID).
				Str("message", msg).
				Msg("Submission rejected")
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			return nil, &SubmissionError{StatusCode: httpErr.StatusCode, Message: msg}
		}
		c.log.Error().Err(err).Int("problem_id", req.ProblemID).Msg("Submission request failed")
		metrics.SubmissionsTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	result := resp.Message
	metrics.SubmissionsTotal.WithLabelValues(result.OverallStatus).Inc()
	c.log.Info().
		Int("assessment_id", req.AssessmentID).
		Int("problem_id", req.ProblemID).
		Int("passed", result.PassedTestCases).
		Int("total", result.TotalTestCases).
		Str("overall_status", result.OverallStatus).
		Msg("Submission scored")
	return &result, nil
}
