package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/stemsi/exstem-assess/internal/backend"
	"github.com/stemsi/exstem-assess/internal/judge"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
)

// apiError is the HTTP rendering of a domain error.
type apiError struct {
	status  int
	code    response.ErrCode
	message string
}

// classify maps err onto a status and error code. fallback is used for
// errors no sentinel matches, such as a failed remote status update.
func classify(err error, fallback response.ErrCode) apiError {
	var execErr *judge.ExecutionError
	var subErr *backend.SubmissionError

	switch {
	case errors.Is(err, backend.ErrNotFound):
		return apiError{http.StatusNotFound, response.ErrNotFound, ""}
	case errors.Is(err, backend.ErrLoadFailed):
		return apiError{http.StatusBadGateway, response.ErrLoadFailed, ""}

	case errors.Is(err, service.ErrEmptyCode):
		return apiError{http.StatusBadRequest, response.ErrEmptyCode, err.Error()}
	case errors.Is(err, service.ErrNotConfirmed):
		return apiError{http.StatusBadRequest, response.ErrNotConfirmed, ""}
	case errors.Is(err, service.ErrInvalidQuestion):
		return apiError{http.StatusBadRequest, response.ErrInvalidQuestion, ""}
	case errors.Is(err, service.ErrActionInFlight):
		return apiError{http.StatusConflict, response.ErrActionInFlight, ""}
	case errors.Is(err, service.ErrNotInProgress):
		return apiError{http.StatusConflict, response.ErrNotInProgress, ""}
	case errors.Is(err, service.ErrInvalidTransition):
		return apiError{http.StatusConflict, response.ErrInvalidTransition, ""}

	case errors.As(err, &execErr):
		return apiError{http.StatusBadGateway, response.ErrExecutionFailed, execErr.Error()}
	case errors.Is(err, judge.ErrNoToken):
		return apiError{http.StatusBadGateway, response.ErrNoToken, ""}
	case errors.Is(err, judge.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, response.ErrTimeout, ""}
	case errors.As(err, &subErr):
		return apiError{http.StatusBadGateway, response.ErrSubmissionFailed, subErr.Message}
	case errors.Is(err, judge.ErrServiceUnavailable), errors.Is(err, backend.ErrServiceUnavailable):
		return apiError{http.StatusServiceUnavailable, response.ErrServiceUnavailable, ""}
	case errors.Is(err, service.ErrSessionClosed):
		return apiError{http.StatusServiceUnavailable, response.ErrInternal, ""}
	}

	if fallback == "" {
		fallback = response.ErrInternal
	}
	status := http.StatusInternalServerError
	if fallback != response.ErrInternal {
		status = http.StatusBadGateway
	}
	return apiError{status, fallback, ""}
}
