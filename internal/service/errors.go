package service

import (
	"errors"

	"github.com/stemsi/exstem-assess/internal/model"
)

var (
	ErrEmptyCode         = errors.New("code is empty")
	ErrNotConfirmed      = errors.New("submission was not confirmed")
	ErrActionInFlight    = errors.New("a run or submission is already in progress for this question")
	ErrNotInProgress     = errors.New("assessment is not in progress")
	ErrInvalidQuestion   = errors.New("question index is out of range")
	ErrInvalidTransition = errors.New("assessment status does not allow this action")
	ErrSessionClosed     = errors.New("session is closed")
)

// emptyCodeError carries the candidate-facing message for the action that
// was refused.
type emptyCodeError struct {
	action model.ActionKind
}

func (e emptyCodeError) Error() string {
	if e.action == model.ActionSubmit {
		return "Please write some code before submitting."
	}
	return "Please write some code before running."
}

func (e emptyCodeError) Is(target error) bool { return target == ErrEmptyCode }
