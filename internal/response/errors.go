package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation      ErrCode = "VALIDATION_ERROR"
	ErrInvalidID       ErrCode = "INVALID_ID"
	ErrInvalidPayload  ErrCode = "INVALID_PAYLOAD"
	ErrInvalidQuestion ErrCode = "INVALID_QUESTION"

	// ─── Assessment ────────────────────────────────────────────────────
	ErrNotFound          ErrCode = "NOT_FOUND"
	ErrLoadFailed        ErrCode = "LOAD_FAILED"
	ErrNotInProgress     ErrCode = "NOT_IN_PROGRESS"
	ErrInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrStartFailed       ErrCode = "START_FAILED"
	ErrResetFailed       ErrCode = "RESET_FAILED"

	// ─── Run & Submit ──────────────────────────────────────────────────
	ErrEmptyCode          ErrCode = "EMPTY_CODE"
	ErrNotConfirmed       ErrCode = "NOT_CONFIRMED"
	ErrActionInFlight     ErrCode = "ACTION_IN_FLIGHT"
	ErrExecutionFailed    ErrCode = "EXECUTION_FAILED"
	ErrNoToken            ErrCode = "NO_TOKEN"
	ErrTimeout            ErrCode = "TIMEOUT"
	ErrSubmissionFailed   ErrCode = "SUBMISSION_FAILED"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid assessment link."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidQuestion:
		return "Question does not exist."

	// ─── Assessment ────────────────────────────────────────────────────
	case ErrNotFound:
		return "Assessment not found. Please check your link."
	case ErrLoadFailed:
		return "Failed to load assessment. Please try again."
	case ErrNotInProgress:
		return "The assessment is not in progress."
	case ErrInvalidTransition:
		return "This action is not allowed in the current assessment state."
	case ErrStartFailed:
		return "Failed to start assessment. Please try again."
	case ErrResetFailed:
		return "Failed to reset assessment."

	// ─── Run & Submit ──────────────────────────────────────────────────
	case ErrEmptyCode:
		return "Please write some code first."
	case ErrNotConfirmed:
		return "Please confirm your submission."
	case ErrActionInFlight:
		return "A run or submission is already in progress for this question."
	case ErrExecutionFailed:
		return "Failed to execute code."
	case ErrNoToken:
		return "No submission token received."
	case ErrTimeout:
		return "Submission processing timeout."
	case ErrSubmissionFailed:
		return "Failed to submit solution. Please try again."
	case ErrServiceUnavailable:
		return "The code execution service is unavailable. Please try again."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
