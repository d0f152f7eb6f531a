package model

import "time"

// ActionKind distinguishes the two judge-backed actions.
type ActionKind string

const (
	ActionRun    ActionKind = "run"
	ActionSubmit ActionKind = "submit"
)

// ActionResult is the transient outcome panel for the last run or submit.
// It is cleared whenever the candidate switches problems.
type ActionResult struct {
	Action     ActionKind        `json:"action"`
	Question   int               `json:"question"`
	Run        *RunResult        `json:"run,omitempty"`
	Submission *SubmissionResult `json:"submission,omitempty"`
	Error      string            `json:"error,omitempty"`
	At         time.Time         `json:"at"`
}

// CompletionReason explains why an assessment ended.
type CompletionReason string

const (
	CompletionTimeUp     CompletionReason = "time_up"
	CompletionViolations CompletionReason = "violations"
)

// SessionView is everything the UI needs to render the current screen.
type SessionView struct {
	Screen          Screen                 `json:"screen"`
	Assessment      *Assessment            `json:"assessment"`
	CurrentQuestion int                    `json:"current_question"`
	Questions       map[int]QuestionStatus `json:"questions"`
	Timer           *TimerView             `json:"timer,omitempty"`
	Violations      int                    `json:"violations"`
	ViolationLimit  int                    `json:"violation_limit"`
	LastResult      *ActionResult          `json:"last_result,omitempty"`
	InFlight        map[int]ActionKind     `json:"in_flight,omitempty"`
}

// SessionEventType enumerates stream events pushed to listeners.
type SessionEventType string

const (
	EventTick      SessionEventType = "tick"
	EventWarning   SessionEventType = "warning"
	EventCompleted SessionEventType = "completed"
	EventStatus    SessionEventType = "status"
)

// SessionEvent is a single stream message.
type SessionEvent struct {
	Type    SessionEventType  `json:"event"`
	Timer   *TimerView        `json:"timer,omitempty"`
	Verdict *Verdict          `json:"verdict,omitempty"`
	Status  AssessmentStatus  `json:"status,omitempty"`
	Reason  CompletionReason  `json:"reason,omitempty"`
	Result  *QuestionProgress `json:"question,omitempty"`
}

// QuestionProgress is pushed when a submission changes a question's status.
type QuestionProgress struct {
	Index  int           `json:"index"`
	Status AttemptStatus `json:"status"`
}
