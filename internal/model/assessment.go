package model

// AssessmentStatus enumerates the lifecycle states of a candidate assessment.
type AssessmentStatus string

const (
	AssessmentStatusNotStarted AssessmentStatus = "not_started"
	AssessmentStatusInProgress AssessmentStatus = "in_progress"
	AssessmentStatusCompleted  AssessmentStatus = "completed"
)

// Screen is the view the UI renders for a given assessment status.
type Screen string

const (
	ScreenIntro     Screen = "intro"
	ScreenWorkspace Screen = "workspace"
	ScreenEnd       Screen = "end"
)

// ScreenFor maps an assessment status onto the screen the candidate sees.
// Unknown statuses fall through to the workspace.
func ScreenFor(status AssessmentStatus) Screen {
	switch status {
	case AssessmentStatusCompleted:
		return ScreenEnd
	case AssessmentStatusNotStarted:
		return ScreenIntro
	default:
		return ScreenWorkspace
	}
}

// Difficulty is the problem difficulty label.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Candidate is the person taking the assessment.
type Candidate struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Contest carries the contest name and its duration in minutes.
type Contest struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"`
}

// SampleTestCase is the single visible test case of a problem.
type SampleTestCase struct {
	InputData      string `json:"input_data"`
	ExpectedOutput string `json:"expected_output"`
}

// Problem is immutable once fetched.
type Problem struct {
	ID               int            `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Difficulty       Difficulty     `json:"nxthyre_diff"`
	TimeLimitSeconds float64        `json:"time_limit_seconds"`
	MemoryLimitBytes int64          `json:"memory_limit_bytes"`
	SampleTestCase   SampleTestCase `json:"sample_test_case"`
}

// Assessment is fetched once by its unique link id.
type Assessment struct {
	ID           int              `json:"id"`
	UniqueLinkID string           `json:"unique_link_id"`
	Status       AssessmentStatus `json:"status"`
	ExpiresAt    string           `json:"expires_at"`
	Candidate    Candidate        `json:"candidate"`
	Contest      Contest          `json:"contest"`
	Problems     []Problem        `json:"problems"`
}

// StartAssessmentRequest is the intro-form payload that moves an assessment
// into progress.
type StartAssessmentRequest struct {
	FullName string `json:"full_name" binding:"required,nonblank,max=120"`
	Email    string `json:"email" binding:"required,email"`
}

// UpdateStatusRequest is the body of the remote status PATCH.
type UpdateStatusRequest struct {
	Status AssessmentStatus `json:"status"`
}

// StatusSyncJob is a status update that failed during completion and waits
// in the sync queue for a retry.
type StatusSyncJob struct {
	AssessmentID int              `json:"assessment_id"`
	Status       AssessmentStatus `json:"status"`
	Attempts     int              `json:"attempts"`
}
