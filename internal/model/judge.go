package model

// StatusID is the numeric verdict code reported by the judge.
type StatusID int

const (
	StatusInQueue           StatusID = 1
	StatusProcessing        StatusID = 2
	StatusAccepted          StatusID = 3
	StatusWrongAnswer       StatusID = 4
	StatusTimeLimitExceeded StatusID = 5
	StatusCompilationError  StatusID = 6
	StatusRuntimeError      StatusID = 7
	StatusInternalError     StatusID = 13
	StatusExecFormatError   StatusID = 14
)

// Terminal reports whether the judge has finished with the submission.
func (s StatusID) Terminal() bool {
	return s >= StatusAccepted
}

func (s StatusID) String() string {
	switch {
	case s == StatusAccepted:
		return "Accepted"
	case s == StatusWrongAnswer:
		return "Wrong Answer"
	case s == StatusTimeLimitExceeded:
		return "Time Limit Exceeded"
	case s == StatusCompilationError:
		return "Compilation Error"
	case s >= StatusRuntimeError && s < StatusInternalError:
		return "Runtime Error"
	case s == StatusInternalError:
		return "Internal Error"
	case s == StatusExecFormatError:
		return "Exec Format Error"
	default:
		return "Processing"
	}
}

// Language is a judge-supported language.
type Language struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RunRequest carries one sample-test execution.
type RunRequest struct {
	LanguageID     int    `json:"language_id"`
	SourceCode     string `json:"source_code"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

// RunResult is the terminal judge result for a run.
type RunResult struct {
	StatusID      StatusID `json:"status_id"`
	Status        string   `json:"status"`
	LanguageID    int      `json:"language_id,omitempty"`
	Stdout        string   `json:"stdout,omitempty"`
	Stderr        string   `json:"stderr,omitempty"`
	CompileOutput string   `json:"compile_output,omitempty"`
	Time          string   `json:"time,omitempty"`
	Memory        int64    `json:"memory,omitempty"`
	Attempts      int      `json:"attempts"`
}

// Passed reports whether the sample test was accepted.
func (r *RunResult) Passed() bool {
	return r != nil && r.StatusID == StatusAccepted
}

// SubmissionRequest is sent to the scoring collaborator.
type SubmissionRequest struct {
	AssessmentID int    `json:"assessment_id"`
	ProblemID    int    `json:"problem_id"`
	LanguageID   int    `json:"language_id"`
	SourceCode   string `json:"source_code"`
}

// OverallAccepted is the overall status string of a fully passing submission.
const OverallAccepted = "Accepted"

// SubmissionResult is the aggregate outcome of the hidden test suite.
type SubmissionResult struct {
	Message         string `json:"message"`
	TotalTestCases  int    `json:"total_test_cases"`
	PassedTestCases int    `json:"passed_test_cases"`
	OverallStatus   string `json:"overall_status"`
}

// Accepted reports whether every hidden test passed.
func (r *SubmissionResult) Accepted() bool {
	return r != nil && r.OverallStatus == OverallAccepted
}

// SubmissionResponse is the envelope returned by the scoring collaborator.
type SubmissionResponse struct {
	Message SubmissionResult `json:"message"`
}
