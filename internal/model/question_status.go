package model

// AttemptStatus tracks a candidate's progress on a single problem.
type AttemptStatus string

const (
	AttemptNotAttempted AttemptStatus = "not-attempted"
	AttemptAttempted    AttemptStatus = "attempted"
	AttemptCompleted    AttemptStatus = "completed"
)

// QuestionStatus is the per-problem working state mirrored to storage.
type QuestionStatus struct {
	Status     AttemptStatus `json:"status"`
	Code       string        `json:"code"`
	LanguageID int           `json:"languageId"`
}

// QuestionStatusPatch is a partial update; nil fields are left untouched.
type QuestionStatusPatch struct {
	Status     *AttemptStatus
	Code       *string
	LanguageID *int
}

// Apply merges the patch into s and returns the result.
func (p QuestionStatusPatch) Apply(s QuestionStatus) QuestionStatus {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Code != nil {
		s.Code = *p.Code
	}
	if p.LanguageID != nil {
		s.LanguageID = *p.LanguageID
	}
	return s
}

// UpdateCodeRequest replaces the code of the current problem.
type UpdateCodeRequest struct {
	Code string `json:"code" binding:"max=262144"`
}

// ChangeLanguageRequest selects the language of the current problem.
type ChangeLanguageRequest struct {
	LanguageID int `json:"language_id" binding:"required,gt=0"`
}

// SubmitCodeRequest carries the confirmation the candidate gave in the modal.
// An unconfirmed submit is refused by the session, not by binding.
type SubmitCodeRequest struct {
	Confirmed bool `json:"confirmed"`
}
