package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// QuestionStatusKey returns the storage key for an assessment's per-problem state
func (r *CacheKeyStruct) QuestionStatusKey(assessmentID int) string {
	return fmt.Sprintf("assess:%d:question_status", assessmentID)
}

// TimerKey returns the storage key for an assessment's countdown
func (r *CacheKeyStruct) TimerKey(assessmentID int) string {
	return fmt.Sprintf("assess:%d:timer", assessmentID)
}

// ViolationCountKey returns the storage key for an assessment's proctoring counter
func (r *CacheKeyStruct) ViolationCountKey(assessmentID int) string {
	return fmt.Sprintf("assess:%d:violations", assessmentID)
}

// ViolationLogKey returns the storage key for an assessment's violation audit trail
func (r *CacheKeyStruct) ViolationLogKey(assessmentID int) string {
	return fmt.Sprintf("assess:%d:violation_log", assessmentID)
}

var CacheKey = NewCacheKeyStruct()

type WorkerKeyStruct struct {
	StatusSyncQueue string
}

var WorkerKey = &WorkerKeyStruct{
	StatusSyncQueue: "status_sync_queue",
}
