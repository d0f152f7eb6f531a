package model

import "time"

// ViolationKind names a proctoring trigger.
type ViolationKind string

const (
	ViolationVisibilityHidden ViolationKind = "visibility_hidden"
	ViolationFullscreenExit   ViolationKind = "fullscreen_exit"
	ViolationBlockedKey       ViolationKind = "blocked_key"
)

// Valid reports whether k is a known violation kind.
func (k ViolationKind) Valid() bool {
	switch k {
	case ViolationVisibilityHidden, ViolationFullscreenExit, ViolationBlockedKey:
		return true
	}
	return false
}

// KeyCombo is a keydown observed by the UI.
type KeyCombo struct {
	Key   string `json:"key" binding:"required,max=32"`
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Meta  bool   `json:"meta"`
}

// Violation is one entry of the per-assessment audit trail.
type Violation struct {
	Kind  ViolationKind `json:"kind"`
	Key   string        `json:"key,omitempty"`
	Count int           `json:"count"`
	At    time.Time     `json:"at"`
}

// Verdict is the monitor's decision after recording a violation.
type Verdict struct {
	Count      int  `json:"count"`
	Limit      int  `json:"limit"`
	Warn       bool `json:"warn"`
	Terminated bool `json:"terminated"`
}

// ReportViolationRequest is posted by the UI for visibility and fullscreen
// events.
type ReportViolationRequest struct {
	Kind ViolationKind `json:"kind" binding:"required,oneof=visibility_hidden fullscreen_exit blocked_key"`
}

// KeyVerdict tells the UI whether to swallow a key and what it cost.
type KeyVerdict struct {
	Blocked bool     `json:"blocked"`
	Verdict *Verdict `json:"verdict,omitempty"`
}
