package model

// WarningLevel classifies how close the countdown is to expiry.
type WarningLevel string

const (
	WarningNormal  WarningLevel = "normal"
	WarningWarning WarningLevel = "warning"
	WarningDanger  WarningLevel = "danger"
)

// TimerState is the persisted countdown state. StartTime (epoch millis) is the
// instant TimeLeft was measured, so StartTime+TimeLeft is the deadline.
type TimerState struct {
	TimeLeft  int   `json:"timeLeft"`
	IsActive  bool  `json:"isActive"`
	StartTime int64 `json:"startTime"`
}

// TimerView is the read-only countdown snapshot sent to the UI.
type TimerView struct {
	TimeLeft      int          `json:"time_left"`
	FormattedTime string       `json:"formatted_time"`
	WarningLevel  WarningLevel `json:"warning_level"`
	IsActive      bool         `json:"is_active"`
}
