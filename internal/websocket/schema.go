package websocket

import "github.com/stemsi/exstem-assess/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionViolation Action = "violation"
	ActionKey       Action = "key"
	ActionDismiss   Action = "dismiss"
	ActionPing      Action = "ping"
)

// RequestPayload is every message a client may send; fields irrelevant to
// the action are ignored.
type RequestPayload struct {
	Action Action              `json:"action"`
	Kind   model.ViolationKind `json:"kind,omitempty"`
	Key    *model.KeyCombo     `json:"key,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────
// Session events (tick, warning, completed, status) are sent as
// model.SessionEvent; the events below answer client actions.

type Event string

const (
	EventError     Event = "error"
	EventPong      Event = "pong"
	EventSnapshot  Event = "snapshot"
	EventVerdict   Event = "verdict"
	EventKey       Event = "key"
	EventDismissed Event = "dismissed"
)

type SnapshotResponse struct {
	Event   Event             `json:"event"`
	Session model.SessionView `json:"session"`
}

type VerdictResponse struct {
	Event   Event         `json:"event"`
	Verdict model.Verdict `json:"verdict"`
}

type KeyResponse struct {
	Event Event            `json:"event"`
	Key   model.KeyVerdict `json:"key"`
}

type DismissedResponse struct {
	Event       Event  `json:"event"`
	Instruction string `json:"instruction"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
