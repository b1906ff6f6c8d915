package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer      Action = "answer"
	ActionNavigate    Action = "navigate"
	ActionFlag        Action = "flag"
	ActionSubmit      Action = "submit"
	ActionRetrySubmit Action = "retry_submit"
	ActionStatus      Action = "status"
	ActionPing        Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records or toggles one option.
type AnswerRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id"`
	Toggle     bool   `json:"toggle"`
}

// IndexRequest carries the question index for navigate and flag.
type IndexRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventStatus       Event = "status"
	EventNotification Event = "notification"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// StatusResponse carries the session read model after an action.
type StatusResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Status any    `json:"status"`
}

// NotificationResponse relays a runtime notification as published.
type NotificationResponse struct {
	Event        Event           `json:"event"`
	Notification json.RawMessage `json:"notification"`
}

type ErrorResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
