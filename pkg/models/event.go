package models

// EventType names a system event.
type EventType string

// System event types.
const (
	EventUserRegistered EventType = "user_registered"
	EventAnswerCreated  EventType = "answer_created"
	EventIndexRequested EventType = "index_requested"
	EventIndexCompleted EventType = "index_completed"
	EventIndexFailed    EventType = "index_failed"
	EventIndexDeleted   EventType = "index_deleted"
)

// SystemEvent is an analytics/observability record. Payload always carries
// "env" plus free-form correlation fields.
type SystemEvent struct {
	Type     EventType      `json:"type"`
	EntityID string         `json:"entityId,omitempty"`
	Payload  map[string]any `json:"payload"`
}
