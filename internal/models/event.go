package models

import "time"

type EventType string

const (
	EventDisasterCreated   EventType = "disaster.created"
	EventDisasterCompleted EventType = "disaster.completed"
	EventReportCreated     EventType = "report.created"
)

// Event is a domain event emitted after a primary write has committed.
// ActorID is the user whose action produced it and who is excluded from
// notifications; it is empty for machine-originated events.
type Event struct {
	Type       EventType `json:"type"`
	DisasterID string    `json:"disaster_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}
