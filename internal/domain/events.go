package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueItem is the wire record published per destination. It is the only
// payload the broker carries; everything else is loaded from the store at
// dispatch time.
type QueueItem struct {
	MessageID     uuid.UUID   `json:"message_id"`
	DestinationID uuid.UUID   `json:"destination_id"`
	Platform      Platform    `json:"platform"`
	AttemptNumber int         `json:"attempt_number"`
	MaxAttempts   int         `json:"max_attempts"`
	RequestedBy   RequestedBy `json:"requested_by"`
	ScheduledAt   *time.Time  `json:"scheduled_at,omitempty"`
}

// MessageCreated marks that a message and its destinations were persisted.
type MessageCreated struct {
	MessageID    uuid.UUID
	Destinations []DestinationInput
	OccurredAt   time.Time
}

// MessageQueued marks that one destination is due for publication.
type MessageQueued struct {
	MessageID     uuid.UUID
	DestinationID uuid.UUID
	Platform      Platform
	OccurredAt    time.Time
}
