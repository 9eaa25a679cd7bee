package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attempt is one row of the append-only delivery log. Each adapter call
// produces two rows sharing an attempt number: one at entry (InFlight) and
// one with the outcome.
type Attempt struct {
	ID            uuid.UUID
	MessageID     uuid.UUID
	DestinationID uuid.UUID
	AttemptNumber int
	Status        DeliveryStatus
	StatusReason  string
	RequestedBy   RequestedBy
	CreatedAt     time.Time
}

func NewAttempt(dest *Destination, number int, status DeliveryStatus, reason string, by RequestedBy, now time.Time) Attempt {
	return Attempt{
		ID:            uuid.New(),
		MessageID:     dest.MessageID,
		DestinationID: dest.ID,
		AttemptNumber: number,
		Status:        status,
		StatusReason:  reason,
		RequestedBy:   by,
		CreatedAt:     now.UTC(),
	}
}
