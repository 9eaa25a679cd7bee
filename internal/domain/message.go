package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxDestinations = 100

// Message is immutable after creation. Its delivery state lives on the
// per-destination records, never on the message itself.
type Message struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Payload   Payload
	CreatedAt time.Time
}

// DestinationInput is one (platform, chat id) pair of a send request.
type DestinationInput struct {
	Platform Platform
	ChatID   string
}

// NewMessage validates the request and builds the message together with its
// destinations, all starting in StatusPending.
func NewMessage(userID uuid.UUID, payload Payload, inputs []DestinationInput, now time.Time) (*Message, []*Destination, error) {
	if userID == uuid.Nil {
		return nil, nil, ErrValidation("user_id is required")
	}
	if len(inputs) == 0 {
		return nil, nil, ErrValidation("at least one destination is required")
	}
	if len(inputs) > MaxDestinations {
		return nil, nil, ErrValidationMeta("too many destinations", map[string]string{
			"max": "100",
		})
	}

	msg := &Message{
		ID:        uuid.New(),
		UserID:    userID,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}

	dests := make([]*Destination, 0, len(inputs))
	for _, in := range inputs {
		if !in.Platform.Valid() {
			return nil, nil, ErrValidationMeta("unknown platform", map[string]string{"platform": string(in.Platform)})
		}
		if strings.TrimSpace(in.ChatID) == "" {
			return nil, nil, ErrValidation("chat_id must not be empty")
		}
		dests = append(dests, &Destination{
			ID:        uuid.New(),
			MessageID: msg.ID,
			Platform:  in.Platform,
			ChatID:    in.ChatID,
			Status:    StatusPending,
			UpdatedAt: now.UTC(),
		})
	}

	return msg, dests, nil
}
