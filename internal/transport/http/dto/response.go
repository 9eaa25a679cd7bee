package dto

import "time"

type DestinationAckResp struct {
	DestinationID string `json:"destination_id"`
	Platform      string `json:"platform"`
	ChatID        string `json:"chat_id"`
}

type SendResp struct {
	MessageID    string               `json:"message_id"`
	Destinations []DestinationAckResp `json:"destinations"`
}

type DestinationResp struct {
	ID            string     `json:"id"`
	Platform      string     `json:"platform"`
	ChatID        string     `json:"chat_id"`
	Status        string     `json:"status"`
	StatusReason  string     `json:"status_reason,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type MessageResp struct {
	ID           string            `json:"id"`
	Payload      PayloadResp       `json:"payload"`
	Destinations []DestinationResp `json:"destinations"`
	CreatedAt    time.Time         `json:"created_at"`
}

type PayloadResp struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Format string `json:"format,omitempty"`
}

type MessagePageResp struct {
	Items      []MessageResp `json:"items"`
	HasMore    bool          `json:"has_more"`
	NextOffset int           `json:"next_offset,omitempty"`
}

type AttemptResp struct {
	ID            string    `json:"id"`
	DestinationID string    `json:"destination_id"`
	AttemptNumber int       `json:"attempt_number"`
	Status        string    `json:"status"`
	StatusReason  string    `json:"status_reason,omitempty"`
	RequestedBy   string    `json:"requested_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type RetryResp struct {
	MessageID    string   `json:"message_id"`
	Destinations []string `json:"destinations"`
}

type TokenResp struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
