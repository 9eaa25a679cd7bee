package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the destination state machine:
//
//	Pending -> Queued -> InFlight -> Sent
//	                              -> Retrying -> Queued (delayed)
//	                              -> Failed
//
// Sent, Failed and Cancelled are terminal.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusQueued    DeliveryStatus = "queued"
	StatusInFlight  DeliveryStatus = "in_flight"
	StatusSent      DeliveryStatus = "sent"
	StatusRetrying  DeliveryStatus = "retrying"
	StatusFailed    DeliveryStatus = "failed"
	StatusCancelled DeliveryStatus = "cancelled"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusInFlight, StatusSent, StatusRetrying, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s DeliveryStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Destination is one delivery target of a message. All state-changing writes
// go through the store's conditional update; the transition methods only
// mutate the in-memory copy. UpdatedAt is the concurrency token: it holds the
// value loaded from the store and only the store moves it forward, so a
// conditional update always compares against the loaded row.
type Destination struct {
	ID            uuid.UUID
	MessageID     uuid.UUID
	Platform      Platform
	ChatID        string
	Status        DeliveryStatus
	StatusReason  string
	AttemptCount  int
	LastAttemptAt *time.Time
	SentAt        *time.Time
	UpdatedAt     time.Time
}

// MarkQueued records that the destination's queue event has been published.
func (d *Destination) MarkQueued() error {
	switch d.Status {
	case StatusPending, StatusRetrying:
		d.Status = StatusQueued
		return nil
	}
	return ErrInvalidState("only pending or retrying destination can be queued")
}

// BeginAttempt starts a delivery attempt: the destination goes in flight and
// the attempt counter advances. Returns the 1-based attempt number.
func (d *Destination) BeginAttempt(now time.Time) (int, error) {
	if d.Status.Terminal() {
		return 0, ErrInvalidState("destination already in terminal state")
	}
	t := now.UTC()
	d.Status = StatusInFlight
	d.AttemptCount++
	d.LastAttemptAt = &t
	return d.AttemptCount, nil
}

func (d *Destination) MarkSent(now time.Time) error {
	if d.Status != StatusInFlight {
		return ErrInvalidState("only in-flight destination can be marked sent")
	}
	t := now.UTC()
	d.Status = StatusSent
	d.StatusReason = ""
	d.SentAt = &t
	return nil
}

func (d *Destination) MarkRetrying(reason string) error {
	if d.Status != StatusInFlight {
		return ErrInvalidState("only in-flight destination can be marked retrying")
	}
	d.Status = StatusRetrying
	d.StatusReason = reason
	return nil
}

func (d *Destination) MarkFailed(reason string) error {
	if d.Status == StatusSent || d.Status == StatusCancelled {
		return ErrInvalidState("destination already in terminal state")
	}
	d.Status = StatusFailed
	d.StatusReason = reason
	return nil
}

// Cancel moves the destination to the administrative terminal state.
func (d *Destination) Cancel() error {
	if d.Status.Terminal() {
		return ErrInvalidState("destination already in terminal state")
	}
	d.Status = StatusCancelled
	return nil
}

// ResetForRetry prepares a manual retry: error reason is cleared and the
// destination returns to Pending so the normal enqueue path applies. The
// attempt counter is left alone; the dispatcher advances it when the new
// attempt actually starts.
func (d *Destination) ResetForRetry() error {
	if d.Status == StatusSent || d.Status == StatusCancelled {
		return ErrInvalidState("destination already delivered or cancelled")
	}
	d.Status = StatusPending
	d.StatusReason = ""
	return nil
}
