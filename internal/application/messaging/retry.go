package messaging

import (
	"context"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/courierhq/courier/internal/domain"
)

type RetryResult struct {
	MessageID    uuid.UUID
	Destinations []uuid.UUID
}

// RetryMessage re-enqueues every failed destination of the message.
// Non-terminal destinations are untouched; a message with nothing to retry
// is an invalid_state error.
func (s *Service) RetryMessage(ctx context.Context, messageID, userID uuid.UUID) (RetryResult, error) {
	msg, dests, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return RetryResult{}, err
	}
	if msg.UserID != userID {
		return RetryResult{}, domain.ErrForbidden("message belongs to another user")
	}

	var retried []uuid.UUID
	for _, d := range dests {
		if d.Status != domain.StatusFailed {
			continue
		}
		if err := s.retryDestination(ctx, d); err != nil {
			return RetryResult{}, err
		}
		retried = append(retried, d.ID)
	}
	if len(retried) == 0 {
		return RetryResult{}, domain.ErrInvalidState("message has no destination eligible for retry")
	}
	return RetryResult{MessageID: messageID, Destinations: retried}, nil
}

// RetryDestination re-enqueues a single destination. Only a failed
// destination is eligible; sent and cancelled ones stay terminal.
func (s *Service) RetryDestination(ctx context.Context, messageID, destinationID, userID uuid.UUID) (RetryResult, error) {
	msg, _, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return RetryResult{}, err
	}
	if msg.UserID != userID {
		return RetryResult{}, domain.ErrForbidden("message belongs to another user")
	}

	dest, err := s.store.GetDestination(ctx, destinationID)
	if err != nil {
		return RetryResult{}, err
	}
	if dest.MessageID != messageID {
		return RetryResult{}, domain.ErrNotFound("destination does not belong to message")
	}
	if dest.Status != domain.StatusFailed {
		if dest.Status.Terminal() {
			return RetryResult{}, domain.ErrInvalidState("destination already delivered or cancelled")
		}
		return RetryResult{}, domain.ErrInvalidState("destination is still in progress")
	}

	if err := s.retryDestination(ctx, dest); err != nil {
		return RetryResult{}, err
	}
	return RetryResult{MessageID: messageID, Destinations: []uuid.UUID{dest.ID}}, nil
}

// retryDestination resets a terminal destination and publishes it live. The
// attempt budget is widened so the dispatcher always gets at least one more
// call even when the configured maximum is already spent.
func (s *Service) retryDestination(ctx context.Context, dest *domain.Destination) error {
	if err := dest.ResetForRetry(); err != nil {
		return err
	}
	if err := s.store.UpdateDestination(ctx, dest); err != nil {
		return err
	}

	maxAttempts := s.cfg.MaxAttempts
	if dest.AttemptCount+1 > maxAttempts {
		maxAttempts = dest.AttemptCount + 1
	}
	item := domain.QueueItem{
		MessageID:     dest.MessageID,
		DestinationID: dest.ID,
		Platform:      dest.Platform,
		AttemptNumber: dest.AttemptCount + 1,
		MaxAttempts:   maxAttempts,
		RequestedBy:   domain.RequestedByUser,
	}
	if err := s.queue.Publish(ctx, item); err != nil {
		// The destination is already Pending, so the sweeper republishes it
		// if we fail here.
		zlog.Warn().Err(err).
			Str("destination_id", dest.ID.String()).
			Msg("manual retry publish failed, destination left pending")
		return nil
	}
	if err := s.markQueued(ctx, dest); err != nil {
		zlog.Warn().Err(err).
			Str("destination_id", dest.ID.String()).
			Msg("could not record queued transition")
	}
	return nil
}
