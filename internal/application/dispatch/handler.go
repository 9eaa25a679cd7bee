// Package dispatch binds pulled queue items to adapter calls. The handler is
// the only writer of in-flight destination state; every transition goes
// through the store's conditional update, and losing that update means
// another worker owns the destination.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/courierhq/courier/internal/adapters"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/metrics"
)

type Handler struct {
	store       Store
	tokens      TokenStore
	registry    *adapters.Registry
	scheduler   *RetryScheduler
	clock       Clock
	sendTimeout time.Duration
	maxAttempts int
}

func NewHandler(
	store Store,
	tokens TokenStore,
	registry *adapters.Registry,
	scheduler *RetryScheduler,
	clock Clock,
	sendTimeout time.Duration,
	maxAttempts int,
) *Handler {
	return &Handler{
		store:       store,
		tokens:      tokens,
		registry:    registry,
		scheduler:   scheduler,
		clock:       clock,
		sendTimeout: sendTimeout,
		maxAttempts: maxAttempts,
	}
}

// Handle drives one delivery attempt for one destination. A nil return acks
// the queue handle; a non-nil return leaves it for redelivery. Adapter
// failures never propagate: they become destination state and attempt
// records.
func (h *Handler) Handle(ctx context.Context, item domain.QueueItem) error {
	log := zlog.With().
		Str("message_id", item.MessageID.String()).
		Str("destination_id", item.DestinationID.String()).
		Str("platform", string(item.Platform)).
		Logger()

	dest, err := h.store.GetDestination(ctx, item.DestinationID)
	if err != nil {
		if isNotFound(err) {
			log.Error().Msg("queue item references unknown destination")
			return nil
		}
		return err
	}

	// Redelivery after a terminal transition is a no-op.
	if dest.Status.Terminal() {
		log.Debug().Str("status", string(dest.Status)).Msg("destination already terminal, skipping")
		return nil
	}

	msg, _, err := h.store.GetMessage(ctx, dest.MessageID)
	if err != nil {
		if isNotFound(err) {
			log.Error().Msg("destination references unknown message")
			return nil
		}
		return err
	}

	requestedBy := item.RequestedBy
	if !requestedBy.Valid() {
		requestedBy = domain.RequestedBySystem
	}
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = h.maxAttempts
	}

	token, err := h.tokens.FindActiveToken(ctx, msg.UserID, dest.Platform)
	if err != nil {
		var ae *domain.AppError
		if errors.As(err, &ae) && ae.Code == domain.CodeNoActiveToken {
			return h.failWithoutSend(ctx, dest, "no active token", requestedBy)
		}
		return err
	}

	adapter, ok := h.registry.Get(dest.Platform)
	if !ok {
		return h.failWithoutSend(ctx, dest, "no adapter registered", requestedBy)
	}

	now := h.clock.Now()
	attemptNo, err := dest.BeginAttempt(now)
	if err != nil {
		// Lost a race with a terminal transition.
		return nil
	}
	if err := h.store.UpdateDestination(ctx, dest); err != nil {
		if isConflict(err) {
			log.Debug().Msg("destination owned by another worker, acking")
			return nil
		}
		return err
	}
	if err := h.store.LogAttempt(ctx, domain.NewAttempt(dest, attemptNo, domain.StatusInFlight, "", requestedBy, now)); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	start := h.clock.Now()
	ack, sendErr := adapter.Send(sendCtx, token.AccessToken, dest.ChatID, msg.Payload)
	cancel()
	elapsed := h.clock.Now().Sub(start)

	if sendErr == nil {
		metrics.RecordSend(string(dest.Platform), "sent", elapsed)
		return h.finishSent(ctx, dest, attemptNo, ack, requestedBy, log)
	}
	return h.finishFailed(ctx, dest, attemptNo, sendErr, maxAttempts, requestedBy, elapsed, log)
}

func (h *Handler) finishSent(ctx context.Context, dest *domain.Destination, attemptNo int, ack adapters.SentAck, by domain.RequestedBy, log zerolog.Logger) error {
	now := h.clock.Now()
	if err := dest.MarkSent(now); err != nil {
		return nil
	}
	if err := h.store.UpdateDestination(ctx, dest); err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	if err := h.store.LogAttempt(ctx, domain.NewAttempt(dest, attemptNo, domain.StatusSent, "", by, now)); err != nil {
		return err
	}
	log.Info().
		Int("attempt", attemptNo).
		Str("platform_message_id", ack.PlatformMessageID).
		Msg("message delivered")
	return nil
}

func (h *Handler) finishFailed(ctx context.Context, dest *domain.Destination, attemptNo int, sendErr error, maxAttempts int, by domain.RequestedBy, elapsed time.Duration, log zerolog.Logger) error {
	kind, retryable := adapters.Classify(sendErr)
	// Unknown failures get one retry; after that they are terminal.
	if kind == adapters.ErrUnknown && dest.AttemptCount >= 2 {
		retryable = false
	}
	metrics.RecordSend(string(dest.Platform), string(kind), elapsed)

	reason := sendErr.Error()
	now := h.clock.Now()

	if retryable && dest.AttemptCount < maxAttempts {
		if err := dest.MarkRetrying(reason); err != nil {
			return nil
		}
		if err := h.store.UpdateDestination(ctx, dest); err != nil {
			if isConflict(err) {
				return nil
			}
			return err
		}
		if err := h.store.LogAttempt(ctx, domain.NewAttempt(dest, attemptNo, domain.StatusRetrying, reason, by, now)); err != nil {
			return err
		}
		var minDelay time.Duration
		if se, ok := sendErr.(*adapters.SendError); ok {
			minDelay = se.RetryAfter
		}
		if err := h.scheduler.Schedule(ctx, dest, maxAttempts, minDelay); err != nil {
			// Destination stays Retrying; the sweeper will republish once
			// the backoff window elapses.
			log.Warn().Err(err).Msg("delayed republish failed, leaving to sweeper")
		}
		log.Warn().
			Int("attempt", attemptNo).
			Str("error_kind", string(kind)).
			Msg("delivery failed, retry scheduled")
		return nil
	}

	if err := dest.MarkFailed(reason); err != nil {
		return nil
	}
	if err := h.store.UpdateDestination(ctx, dest); err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	if err := h.store.LogAttempt(ctx, domain.NewAttempt(dest, attemptNo, domain.StatusFailed, reason, by, now)); err != nil {
		return err
	}
	log.Error().
		Int("attempt", attemptNo).
		Str("error_kind", string(kind)).
		Msg("delivery failed terminally")
	return nil
}

// failWithoutSend marks a destination failed before any adapter call, e.g.
// when its owner has no usable credential. One attempt record is appended so
// the failure shows in history.
func (h *Handler) failWithoutSend(ctx context.Context, dest *domain.Destination, reason string, by domain.RequestedBy) error {
	now := h.clock.Now()
	attemptNo, err := dest.BeginAttempt(now)
	if err != nil {
		return nil
	}
	if err := dest.MarkFailed(reason); err != nil {
		return nil
	}
	if err := h.store.UpdateDestination(ctx, dest); err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	return h.store.LogAttempt(ctx, domain.NewAttempt(dest, attemptNo, domain.StatusFailed, reason, by, now))
}

func isNotFound(err error) bool {
	var ae *domain.AppError
	return errors.As(err, &ae) && ae.Code == domain.CodeNotFound
}

func isConflict(err error) bool {
	var ae *domain.AppError
	return errors.As(err, &ae) && ae.Code == domain.CodeConflict
}
