package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/metrics"
)

const jitterFraction = 0.1

// RetryScheduler turns a retrying destination into a delayed republish.
// The delay definition is shared with the store's retry query through
// domain.RetryDelay.
type RetryScheduler struct {
	delayed     DelayedQueue
	clock       Clock
	baseDelay   time.Duration
	doublingCap int
	maxAttempts int
}

func NewRetryScheduler(delayed DelayedQueue, clock Clock, baseDelay time.Duration, doublingCap, maxAttempts int) *RetryScheduler {
	return &RetryScheduler{
		delayed:     delayed,
		clock:       clock,
		baseDelay:   baseDelay,
		doublingCap: doublingCap,
		maxAttempts: maxAttempts,
	}
}

// Delay computes the backoff after the destination's completed attempts,
// never shorter than the platform's retry-after hint.
func (s *RetryScheduler) Delay(attempts int, minDelay time.Duration) time.Duration {
	delay := domain.RetryDelay(attempts, s.baseDelay, s.doublingCap)
	if minDelay > delay {
		delay = minDelay
	}
	return delay
}

// Schedule parks the next attempt for the destination. Jitter of ±10% keeps
// a burst of failures from re-arriving in lockstep.
func (s *RetryScheduler) Schedule(ctx context.Context, dest *domain.Destination, maxAttempts int, minDelay time.Duration) error {
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	delay := s.Delay(dest.AttemptCount, minDelay)
	jittered := time.Duration(float64(delay) * (1 + (rand.Float64()*2-1)*jitterFraction))
	scheduledAt := s.clock.Now().Add(jittered)

	item := domain.QueueItem{
		MessageID:     dest.MessageID,
		DestinationID: dest.ID,
		Platform:      dest.Platform,
		AttemptNumber: dest.AttemptCount + 1,
		MaxAttempts:   maxAttempts,
		RequestedBy:   domain.RequestedBySystem,
	}
	if err := s.delayed.PublishDelayed(ctx, item, scheduledAt); err != nil {
		return err
	}
	metrics.RecordRetryScheduled(string(dest.Platform))
	return nil
}
