package messaging

import (
	"context"
	"math/rand"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/metrics"
)

const (
	sweepBatch         = 100
	stalePendingWindow = 5 * time.Minute
)

// Sweeper is the recovery loop behind at-least-once delivery. Each pass it
// promotes due delayed items to the live queue, republishes retrying
// destinations whose backoff has elapsed, and re-enqueues destinations that
// were persisted but never published.
type Sweeper struct {
	store       Store
	queue       Queue
	delayed     DelayedQueue
	clock       Clock
	interval    time.Duration
	baseDelay   time.Duration
	doublingCap int
	maxAttempts int
}

func NewSweeper(store Store, queue Queue, delayed DelayedQueue, clock Clock, interval, baseDelay time.Duration, doublingCap, maxAttempts int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:       store,
		queue:       queue,
		delayed:     delayed,
		clock:       clock,
		interval:    interval,
		baseDelay:   baseDelay,
		doublingCap: doublingCap,
		maxAttempts: maxAttempts,
	}
}

// Run blocks until ctx is cancelled. An initial jitter sleep spreads passes
// across replicas.
func (s *Sweeper) Run(ctx context.Context) {
	log := zlog.With().Str("component", "sweeper").Logger()
	log.Info().Dur("interval", s.interval).Msg("sweeper started")

	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rand.Int63n(int64(s.interval)))):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	s.promoteDelayed(ctx)
	s.republishDueRetries(ctx)
	s.republishStalePending(ctx)
}

// promoteDelayed moves due parked items onto the live queue. A claimed item
// that cannot be published is parked again so it is not lost.
func (s *Sweeper) promoteDelayed(ctx context.Context) {
	now := s.clock.Now()
	for _, platform := range domain.Platforms() {
		items, err := s.delayed.ClaimDue(ctx, platform, now, sweepBatch)
		if err != nil {
			zlog.Warn().Err(err).Str("platform", string(platform)).Msg("delayed claim failed")
			continue
		}
		for _, item := range items {
			if err := s.queue.Publish(ctx, item); err != nil {
				zlog.Warn().Err(err).
					Str("destination_id", item.DestinationID.String()).
					Msg("promote failed, re-parking item")
				if parkErr := s.delayed.PublishDelayed(ctx, item, now.Add(s.interval)); parkErr != nil {
					zlog.Error().Err(parkErr).
						Str("destination_id", item.DestinationID.String()).
						Msg("re-park failed, item dropped until retry sweep")
				}
				continue
			}
			metrics.RecordSweeperRecovered("delayed")
		}
	}
}

// republishDueRetries covers destinations stuck in Retrying because their
// delayed publish was lost. The store query applies the same backoff formula
// the scheduler uses, so nothing is republished early.
func (s *Sweeper) republishDueRetries(ctx context.Context) {
	dests, err := s.store.FindPendingRetries(ctx, s.baseDelay, s.doublingCap, sweepBatch)
	if err != nil {
		zlog.Warn().Err(err).Msg("pending retry query failed")
		return
	}
	for _, d := range dests {
		if err := s.publishFor(ctx, d); err != nil {
			zlog.Warn().Err(err).
				Str("destination_id", d.ID.String()).
				Msg("retry republish failed")
			continue
		}
		metrics.RecordSweeperRecovered("retrying")
	}
}

// republishStalePending covers destinations persisted by a send whose
// publish step died before reaching the broker.
func (s *Sweeper) republishStalePending(ctx context.Context) {
	cutoff := s.clock.Now().Add(-stalePendingWindow)
	dests, err := s.store.FindStalePending(ctx, cutoff, sweepBatch)
	if err != nil {
		zlog.Warn().Err(err).Msg("stale pending query failed")
		return
	}
	for _, d := range dests {
		if err := s.publishFor(ctx, d); err != nil {
			zlog.Warn().Err(err).
				Str("destination_id", d.ID.String()).
				Msg("stale pending republish failed")
			continue
		}
		if err := d.MarkQueued(); err == nil {
			if err := s.store.UpdateDestination(ctx, d); err != nil {
				zlog.Warn().Err(err).
					Str("destination_id", d.ID.String()).
					Msg("could not record queued transition")
			}
		}
		metrics.RecordSweeperRecovered("pending")
	}
}

func (s *Sweeper) publishFor(ctx context.Context, d *domain.Destination) error {
	item := domain.QueueItem{
		MessageID:     d.MessageID,
		DestinationID: d.ID,
		Platform:      d.Platform,
		AttemptNumber: d.AttemptCount + 1,
		MaxAttempts:   s.maxAttempts,
		RequestedBy:   domain.RequestedBySystem,
	}
	return s.queue.Publish(ctx, item)
}
