package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/domain"
)

type Store interface {
	GetDestination(ctx context.Context, id uuid.UUID) (*domain.Destination, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, []*domain.Destination, error)
	UpdateDestination(ctx context.Context, d *domain.Destination) error
	LogAttempt(ctx context.Context, a domain.Attempt) error
}

type TokenStore interface {
	FindActiveToken(ctx context.Context, userID uuid.UUID, platform domain.Platform) (*domain.PlatformToken, error)
}

type DelayedQueue interface {
	PublishDelayed(ctx context.Context, item domain.QueueItem, scheduledAt time.Time) error
}

type Clock interface{ Now() time.Time }
