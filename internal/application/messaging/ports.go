package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/domain"
)

type Store interface {
	SaveMessageWithDestinations(ctx context.Context, msg *domain.Message, dests []*domain.Destination) error
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, []*domain.Destination, error)
	GetDestination(ctx context.Context, id uuid.UUID) (*domain.Destination, error)
	UpdateDestination(ctx context.Context, d *domain.Destination) error
	ListMessagesByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Message, bool, error)
	FindPendingRetries(ctx context.Context, baseDelay time.Duration, doublingCap, limit int) ([]*domain.Destination, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Destination, error)
	GetAttempts(ctx context.Context, messageID uuid.UUID) ([]domain.Attempt, error)
}

type TokenStore interface {
	UpsertToken(ctx context.Context, token *domain.PlatformToken) error
	FindActiveToken(ctx context.Context, userID uuid.UUID, platform domain.Platform) (*domain.PlatformToken, error)
	ListTokensByUser(ctx context.Context, userID uuid.UUID) ([]*domain.PlatformToken, error)
}

// Queue is the live publish side of the work queue.
type Queue interface {
	Publish(ctx context.Context, item domain.QueueItem) error
}

// DelayedQueue is the parking lot for future republishes.
type DelayedQueue interface {
	ClaimDue(ctx context.Context, platform domain.Platform, now time.Time, limit int) ([]domain.QueueItem, error)
	PublishDelayed(ctx context.Context, item domain.QueueItem, scheduledAt time.Time) error
}

// ChatValidator is the syntactic chat-id check exposed by the adapter
// registry.
type ChatValidator interface {
	ValidateChatID(platform domain.Platform, chatID string) bool
}

type Clock interface{ Now() time.Time }
