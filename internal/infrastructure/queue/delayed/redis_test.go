package delayed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierhq/courier/internal/domain"
)

func newTestScheduler(t *testing.T) (*Scheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewScheduler(rdb), mr
}

func testItem(platform domain.Platform) domain.QueueItem {
	return domain.QueueItem{
		MessageID:     uuid.New(),
		DestinationID: uuid.New(),
		Platform:      platform,
		AttemptNumber: 2,
		MaxAttempts:   3,
		RequestedBy:   domain.RequestedBySystem,
	}
}

func TestPublishDelayedAndClaimDue(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := testItem(domain.PlatformTelegram)
	future := testItem(domain.PlatformTelegram)

	require.NoError(t, s.PublishDelayed(ctx, due, now.Add(-time.Minute)))
	require.NoError(t, s.PublishDelayed(ctx, future, now.Add(time.Hour)))

	items, err := s.ClaimDue(ctx, domain.PlatformTelegram, now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, due.DestinationID, items[0].DestinationID)
	assert.Equal(t, 2, items[0].AttemptNumber)
	require.NotNil(t, items[0].ScheduledAt)

	// claimed items are gone, the future one stays parked
	items, err = s.ClaimDue(ctx, domain.PlatformTelegram, now, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err := s.PendingCount(ctx, domain.PlatformTelegram)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClaimDueRespectsLimit(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PublishDelayed(ctx, testItem(domain.PlatformVK), now.Add(-time.Minute)))
	}

	items, err := s.ClaimDue(ctx, domain.PlatformVK, now, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, err = s.ClaimDue(ctx, domain.PlatformVK, now, 3)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestClaimDueIsolatesPlatforms(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.PublishDelayed(ctx, testItem(domain.PlatformVK), now.Add(-time.Minute)))
	require.NoError(t, s.PublishDelayed(ctx, testItem(domain.PlatformMax), now.Add(-time.Minute)))

	items, err := s.ClaimDue(ctx, domain.PlatformVK, now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.PlatformVK, items[0].Platform)

	n, err := s.PendingCount(ctx, domain.PlatformMax)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClaimDueSkipsUnparseableMembers(t *testing.T) {
	s, mr := newTestScheduler(t)
	ctx := context.Background()
	now := time.Now()

	_, err := mr.ZAdd("courier:delayed:telegram", float64(now.Add(-time.Minute).Unix()), "{not json")
	require.NoError(t, err)
	require.NoError(t, s.PublishDelayed(ctx, testItem(domain.PlatformTelegram), now.Add(-time.Minute)))

	items, err := s.ClaimDue(ctx, domain.PlatformTelegram, now, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	n, err := s.PendingCount(ctx, domain.PlatformTelegram)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
