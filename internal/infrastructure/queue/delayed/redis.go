// Package delayed keeps queue items that must not be delivered yet. The
// broker has no native delayed publish, so items wait in a per-platform
// Redis sorted set scored by their due time; the sweeper promotes due
// entries back to the live queue.
package delayed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/courierhq/courier/internal/domain"
)

const defaultKeyPrefix = "courier:delayed:"

// claimScript atomically takes due members so concurrent sweepers never
// promote the same entry twice.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
end
return due
`)

type Scheduler struct {
	rdb       *redis.Client
	keyPrefix string
}

func NewScheduler(rdb *redis.Client) *Scheduler {
	return &Scheduler{rdb: rdb, keyPrefix: defaultKeyPrefix}
}

func (s *Scheduler) key(platform domain.Platform) string {
	return s.keyPrefix + string(platform)
}

// PublishDelayed parks the item until scheduledAt.
func (s *Scheduler) PublishDelayed(ctx context.Context, item domain.QueueItem, scheduledAt time.Time) error {
	at := scheduledAt.UTC()
	item.ScheduledAt = &at

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	err = s.rdb.ZAdd(ctx, s.key(item.Platform), redis.Z{
		Score:  float64(at.Unix()),
		Member: string(body),
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule delayed item: %w", err)
	}
	return nil
}

// ClaimDue removes and returns up to limit items whose due time has passed.
func (s *Scheduler) ClaimDue(ctx context.Context, platform domain.Platform, now time.Time, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := claimScript.Run(ctx, s.rdb,
		[]string{s.key(platform)},
		now.UTC().Unix(), limit,
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}

	items := make([]domain.QueueItem, 0, len(raw))
	for _, member := range raw {
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			// Unparseable member is already removed from the set; skip it,
			// the retry sweeper recovers the destination from the store.
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// PendingCount reports how many items are parked for a platform.
func (s *Scheduler) PendingCount(ctx context.Context, platform domain.Platform) (int64, error) {
	return s.rdb.ZCard(ctx, s.key(platform)).Result()
}
