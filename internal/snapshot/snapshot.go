// Package snapshot materializes per-member statistics into Redis. It is
// a read-through cache for dashboards only: the accounting core always
// recomputes from raw sessions and never reads these values back.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"doortracker/internal/tracking"
)

// Builder recomputes a member's summary after each scan event.
type Builder struct {
	stats *tracking.Stats
	now   func() time.Time
}

// NewBuilder wraps the statistics facade.
func NewBuilder(stats *tracking.Stats) *Builder {
	return &Builder{stats: stats, now: time.Now}
}

// Build computes the member's current summary.
func (b *Builder) Build(ctx context.Context, memberID string) (tracking.Summary, error) {
	return b.stats.Summarize(ctx, memberID, b.now())
}

// Cache stores summaries in Redis with a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a cache; zero ttl keeps entries for ten minutes.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Put stores a member's summary.
func (c *Cache) Put(ctx context.Context, sum tracking.Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(sum.MemberID), payload, c.ttl).Err()
}

// Get returns a cached summary, or nil on a miss.
func (c *Cache) Get(ctx context.Context, memberID string) (*tracking.Summary, error) {
	payload, err := c.client.Get(ctx, key(memberID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var sum tracking.Summary
	if err := json.Unmarshal(payload, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func key(memberID string) string {
	return fmt.Sprintf("doortracker:snapshot:%s", memberID)
}
