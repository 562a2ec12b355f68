package changeset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkoidl/chronicle/internal/platform/constants"
)

// # Redis Recent-Changeset Index

// redisRecentIndex caches the newest aggregatable changeset per object under
// "audit:recent:<type>:<id>". Entries expire with the model's aggregation
// window, so a hit is by construction young enough to aggregate into.
type redisRecentIndex struct {
	client      *redis.Client
	ttlOverride time.Duration
}

// NewRedisRecentIndex constructs a Redis backed recent-changeset index.
// A positive ttlOverride caps the per-model window, letting operators
// shorten aggregation globally. It never lengthens a window: a hit must
// stay young enough for the model's own aggregation check. Zero keeps
// the per-model TTLs.
func NewRedisRecentIndex(client *redis.Client, ttlOverride time.Duration) RecentIndex {
	return &redisRecentIndex{client: client, ttlOverride: ttlOverride}
}

// Get returns the cached entry for the object, or (nil, nil) on a miss.
func (index *redisRecentIndex) Get(context context.Context, ref ObjectRef) (*RecentEntry, error) {
	payload, err := index.client.Get(context, recentKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get recent changeset: %w", err)
	}

	var entry RecentEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("redis: failed to decode recent changeset: %w", err)
	}
	return &entry, nil
}

// Set stores the entry with the given TTL. Non-positive TTLs are ignored so
// models without an aggregation window never populate the index.
func (index *redisRecentIndex) Set(context context.Context, ref ObjectRef, entry RecentEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if index.ttlOverride > 0 && index.ttlOverride < ttl {
		ttl = index.ttlOverride
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: failed to encode recent changeset: %w", err)
	}

	if err := index.client.Set(context, recentKey(ref), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set recent changeset: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry for the object.
func (index *redisRecentIndex) Invalidate(context context.Context, ref ObjectRef) error {
	if err := index.client.Del(context, recentKey(ref)).Err(); err != nil {
		return fmt.Errorf("redis: failed to invalidate recent changeset: %w", err)
	}
	return nil
}

// recentKey builds the cache key for one object reference.
func recentKey(ref ObjectRef) string {
	return constants.RedisPrefixRecentChangeset + ref.ObjectType + ":" + ref.ObjectID
}
