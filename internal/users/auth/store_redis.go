// Copyright (c) 2026 Chronicle. All rights reserved.
// Author: m.koidl.dev@gmail.com

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkoidl/chronicle/internal/platform/constants"
)

// # Redis Session Cache

// sessionCache implements [SessionCache] on Redis. Sessions are cached by
// refresh-token hash so the hot refresh path skips the primary database.
type sessionCache struct {
	client *redis.Client
}

// NewSessionCache constructs a Redis backed session cache.
func NewSessionCache(client *redis.Client) SessionCache {
	return &sessionCache{client: client}
}

// Get retrieves a cached session, (nil, nil) on a miss.
func (cache *sessionCache) Get(context context.Context, tokenHash string) (*Session, error) {
	payload, err := cache.client.Get(context, sessionKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("redis: failed to decode session: %w", err)
	}
	return &session, nil
}

// Set stores a session under its token hash.
func (cache *sessionCache) Set(context context.Context, session *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("redis: failed to encode session: %w", err)
	}

	if err := cache.client.Set(context, sessionKey(session.TokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set session: %w", err)
	}
	return nil
}

// Delete evicts a cached session on revocation.
func (cache *sessionCache) Delete(context context.Context, tokenHash string) error {
	if err := cache.client.Del(context, sessionKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete session: %w", err)
	}
	return nil
}

// sessionKey builds the cache key for one token hash.
func sessionKey(tokenHash string) string {
	return constants.RedisPrefixSession + tokenHash
}
