// Package cache keeps content maps in Redis so pages can be served without a
// database round trip.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gosight/pagelab/internal/content"
)

const keyPrefix = "content:"

// Content is a Redis-backed content map cache.
type Content struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewContent(rdb redis.Cmdable, ttl time.Duration) *Content {
	return &Content{redis: rdb, ttl: ttl}
}

// Get returns the cached map for key. A miss is not an error.
func (c *Content) Get(ctx context.Context, key string) (content.Map, bool, error) {
	data, err := c.redis.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var m content.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, err
	}
	if m == nil {
		m = content.Map{}
	}
	return m, true, nil
}

func (c *Content) Set(ctx context.Context, key string, m content.Map) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}

func (c *Content) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	return c.redis.Del(ctx, full...).Err()
}
