// Package session keeps per-visitor experiment assignments in Redis hashes.
package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/experiment"
)

const keyPrefix = "session:"

// Sessions hands out assignment stores keyed by browsing session id.
type Sessions struct {
	redis redis.Cmdable
	ttl   time.Duration
}

// NewClient connects to Redis.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewSessions creates a session factory. Every write refreshes the key's TTL.
func NewSessions(rdb redis.Cmdable, ttl time.Duration) *Sessions {
	return &Sessions{redis: rdb, ttl: ttl}
}

// For returns the assignment store for one session.
func (s *Sessions) For(sessionID string) *Store {
	return &Store{redis: s.redis, key: keyPrefix + sessionID, ttl: s.ttl}
}

// Store is an experiment.Store backed by one Redis hash. Two stores on the
// same session id share state; the last writer wins.
type Store struct {
	redis redis.Cmdable
	key   string
	ttl   time.Duration
}

var _ experiment.Store = (*Store)(nil)

func (s *Store) Load(ctx context.Context) (experiment.Assignment, bool, error) {
	data, err := s.redis.HGetAll(ctx, s.key).Result()
	if err != nil {
		return experiment.Assignment{}, false, err
	}
	if len(data) == 0 {
		return experiment.Assignment{}, false, nil
	}

	a := experiment.Assignment{
		TestID:           data["test_id"],
		VariantID:        data["variant_id"],
		TestType:         data["test_type"],
		ContentVersionID: data["content_version_id"],
		GoalPageID:       data["goal_page_id"],
	}
	return a, a.Valid(), nil
}

func (s *Store) Save(ctx context.Context, a experiment.Assignment) error {
	pipe := s.redis.TxPipeline()

	// Replace, never merge with a previous assignment
	pipe.Del(ctx, s.key)
	pipe.HSet(ctx, s.key,
		"test_id", a.TestID,
		"variant_id", a.VariantID,
		"test_type", a.TestType,
		"content_version_id", a.ContentVersionID,
		"goal_page_id", a.GoalPageID,
		"assigned_at", time.Now().UnixMilli(),
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("Failed to store assignment in Redis")
	}
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	return s.redis.Del(ctx, s.key).Err()
}
