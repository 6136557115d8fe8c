package validation

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/pagelab/internal/config"
)

func TestIsOperator(t *testing.T) {
	v := NewValidator(nil, &config.Config{Editor: config.EditorConfig{OperatorToken: "s3cret"}})

	assert.True(t, v.IsOperator("s3cret"))
	assert.False(t, v.IsOperator("s3cre"))
	assert.False(t, v.IsOperator(""))
}

func TestIsOperator_NoTokenConfigured(t *testing.T) {
	v := NewValidator(nil, &config.Config{})
	assert.False(t, v.IsOperator(""))
	assert.False(t, v.IsOperator("anything"))
}

func TestCheckRateLimit_NoRedisAllows(t *testing.T) {
	v := NewValidator(nil, &config.Config{RateLimit: config.RateLimitConfig{RequestsPerSecond: 1}})
	for i := 0; i < 5; i++ {
		assert.True(t, v.CheckRateLimit(context.Background(), "1.2.3.4"))
	}
}

func TestCheckRateLimit_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(context.Background()).Err())

	v := NewValidator(rdb, &config.Config{RateLimit: config.RateLimitConfig{RequestsPerSecond: 2}})
	key := uuid.NewString()

	assert.True(t, v.CheckRateLimit(context.Background(), key))
	assert.True(t, v.CheckRateLimit(context.Background(), key))
	assert.False(t, v.CheckRateLimit(context.Background(), key))
}
