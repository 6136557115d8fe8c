package validation

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosight/pagelab/internal/config"
)

// Validator authenticates editor operators and rate limits visitor traffic.
type Validator struct {
	redis          redis.Cmdable
	operatorHash   [sha256.Size]byte
	operatorSet    bool
	requestsPerSec int
}

func NewValidator(rdb redis.Cmdable, cfg *config.Config) *Validator {
	v := &Validator{
		redis:          rdb,
		requestsPerSec: cfg.RateLimit.RequestsPerSecond,
	}
	if cfg.Editor.OperatorToken != "" {
		v.operatorHash = sha256.Sum256([]byte(cfg.Editor.OperatorToken))
		v.operatorSet = true
	}
	return v
}

// IsOperator reports whether token is the configured operator token. With no
// token configured nobody is an operator.
func (v *Validator) IsOperator(token string) bool {
	if !v.operatorSet || token == "" {
		return false
	}
	hash := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(hash[:], v.operatorHash[:]) == 1
}

// CheckRateLimit counts a request against key's one-second window.
func (v *Validator) CheckRateLimit(ctx context.Context, key string) bool {
	if v.redis == nil || v.requestsPerSec <= 0 {
		return true
	}
	key = "ratelimit:" + key

	// Increment counter
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Rate limit check failed")
		return true // Allow on error
	}

	// Set expiry on first request
	if count == 1 {
		v.redis.Expire(ctx, key, time.Second)
	}

	return count <= int64(v.requestsPerSec)
}
