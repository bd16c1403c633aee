package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airgate-io/airgate/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyIngestOrg = "ingest:org:%s"

// IngestLimiter enforces a per-organization token bucket on the usage
// ingest endpoints. A nil limiter admits everything, so deployments
// without redis keep working.
type IngestLimiter struct {
	bucket *TokenBucket
	locker *Locker
	rate   float64
	burst  int
}

func NewIngestLimiter(cfg config.Config) *IngestLimiter {
	if !cfg.RateLimitEnabled || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	rate := float64(cfg.RateLimitPerSec)
	if rate <= 0 {
		rate = 100
	}
	burst := int(cfg.RateLimitBurst)
	if burst <= 0 {
		burst = int(rate) * 2
	}

	return &IngestLimiter{
		bucket: NewTokenBucket(client),
		locker: NewLocker(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowOrg takes one token for the organization. An allowed result with
// a redis error means the limiter failed open.
func (l *IngestLimiter) AllowOrg(ctx context.Context, orgID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyIngestOrg, strings.TrimSpace(orgID))
	result, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		// Prefer accepting traffic over dropping it while redis is down.
		return Result{Allowed: true}, err
	}
	return result, nil
}

// TryJobLock acquires an expiring scheduler lock.
func (l *IngestLimiter) TryJobLock(ctx context.Context, job string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.locker == nil {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, "job:lock:"+job, ttl)
}

// ReleaseJobLock releases a lock taken with TryJobLock.
func (l *IngestLimiter) ReleaseJobLock(ctx context.Context, job, token string) error {
	if l == nil || l.locker == nil {
		return nil
	}
	return l.locker.Release(ctx, "job:lock:"+job, token)
}
