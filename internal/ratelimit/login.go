package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/crmauth/internal/config"
	"go.uber.org/zap"
)

const keyLoginIP = "auth:login:ip:%s"

// LoginLimiter throttles login attempts per client address with a token
// bucket refilled at AUTH_LOGIN_RATE_PER_MINUTE. A nil limiter allows
// everything.
type LoginLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
	rate   float64
	burst  int
}

func NewLoginLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *LoginLimiter {
	perMinute := cfg.Auth.LoginRatePerMinute
	if client == nil || perMinute <= 0 {
		return nil
	}
	return &LoginLimiter{
		bucket: NewTokenBucket(client),
		log:    log.Named("ratelimit.login"),
		rate:   float64(perMinute) / 60,
		burst:  perMinute,
	}
}

// Allow reports whether ip may attempt another login. Redis failures are
// logged and allow the attempt; credential checks still run.
func (l *LoginLimiter) Allow(ctx context.Context, ip string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return true, 0
	}

	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyLoginIP, ip), l.rate, l.burst)
	if err != nil {
		l.log.Warn("login throttle unavailable", zap.Error(err))
		return true, 0
	}
	return res.Allowed, res.RetryAfter
}
