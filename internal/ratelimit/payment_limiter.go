package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nubomail/nubo/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyPaymentWebhook  = "payment:webhook:%s"
	keyPaymentVerify   = "payment:verify:%s"
	keyProvisionDomain = "provision:domain:%s"
)

// PaymentLimiter throttles the payment settlement endpoints and hands
// out short redis locks that serialize provisioning retries per domain.
type PaymentLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	webhookRate  float64
	webhookBurst int
	verifyRate   float64
	verifyBurst  int
	lockTTL      time.Duration
}

func NewPaymentLimiter(cfg config.Config) (*PaymentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}
	if limitCfg.VerifyRate <= 0 || limitCfg.VerifyBurst <= 0 {
		return nil, errors.New("verify rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &PaymentLimiter{
		enabled:      true,
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		webhookRate:  limitCfg.WebhookRate,
		webhookBurst: limitCfg.WebhookBurst,
		verifyRate:   limitCfg.VerifyRate,
		verifyBurst:  limitCfg.VerifyBurst,
		lockTTL:      limitCfg.ProvisionLockTTL,
	}, nil
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowWebhook limits webhook deliveries per remote address.
func (l *PaymentLimiter) AllowWebhook(ctx context.Context, remoteAddr string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentWebhook, strings.TrimSpace(remoteAddr)), l.webhookRate, l.webhookBurst)
}

// AllowVerify limits checkout verification attempts per actor.
func (l *PaymentLimiter) AllowVerify(ctx context.Context, actor string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentVerify, strings.TrimSpace(actor)), l.verifyRate, l.verifyBurst)
}

// LockDomainRetry takes a short lease so only one provisioning attempt
// runs against the mail host for a given domain at a time. Disabled
// limiters grant a nil lease, which releases as a no-op.
func (l *PaymentLimiter) LockDomainRetry(ctx context.Context, domainID string) (*Lease, bool, error) {
	if !l.Enabled() {
		return nil, true, nil
	}
	return l.locker.Acquire(ctx, fmt.Sprintf(keyProvisionDomain, strings.TrimSpace(domainID)), l.lockTTL)
}
