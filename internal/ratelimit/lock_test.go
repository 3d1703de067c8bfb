package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/nubomail/nubo/internal/config"
	redis "github.com/redis/go-redis/v9"
)

func TestLeaseReleaseIsNilSafe(t *testing.T) {
	var lease *Lease
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("nil lease release: %v", err)
	}
}

func TestAcquireValidatesInput(t *testing.T) {
	ctx := context.Background()

	var unconfigured *Locker
	if _, _, err := unconfigured.Acquire(ctx, "k", time.Second); err == nil {
		t.Fatalf("expected error from unconfigured locker")
	}
	if l := NewLocker(nil); l != nil {
		t.Fatalf("expected nil locker without a client")
	}

	// Validation runs before any dial, so a placeholder client is enough.
	l := NewLocker(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	if _, _, err := l.Acquire(ctx, "", time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, _, err := l.Acquire(ctx, "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestDisabledLimiterGrantsLease(t *testing.T) {
	ctx := context.Background()

	limiter, err := NewPaymentLimiter(config.Config{})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if limiter.Enabled() {
		t.Fatalf("expected limiter disabled by default")
	}

	lease, held, err := limiter.LockDomainRetry(ctx, "42")
	if err != nil || !held {
		t.Fatalf("disabled limiter must grant the lease, held=%v err=%v", held, err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release granted no-op lease: %v", err)
	}

	if allowed, err := limiter.AllowWebhook(ctx, "203.0.113.9"); err != nil || !allowed {
		t.Fatalf("disabled limiter must allow webhooks, allowed=%v err=%v", allowed, err)
	}
	if allowed, err := limiter.AllowVerify(ctx, "partner:12"); err != nil || !allowed {
		t.Fatalf("disabled limiter must allow verifies, allowed=%v err=%v", allowed, err)
	}
}
