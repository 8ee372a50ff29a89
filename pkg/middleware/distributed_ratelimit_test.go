package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newDistributedLimiter(t *testing.T) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	config := &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
		BurstSize:         1,
	}
	return NewDistributedRateLimiter(client, config, "test"), mr
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	limiter, mr := newDistributedLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d, err := limiter.Allow(ctx, "alice")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Errorf("request %d: remaining = %d, want %d", i, d.Remaining, 3-i)
		}
	}

	d, err := limiter.Allow(ctx, "alice")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if d.Allowed {
		t.Error("request over the window budget should be denied")
	}

	if ttl := mr.TTL("test:alice"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("window TTL = %v, want (0, 1m]", ttl)
	}

	// new window
	mr.FastForward(time.Minute)
	if d, _ := limiter.Allow(ctx, "alice"); !d.Allowed {
		t.Error("request in a new window should be allowed")
	}
}

func TestDistributedRateLimiter_Remaining(t *testing.T) {
	limiter, _ := newDistributedLimiter(t)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "bob")
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != 4 {
		t.Errorf("Remaining() = %d, want 4", remaining)
	}

	limiter.Allow(ctx, "bob")
	limiter.Allow(ctx, "bob")
	if remaining, _ := limiter.Remaining(ctx, "bob"); remaining != 2 {
		t.Errorf("Remaining() = %d, want 2", remaining)
	}

	if err := limiter.Reset(ctx, "bob"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if remaining, _ := limiter.Remaining(ctx, "bob"); remaining != 4 {
		t.Errorf("Remaining() after reset = %d, want 4", remaining)
	}
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	limiter, mr := newDistributedLimiter(t)
	mr.Close()

	if _, err := limiter.Allow(context.Background(), "alice"); err == nil {
		t.Error("Allow() should fail when redis is unreachable")
	}
	if err := limiter.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when redis is unreachable")
	}
}
