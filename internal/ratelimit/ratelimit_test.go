package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterDeniesOverLimit(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.IsAllowed(ctx, "user:search", 3, time.Minute)
		if err != nil {
			t.Fatalf("IsAllowed: %v", err)
		}
		if !allowed {
			t.Fatalf("expected request %d to be allowed within limit", i)
		}
	}

	allowed, err := l.IsAllowed(ctx, "user:search", 3, time.Minute)
	if err != nil {
		t.Fatalf("IsAllowed: %v", err)
	}
	if allowed {
		t.Fatal("expected the (N+1)-th request to be denied")
	}
}

func TestMemoryLimiterAllowsAfterWindowExpires(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	if allowed, _ := l.IsAllowed(ctx, "k", 1, 20*time.Millisecond); !allowed {
		t.Fatal("expected first request allowed")
	}
	if allowed, _ := l.IsAllowed(ctx, "k", 1, 20*time.Millisecond); allowed {
		t.Fatal("expected second request denied within window")
	}

	time.Sleep(30 * time.Millisecond)
	if allowed, _ := l.IsAllowed(ctx, "k", 1, 20*time.Millisecond); !allowed {
		t.Fatal("expected request allowed after window expiry")
	}
}
