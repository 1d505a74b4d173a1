//go:build !integration

package redis

import (
	"context"
	"testing"
	"time"
)

func TestEventDeduper(t *testing.T) {
	ctx := context.Background()
	mem := newMemClient()
	d := NewEventDeduper(mem, time.Hour)

	first, err := d.FirstSeen(ctx, "evt-1")
	if err != nil || !first {
		t.Fatalf("first delivery: got (%v, %v), want (true, nil)", first, err)
	}
	again, err := d.FirstSeen(ctx, "evt-1")
	if err != nil || again {
		t.Fatalf("redelivery: got (%v, %v), want (false, nil)", again, err)
	}
	if got := mem.expires[EventKey("evt-1")]; got != time.Hour {
		t.Errorf("expected ttl 1h, got %v", got)
	}

	if err := d.Forget(ctx, "evt-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if ok, _ := d.FirstSeen(ctx, "evt-1"); !ok {
		t.Error("expected delivery to be accepted again after Forget")
	}
}

func TestEventDeduper_DefaultTTL(t *testing.T) {
	d := NewEventDeduper(newMemClient(), 0)
	if d.ttl != 24*time.Hour {
		t.Errorf("expected default ttl of 24h, got %v", d.ttl)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	mem := newMemClient()
	rl := NewRateLimiter(mem)
	key := RouteKey("webhook", "10.0.0.1")

	for i := 1; i <= 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: got (%v, %v), want allowed", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Error("fourth request inside the window should be refused")
	}
	if mem.expires[key] != time.Minute {
		t.Errorf("window expiry not set on first hit, got %v", mem.expires[key])
	}
}

func TestNoopLocker(t *testing.T) {
	var l Locker = NoopLocker{}
	tok, err := l.TryLock(context.Background(), LiveTickLockKey, time.Second)
	if err != nil || tok == "" {
		t.Fatalf("noop lock should always succeed, got (%q, %v)", tok, err)
	}
	if err := l.Unlock(context.Background(), LiveTickLockKey, tok); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
