package redis

import (
	"context"
	"time"
)

// EventDeduper remembers delivery ids for ttl so redelivered webhooks are
// acknowledged without being handled twice.
type EventDeduper struct {
	client RedisClient
	ttl    time.Duration
}

func NewEventDeduper(client RedisClient, ttl time.Duration) *EventDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventDeduper{client: client, ttl: ttl}
}

// FirstSeen records id and reports whether this is its first delivery.
func (d *EventDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.client.SetNX(ctx, EventKey(id), 1, d.ttl)
}

// Forget drops id so a delivery whose handling failed can be retried.
func (d *EventDeduper) Forget(ctx context.Context, id string) error {
	return d.client.Del(ctx, EventKey(id))
}

func EventKey(id string) string { return "webhook_event:" + id }
