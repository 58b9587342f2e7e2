package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const spoolKey = "audit:spool"

// RedisSpool buffers undelivered events in a Redis list so they survive a
// process restart while the primary store is down.
type RedisSpool struct {
	client *redis.Client
}

func NewRedisSpool(client *redis.Client) *RedisSpool {
	return &RedisSpool{client: client}
}

func (s *RedisSpool) Push(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal spooled event: %w", err)
	}
	if err := s.client.RPush(ctx, spoolKey, payload).Err(); err != nil {
		return fmt.Errorf("spool audit event: %w", err)
	}
	return nil
}

func (s *RedisSpool) Pop(ctx context.Context, max int) ([]Event, error) {
	if max <= 0 {
		return nil, nil
	}
	payloads, err := s.client.LPopCount(ctx, spoolKey, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop spooled events: %w", err)
	}
	events := make([]Event, 0, len(payloads))
	for _, p := range payloads {
		var e Event
		if err := json.Unmarshal([]byte(p), &e); err != nil {
			// A corrupt entry must not wedge the spool; skip it.
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *RedisSpool) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, spoolKey).Result()
	if err != nil {
		return 0, fmt.Errorf("spool length: %w", err)
	}
	return int(n), nil
}
