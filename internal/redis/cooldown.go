package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duelbot/internal/domain"
)

// Cooldowns tracks cooldowns as expiring keys so every process sees the
// same state
type Cooldowns struct {
	client *redis.Client
}

// NewCooldowns creates a Redis-backed cooldown tracker
func NewCooldowns(client *redis.Client) *Cooldowns {
	return &Cooldowns{client: client}
}

// Acquire sets key with a TTL unless it is already set
func (c *Cooldowns) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ok, err := c.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquiring cooldown: %w", err)
	}
	if ok {
		return nil
	}

	left, err := c.Remaining(ctx, key)
	if err != nil {
		return err
	}
	return &domain.CooldownError{Remaining: left}
}

// Release deletes key
func (c *Cooldowns) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("releasing cooldown: %w", err)
	}
	return nil
}

// Remaining returns the key's TTL, zero when absent
func (c *Cooldowns) Remaining(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("reading cooldown: %w", err)
	}
	// PTTL reports -2 for a missing key and -1 for one without expiry
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
