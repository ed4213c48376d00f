package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/constants"
	"courier/internal/message"
)

// Cache is a read-through cache over the status query. Only terminal
// statuses are cached: queued/sending rows change too quickly to be worth
// the invalidation traffic.
type Cache interface {
	Get(ctx context.Context, id string) (*message.StatusView, bool, error)
	Set(ctx context.Context, view *message.StatusView) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, id string) (*message.StatusView, bool, error) {
	raw, err := c.client.Get(ctx, constants.CacheKeyPrefixStatus+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var view message.StatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached status: %w", err)
	}
	return &view, true, nil
}

func (c *RedisCache) Set(ctx context.Context, view *message.StatusView) error {
	if !view.Status.IsTerminal() {
		return nil
	}

	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	if err := c.client.Set(ctx, constants.CacheKeyPrefixStatus+view.ID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
