package statuscache

import (
	"context"
	"fmt"

	"courier/internal/message"
	"courier/pkg/circuitbreaker"
)

// CircuitBreakerCache guards the Redis fast path so a struggling cache
// cannot slow down the status query; callers fall back to the store when
// an error comes back.
type CircuitBreakerCache struct {
	cache Cache
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerCache(cache Cache) *CircuitBreakerCache {
	return &CircuitBreakerCache{
		cache: cache,
		cb:    circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("redis-statuscache")),
	}
}

func (c *CircuitBreakerCache) Get(ctx context.Context, id string) (*message.StatusView, bool, error) {
	type getResult struct {
		view  *message.StatusView
		found bool
	}

	result, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		view, found, err := c.cache.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return getResult{view: view, found: found}, nil
	})

	c.cb.RecordRequest(err == nil)

	if err != nil {
		if c.cb.IsOpen() {
			return nil, false, fmt.Errorf("circuit breaker is open for redis-statuscache: %w", err)
		}
		return nil, false, err
	}

	res, ok := result.(getResult)
	if !ok {
		return nil, false, fmt.Errorf("cache returned invalid result type")
	}
	return res.view, res.found, nil
}

func (c *CircuitBreakerCache) Set(ctx context.Context, view *message.StatusView) error {
	_, err := c.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, c.cache.Set(ctx, view)
	})

	c.cb.RecordRequest(err == nil)

	if err != nil {
		if c.cb.IsOpen() {
			return fmt.Errorf("circuit breaker is open for redis-statuscache: %w", err)
		}
		return err
	}
	return nil
}
