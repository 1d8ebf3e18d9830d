package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// OrderContextStore implements domain.OrderContextStore. Each context is a
// JSON string at "order_context:{type}:{exchange}:{account}:{order_id}".
type OrderContextStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderContextStore creates an OrderContextStore. A zero ttl keeps
// contexts forever.
func NewOrderContextStore(c *Client, ttl time.Duration) *OrderContextStore {
	return &OrderContextStore{rdb: c.Underlying(), ttl: ttl}
}

func orderContextKey(x domain.ExchangeIdentifier, orderID string) string {
	return "order_context:" + x.String() + ":" + orderID
}

// Set upserts the context for orderID.
func (s *OrderContextStore) Set(ctx context.Context, x domain.ExchangeIdentifier, orderID string, octx domain.OrderContext) error {
	data, err := json.Marshal(octx)
	if err != nil {
		return fmt.Errorf("redis: marshal order context %s: %w", orderID, err)
	}
	if err := s.rdb.Set(ctx, orderContextKey(x, orderID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set order context %s: %w", orderID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound for orders placed outside this system.
func (s *OrderContextStore) Get(ctx context.Context, x domain.ExchangeIdentifier, orderID string) (domain.OrderContext, error) {
	data, err := s.rdb.Get(ctx, orderContextKey(x, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderContext{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderContext{}, fmt.Errorf("redis: get order context %s: %w", orderID, err)
	}

	var octx domain.OrderContext
	if err := json.Unmarshal(data, &octx); err != nil {
		return domain.OrderContext{}, fmt.Errorf("redis: unmarshal order context %s: %w", orderID, err)
	}
	return octx, nil
}

// Compile-time interface check.
var _ domain.OrderContextStore = (*OrderContextStore)(nil)
