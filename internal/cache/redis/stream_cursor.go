package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamCursor persists the last processed stream entry id per consumer at
// "cursor:{name}".
type StreamCursor struct {
	rdb *redis.Client
}

func NewStreamCursor(c *Client) *StreamCursor {
	return &StreamCursor{rdb: c.Underlying()}
}

// Load returns "" when no cursor has been saved.
func (s *StreamCursor) Load(ctx context.Context, name string) (string, error) {
	id, err := s.rdb.Get(ctx, "cursor:"+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: load cursor %s: %w", name, err)
	}
	return id, nil
}

func (s *StreamCursor) Save(ctx context.Context, name, id string) error {
	if err := s.rdb.Set(ctx, "cursor:"+name, id, 0).Err(); err != nil {
		return fmt.Errorf("redis: save cursor %s: %w", name, err)
	}
	return nil
}
