package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

//go:embed scripts/unlock.lua
var unlockLua string

//go:embed scripts/extend_lock.lua
var extendLockLua string

// unlockTimeout bounds the release call, which runs on a fresh context so a
// cancelled request still frees its lock.
const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token-checked
// release script. A held lock is refreshed every third of its TTL until it
// is released, so a slow holder keeps it and a dead one loses it.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
	extend *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockLua),
		extend: redis.NewScript(extendLockLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// PositionLockKey is the lock name used to serialise commands for one position.
func PositionLockKey(id domain.PositionIdentifier) string {
	return "position:" + id.String()
}

// Acquire takes the lock for ttl. It returns domain.ErrLockHeld when another
// holder has it. The returned release func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	keepCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		lm.keepAlive(keepCtx, lk, token, ttl)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			_ = lm.unlock.Run(rctx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

func (lm *LockManager) keepAlive(ctx context.Context, lk, token string, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := lm.extend.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
		if err == nil && n == 0 {
			// Lost to expiry; someone else may hold it now.
			return
		}
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
