package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// price lives at "price:{symbol}" with fields "price" (decimal string) and
// "ts" (unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A non-zero ttl expires stale prices so
// the paper engine refuses to trade on them.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	key := priceKey(symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns domain.ErrNotFound when no price is cached for symbol.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, ok, err := parsePrice(vals)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices fetches several symbols in one pipeline. Missing symbols are
// omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, priceKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		price, _, ok, err := parsePrice(vals)
		if err != nil || !ok {
			continue
		}
		out[sym] = price
	}
	return out, nil
}

func parsePrice(vals map[string]string) (decimal.Decimal, time.Time, bool, error) {
	ps, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, false, nil
	}
	price, err := decimal.NewFromString(ps)
	if err != nil {
		return decimal.Zero, time.Time{}, false, err
	}
	var ts time.Time
	if tss, ok := vals["ts"]; ok {
		n, err := strconv.ParseInt(tss, 10, 64)
		if err != nil {
			return decimal.Zero, time.Time{}, false, err
		}
		ts = time.Unix(0, n)
	}
	return price, ts, true, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
