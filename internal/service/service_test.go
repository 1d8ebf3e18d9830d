package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	rediscache "github.com/alanyoungcy/spotbot/internal/cache/redis"
	"github.com/alanyoungcy/spotbot/internal/domain"
)

var testExchange = domain.ExchangeIdentifier{Type: "spot", Exchange: "binance", Account: "default"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) (*rediscache.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rediscache.Wrap(rdb), mr
}

func positionID(base string, edge domain.Edge) domain.PositionIdentifier {
	return domain.PositionIdentifier{ExchangeIdentifier: testExchange, Edge: edge, BaseAsset: base}
}

// fill builds a BTCUSDT fill; base and price are whole units.
func fill(orderID string, side domain.OrderSide, base, price int64) domain.GenericOrderFill {
	px := domain.Sats(price * 1e8)
	return domain.GenericOrderFill{
		ExchangeIdentifier:      testExchange,
		OrderID:                 orderID,
		MarketSymbol:            "BTCUSDT",
		BaseAsset:               "BTC",
		QuoteAsset:              "USDT",
		Side:                    side,
		OrderTimeMs:             1700000000000,
		TotalBaseTradeQuantity:  domain.Sats(base * 1e8),
		TotalQuoteTradeQuantity: domain.Sats(base * price * 1e8),
		AverageExecutionPrice:   &px,
	}
}

type recordingSink struct {
	opened []domain.PositionOpened
	closed []domain.PositionClosed
	err    error
}

func (r *recordingSink) PositionOpened(_ context.Context, f domain.PositionOpened) error {
	r.opened = append(r.opened, f)
	return r.err
}

func (r *recordingSink) PositionClosed(_ context.Context, f domain.PositionClosed) error {
	r.closed = append(r.closed, f)
	return r.err
}
