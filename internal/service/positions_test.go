package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/spotbot/internal/cache/redis"
	"github.com/alanyoungcy/spotbot/internal/domain"
)

func TestPositions_AddOrderOpensOnce(t *testing.T) {
	c, _ := newTestRedis(t)
	store := rediscache.NewPositionStateStore(c)
	pos := NewPositions(store, quietLogger()).Get(positionID("BTC", domain.Edge60))
	ctx := context.Background()

	res, err := pos.AddOrder(ctx, fill("b1", domain.OrderSideBuy, 2, 10))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.Opened)

	res, err = pos.AddOrder(ctx, fill("b2", domain.OrderSideBuy, 1, 10))
	require.NoError(t, err)
	assert.False(t, res.Opened)
	assert.Equal(t, domain.Sats(3*1e8), res.Size)

	res, err = pos.AddOrder(ctx, fill("s1", domain.OrderSideSell, 5, 10))
	require.NoError(t, err)
	assert.True(t, res.Floored)
	assert.Zero(t, res.Size)
}

func TestPositions_Describe(t *testing.T) {
	c, _ := newTestRedis(t)
	store := rediscache.NewPositionStateStore(c)
	p := NewPositions(store, quietLogger())
	ctx := context.Background()
	id := positionID("BTC", domain.Edge60)

	_, err := p.Describe(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = p.Get(id).AddOrder(ctx, fill("b1", domain.OrderSideBuy, 2, 10))
	require.NoError(t, err)

	view, err := p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Sats(2*1e8), view.State.PositionSize)
	assert.Len(t, view.Orders, 1)

	open, err := p.ListOpen(ctx, testExchange)
	require.NoError(t, err)
	assert.Equal(t, []domain.PositionIdentifier{id}, open)
}

func TestFillPriceDerivedFromQuantities(t *testing.T) {
	f := fill("b1", domain.OrderSideBuy, 3, 10)
	f.AverageExecutionPrice = nil
	f.TotalQuoteTradeQuantity = 100 * 1e8
	assert.Equal(t, domain.Sats(3333333333), fillPrice(f))
}

func TestDustClosePredicate(t *testing.T) {
	p := DustClosePredicate(decimal.NewFromInt(10))
	assert.True(t, p("BTCUSDT", decimal.Zero, decimal.NewFromInt(1)))
	assert.True(t, p("BTCUSDT", decimal.RequireFromString("0.0001"), decimal.NewFromInt(40000)))
	assert.False(t, p("BTCUSDT", decimal.RequireFromString("0.001"), decimal.NewFromInt(40000)))

	exact := DustClosePredicate(decimal.Zero)
	assert.False(t, exact("BTCUSDT", decimal.RequireFromString("0.00000001"), decimal.NewFromInt(1)))
}
