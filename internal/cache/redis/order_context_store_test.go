package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

func TestOrderContextStore_SetGet(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewOrderContextStore(c, 0)
	ctx := context.Background()

	want := domain.OrderContext{Edge: domain.Edge62, TradeID: "t-1"}
	require.NoError(t, store.Set(ctx, testExchange, "cid-1", want))

	got, err := store.Get(ctx, testExchange, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOrderContextStore_SetIsUpsert(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewOrderContextStore(c, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testExchange, "cid-1", domain.OrderContext{Edge: domain.Edge60}))
	require.NoError(t, store.Set(ctx, testExchange, "cid-1", domain.OrderContext{Edge: domain.Edge61, TradeID: "t-2"}))

	got, err := store.Get(ctx, testExchange, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Edge61, got.Edge)
	assert.Equal(t, "t-2", got.TradeID)
}

func TestOrderContextStore_NotFound(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewOrderContextStore(c, 0)

	_, err := store.Get(context.Background(), testExchange, "manual-order")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderContextStore_ScopedByExchange(t *testing.T) {
	c, _ := newTestClient(t)
	store := NewOrderContextStore(c, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testExchange, "cid-1", domain.OrderContext{Edge: domain.Edge60}))

	other := domain.ExchangeIdentifier{Type: "spot", Exchange: "kraken", Account: "default"}
	_, err := store.Get(ctx, other, "cid-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderContextStore_TTL(t *testing.T) {
	c, mr := newTestClient(t)
	store := NewOrderContextStore(c, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testExchange, "cid-1", domain.OrderContext{Edge: domain.Edge60}))
	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, testExchange, "cid-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderContextStore_ZeroTTLNeverExpires(t *testing.T) {
	c, mr := newTestClient(t)
	store := NewOrderContextStore(c, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testExchange, "stop-1", domain.OrderContext{Edge: domain.Edge60, TradeID: "t-9"}))
	mr.FastForward(90 * 24 * time.Hour)

	got, err := store.Get(ctx, testExchange, "stop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Edge60, got.Edge)
	assert.Equal(t, "t-9", got.TradeID)
}
