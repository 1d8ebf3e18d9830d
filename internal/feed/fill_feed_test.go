package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/spotbot/internal/cache/redis"
	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/service"
)

type recordingHandler struct {
	seen  []string
	fail  map[string]int
	calls map[string]int
}

func (h *recordingHandler) OrderFilled(_ context.Context, fill domain.GenericOrderFill) error {
	h.calls[fill.OrderID]++
	if h.calls[fill.OrderID] <= h.fail[fill.OrderID] {
		return errors.New("transient")
	}
	h.seen = append(h.seen, fill.OrderID)
	return nil
}

type fixture struct {
	rdb     *goredis.Client
	client  *rediscache.Client
	bus     *rediscache.SignalBus
	cursor  *rediscache.StreamCursor
	handler *recordingHandler
	feed    *FillFeed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := rediscache.Wrap(rdb)

	f := &fixture{
		rdb:     rdb,
		client:  c,
		bus:     rediscache.NewSignalBus(c, 0),
		cursor:  rediscache.NewStreamCursor(c),
		handler: &recordingHandler{fail: map[string]int{}, calls: map[string]int{}},
	}
	f.feed = NewFillFeed(Config{MaxAttempts: 2}, f.bus, f.cursor, f.handler, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) append(t *testing.T, orderID string) {
	t.Helper()
	data, err := json.Marshal(domain.GenericOrderFill{OrderID: orderID, Side: domain.OrderSideBuy})
	require.NoError(t, err)
	require.NoError(t, f.bus.StreamAppend(context.Background(), domain.StreamFills, data))
}

func TestFillFeed_ProcessesInOrderAndSavesCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.append(t, "a")
	f.append(t, "b")

	n, err := f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, f.handler.seen)

	saved, err := f.cursor.Load(ctx, "fill_feed")
	require.NoError(t, err)
	assert.NotEmpty(t, saved)

	n, err = f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFillFeed_SkipsMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.bus.StreamAppend(ctx, domain.StreamFills, []byte("not json")))
	f.append(t, "a")

	n, err := f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a"}, f.handler.seen)
}

func TestFillFeed_RetriesThenGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handler.fail["a"] = 5
	f.append(t, "a")
	f.append(t, "b")

	n, err := f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "b must not overtake a failing fill")

	n, err = f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"b"}, f.handler.seen)
	assert.Equal(t, 2, f.handler.calls["a"])
}

func TestFillFeed_TransientFailureRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handler.fail["a"] = 1
	f.append(t, "a")

	_, err := f.feed.Poll(ctx)
	require.NoError(t, err)
	_, err = f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, f.handler.seen)
}

func TestFillFeed_StepsOverEntriesWithoutPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: domain.StreamFills,
		Values: map[string]any{"note": "not a fill"},
	}).Err())

	n, err := f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	saved, err := f.cursor.Load(ctx, "fill_feed")
	require.NoError(t, err)
	assert.NotEmpty(t, saved)

	f.append(t, "a")
	n, err = f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, f.handler.seen)
}

// failOnce wraps a position store and fails the first call of the chosen
// step after the fill has been recorded.
type failOnce struct {
	domain.PositionStateStore
	create, getState bool
}

func (s *failOnce) Create(ctx context.Context, id domain.PositionIdentifier, init domain.PositionInit) error {
	if s.create {
		s.create = false
		return errors.New("i/o timeout")
	}
	return s.PositionStateStore.Create(ctx, id, init)
}

func (s *failOnce) GetState(ctx context.Context, id domain.PositionIdentifier) (domain.PositionState, error) {
	if s.getState {
		s.getState = false
		return domain.PositionState{}, errors.New("i/o timeout")
	}
	return s.PositionStateStore.GetState(ctx, id)
}

type countingSink struct {
	opened []domain.PositionOpened
	closed []domain.PositionClosed
}

func (s *countingSink) PositionOpened(_ context.Context, f domain.PositionOpened) error {
	s.opened = append(s.opened, f)
	return nil
}

func (s *countingSink) PositionClosed(_ context.Context, f domain.PositionClosed) error {
	s.closed = append(s.closed, f)
	return nil
}

func TestFillFeed_RetryCompletesFillAfterStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := rediscache.NewPositionStateStore(f.client)
	contexts := rediscache.NewOrderContextStore(f.client, 0)
	flaky := &failOnce{PositionStateStore: store, create: true, getState: true}
	sink := &countingSink{}
	tracker := service.NewPositionTracker(flaky, contexts, sink, service.DustClosePredicate(decimal.Zero), nil, logger)
	feed := NewFillFeed(Config{MaxAttempts: 3}, f.bus, f.cursor, tracker, logger)

	x := domain.ExchangeIdentifier{Type: "spot", Exchange: "binance", Account: "default"}
	for _, id := range []string{"b1", "s1"} {
		require.NoError(t, contexts.Set(ctx, x, id, domain.OrderContext{Edge: domain.Edge60, TradeID: "t-1"}))
	}
	buyPx, sellPx := domain.Sats(10*1e8), domain.Sats(11*1e8)
	for _, fl := range []domain.GenericOrderFill{
		{ExchangeIdentifier: x, OrderID: "b1", MarketSymbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
			Side: domain.OrderSideBuy, TotalBaseTradeQuantity: 2 * 1e8, TotalQuoteTradeQuantity: 20 * 1e8, AverageExecutionPrice: &buyPx},
		{ExchangeIdentifier: x, OrderID: "s1", MarketSymbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
			Side: domain.OrderSideSell, TotalBaseTradeQuantity: 2 * 1e8, TotalQuoteTradeQuantity: 22 * 1e8, AverageExecutionPrice: &sellPx},
	} {
		data, err := json.Marshal(fl)
		require.NoError(t, err)
		require.NoError(t, f.bus.StreamAppend(ctx, domain.StreamFills, data))
	}

	// Buy fails writing its entry, then succeeds; the sell then fails
	// reading state for the close, then succeeds.
	total := 0
	for i := 0; i < 4; i++ {
		n, err := feed.Poll(ctx)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 2, total)

	require.Len(t, sink.opened, 1)
	assert.Equal(t, domain.Sats(2*1e8), sink.opened[0].InitialEntryPositionSize)
	require.Len(t, sink.closed, 1)
	assert.True(t, decimal.NewFromInt(2).Equal(sink.closed[0].AbsQuoteChange), sink.closed[0].AbsQuoteChange.String())

	open, err := store.ListOpen(ctx, x)
	require.NoError(t, err)
	assert.Empty(t, open)
}
