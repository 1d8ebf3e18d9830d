package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/service"
)

var testExchange = domain.ExchangeIdentifier{Type: "spot", Exchange: "paper", Account: "default"}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeTrades struct {
	mu     sync.Mutex
	opens  []domain.OpenRequest
	closes []domain.CloseRequest
	status domain.TradeStatus
}

func (f *fakeTrades) Exchange() domain.ExchangeIdentifier { return testExchange }

func (f *fakeTrades) Open(_ context.Context, req domain.OpenRequest) domain.TradeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, req)
	return f.result(req.Edge, req.BaseAsset)
}

func (f *fakeTrades) Close(_ context.Context, req domain.CloseRequest) domain.TradeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, req)
	return f.result(req.Edge, req.BaseAsset)
}

func (f *fakeTrades) result(edge domain.Edge, base string) domain.TradeResult {
	status := f.status
	if edge.IsZero() {
		status = domain.TradeStatusUnauthorised
	}
	return domain.TradeResult{Status: status, Edge: edge, BaseAsset: base}
}

type fakeLocks struct {
	held     map[string]bool
	released []string
	err      error
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() { l.released = append(l.released, key) }, nil
}

func lockKey(id domain.PositionIdentifier) string { return id.String() }

func newTradeHandler(status domain.TradeStatus) (*TradeHandler, *fakeTrades, *fakeLocks) {
	trades := &fakeTrades{status: status}
	locks := &fakeLocks{held: map[string]bool{}}
	return NewTradeHandler(trades, locks, lockKey, time.Second, quietLogger()), trades, locks
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) domain.TradeResult {
	t.Helper()
	var res domain.TradeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestTradeOpen(t *testing.T) {
	h, trades, locks := newTradeHandler(domain.TradeStatusSuccess)

	rec := post(h.Open, `{"base_asset":" btc ","edge":"edge60","trigger_price":"100.5","trade_id":"t-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TradeStatusSuccess, decodeResult(t, rec).Status)

	require.Len(t, trades.opens, 1)
	got := trades.opens[0]
	assert.Equal(t, "BTC", got.BaseAsset)
	assert.Equal(t, domain.Edge60, got.Edge)
	assert.Equal(t, domain.DirectionLong, got.Direction)
	assert.Equal(t, testExchange, got.ExchangeIdentifier)
	require.NotNil(t, got.TriggerPrice)
	assert.True(t, got.TriggerPrice.Equal(decimal.RequireFromString("100.5")))

	assert.Equal(t, []string{got.PositionID().String()}, locks.released)
}

func TestTradeOpenStatusCodes(t *testing.T) {
	tests := []struct {
		status domain.TradeStatus
		code   int
	}{
		{domain.TradeStatusEntryFailedToFill, http.StatusOK},
		{domain.TradeStatusAbortedExitOrdersFailed, http.StatusOK},
		{domain.TradeStatusAlreadyInPosition, http.StatusConflict},
		{domain.TradeStatusUnauthorised, http.StatusForbidden},
		{domain.TradeStatusInternalServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h, _, _ := newTradeHandler(tt.status)
			rec := post(h.Open, `{"base_asset":"BTC","edge":"edge61"}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.status, decodeResult(t, rec).Status)
		})
	}
}

func TestTradeOpenUnknownEdge(t *testing.T) {
	h, trades, locks := newTradeHandler(domain.TradeStatusSuccess)

	rec := post(h.Open, `{"base_asset":"BTC","edge":"edge99"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, domain.TradeStatusUnauthorised, decodeResult(t, rec).Status)
	require.Len(t, trades.opens, 1)
	assert.Empty(t, locks.released)
}

func TestTradeOpenLockHeld(t *testing.T) {
	h, trades, locks := newTradeHandler(domain.TradeStatusSuccess)
	id := domain.PositionIdentifier{ExchangeIdentifier: testExchange, Edge: domain.Edge60, BaseAsset: "BTC"}
	locks.held[lockKey(id)] = true

	rec := post(h.Open, `{"base_asset":"BTC","edge":"edge60"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, trades.opens)
}

func TestTradeOpenLockError(t *testing.T) {
	h, trades, locks := newTradeHandler(domain.TradeStatusSuccess)
	locks.err = errors.New("redis down")

	rec := post(h.Open, `{"base_asset":"BTC","edge":"edge60"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, trades.opens)
}

func TestTradeOpenBadRequests(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`{"edge":"edge60"}`,
		`{"base_asset":"BTC"}`,
		`{"base_asset":"BTC","edge":"edge60","direction":"short"}`,
		`{"base_asset":"BTC","edge":"edge60","trigger_price":"-1"}`,
		`{"base_asset":"BTC","edge":"edge60","size":"1"}`,
	}
	for _, body := range bodies {
		h, trades, _ := newTradeHandler(domain.TradeStatusSuccess)
		rec := post(h.Open, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Empty(t, trades.opens, body)
	}
}

func TestTradeClose(t *testing.T) {
	h, trades, _ := newTradeHandler(domain.TradeStatusNotFound)

	rec := post(h.Close, `{"base_asset":"eth","edge":"edge62","quote_asset":"USDC"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, trades.closes, 1)
	assert.Equal(t, "ETH", trades.closes[0].BaseAsset)
	assert.Equal(t, "USDC", trades.closes[0].QuoteAsset)
	assert.Equal(t, domain.Edge62, trades.closes[0].Edge)
}

type fakePositions struct {
	views map[domain.PositionIdentifier]service.PositionView
	err   error
}

func (f *fakePositions) ListOpen(context.Context, domain.ExchangeIdentifier) ([]domain.PositionIdentifier, error) {
	if f.err != nil {
		return nil, f.err
	}
	var ids []domain.PositionIdentifier
	for id := range f.views {
		ids = append(ids, id)
	}
	// One stale id that has closed since the scan.
	ids = append(ids, domain.PositionIdentifier{ExchangeIdentifier: testExchange, Edge: domain.Edge70, BaseAsset: "GONE"})
	return ids, nil
}

func (f *fakePositions) Describe(_ context.Context, id domain.PositionIdentifier) (service.PositionView, error) {
	v, ok := f.views[id]
	if !ok {
		return service.PositionView{}, domain.ErrNotFound
	}
	return v, nil
}

type fakeHistory struct {
	opts domain.ListOpts
}

func (f *fakeHistory) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ClosedPosition, error) {
	f.opts = opts
	return nil, nil
}

func btcView() (domain.PositionIdentifier, service.PositionView) {
	id := domain.PositionIdentifier{ExchangeIdentifier: testExchange, Edge: domain.Edge60, BaseAsset: "BTC"}
	return id, service.PositionView{
		ID:    id,
		State: domain.PositionState{Edge: domain.Edge60, PositionSize: 150000000},
	}
}

func TestListPositions(t *testing.T) {
	id, view := btcView()
	h := NewPositionHandler(&fakePositions{views: map[domain.PositionIdentifier]service.PositionView{id: view}}, nil, testExchange, quietLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Positions []struct {
			ID    domain.PositionIdentifier `json:"id"`
			State map[string]any            `json:"state"`
		} `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "BTC", body.Positions[0].ID.BaseAsset)
	assert.Equal(t, "1.5", body.Positions[0].State["position_size"])
}

func TestListPositionsError(t *testing.T) {
	h := NewPositionHandler(&fakePositions{err: errors.New("boom")}, nil, testExchange, quietLogger())
	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetPosition(t *testing.T) {
	id, view := btcView()
	h := NewPositionHandler(&fakePositions{views: map[domain.PositionIdentifier]service.PositionView{id: view}}, nil, testExchange, quietLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{edge}/{base}", h.GetPosition)

	tests := []struct {
		path string
		code int
	}{
		{"/api/positions/edge60/btc", http.StatusOK},
		{"/api/positions/edge61/btc", http.StatusNotFound},
		{"/api/positions/nope/btc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, rec.Code, tt.path)
	}
}

func TestListHistory(t *testing.T) {
	hist := &fakeHistory{}
	h := NewPositionHandler(&fakePositions{}, hist, testExchange, quietLogger())

	rec := httptest.NewRecorder()
	h.ListHistory(rec, httptest.NewRequest(http.MethodGet, "/api/positions/history?limit=900&offset=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"closed":[]}`, rec.Body.String())
	assert.Equal(t, domain.ListOpts{Limit: 500, Offset: 10}, hist.opts)

	disabled := NewPositionHandler(&fakePositions{}, nil, testExchange, quietLogger())
	rec = httptest.NewRecorder()
	disabled.ListHistory(rec, httptest.NewRequest(http.MethodGet, "/api/positions/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("down") })

	h := NewHealthHandler("full", map[string]Pinger{"redis": ok, "postgres": nil}, quietLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler("full", map[string]Pinger{"redis": ok, "postgres": down}, quietLogger())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok", "postgres": "down"}, body["dependencies"])
}

type memPrices struct {
	prices map[string]decimal.Decimal
	ts     map[string]time.Time
}

func (m *memPrices) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	m.prices[symbol] = price
	m.ts[symbol] = ts
	return nil
}

func TestSetPrices(t *testing.T) {
	prices := &memPrices{prices: map[string]decimal.Decimal{}, ts: map[string]time.Time{}}
	h := NewPriceHandler(prices, quietLogger())
	now := time.UnixMilli(1700000000000)
	h.now = func() time.Time { return now }

	rec := post(h.SetPrices, `{"prices":[{"symbol":"btcusdt","price":"101.25"},{"symbol":"ETHUSDT","price":"5","ts":1600000000000}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, prices.prices["BTCUSDT"].Equal(decimal.RequireFromString("101.25")))
	assert.Equal(t, now, prices.ts["BTCUSDT"])
	assert.Equal(t, time.UnixMilli(1600000000000), prices.ts["ETHUSDT"])

	rec = post(h.SetPrices, `{"prices":[{"symbol":"BTCUSDT","price":"0"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
