package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/server/handler"
	"github.com/alanyoungcy/spotbot/internal/server/middleware"
	"github.com/alanyoungcy/spotbot/internal/server/ws"
	"github.com/alanyoungcy/spotbot/internal/service"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var exchange = domain.ExchangeIdentifier{Type: "spot", Exchange: "paper", Account: "default"}

type stubTrades struct{}

func (stubTrades) Exchange() domain.ExchangeIdentifier { return exchange }
func (stubTrades) Open(_ context.Context, r domain.OpenRequest) domain.TradeResult {
	return domain.TradeResult{Status: domain.TradeStatusSuccess, Edge: r.Edge, BaseAsset: r.BaseAsset}
}
func (stubTrades) Close(_ context.Context, r domain.CloseRequest) domain.TradeResult {
	return domain.TradeResult{Status: domain.TradeStatusSuccess, Edge: r.Edge, BaseAsset: r.BaseAsset}
}

type noLocks struct{}

func (noLocks) Acquire(context.Context, string, time.Duration) (func(), error) { return func() {}, nil }

type noPositions struct{}

func (noPositions) ListOpen(context.Context, domain.ExchangeIdentifier) ([]domain.PositionIdentifier, error) {
	return nil, nil
}
func (noPositions) Describe(context.Context, domain.PositionIdentifier) (service.PositionView, error) {
	return service.PositionView{}, domain.ErrNotFound
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyAll) Wait(context.Context, string) error                            { return nil }

func testHandlers() Handlers {
	logger := quietLogger()
	return Handlers{
		Health:    handler.NewHealthHandler("server", nil, logger),
		Trades:    handler.NewTradeHandler(stubTrades{}, noLocks{}, func(id domain.PositionIdentifier) string { return id.String() }, time.Second, logger),
		Positions: handler.NewPositionHandler(noPositions{}, nil, exchange, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
	}
}

func do(h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireAPIKey(t *testing.T) {
	h := NewHandler(Config{APIKey: "secret"}, testHandlers(), nil, nil, quietLogger())

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "", "").Code)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/positions", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/positions", "", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/positions", "", "secret").Code)

	rec := do(h, http.MethodPost, "/api/trade/open", `{"base_asset":"BTC","edge":"edge60"}`, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestRoutesMethodAndPaperOnly(t *testing.T) {
	h := NewHandler(Config{}, testHandlers(), nil, nil, quietLogger())

	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/trade/open", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/prices", `{"prices":[]}`, "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/positions/edge60/BTC", "", "").Code)
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(Config{RateLimit: 1, RateWindow: time.Second}, testHandlers(), nil, denyAll{}, quietLogger())
	rec := do(h, http.MethodGet, "/api/positions", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestWebsocketRelaysPositionEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := ws.NewHub(bus, quietLogger(), ws.Config{Mode: "full"})
	go hub.Run(ctx)

	srv := httptest.NewServer(NewHandler(Config{}, testHandlers(), hub, nil, quietLogger()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(msg), `"type":"hello"`)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	bus.ch <- []byte(`{"type":"position_opened","payload":{}}`)

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"position_opened","payload":{}}`, string(msg))
}
