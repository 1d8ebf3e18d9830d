package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// TradeService is what the trade handler needs from the service layer.
type TradeService interface {
	Exchange() domain.ExchangeIdentifier
	Open(ctx context.Context, req domain.OpenRequest) domain.TradeResult
	Close(ctx context.Context, req domain.CloseRequest) domain.TradeResult
}

// LockKeyFunc names the lock that serialises commands for one position.
type LockKeyFunc func(domain.PositionIdentifier) string

// TradeHandler accepts open and close commands. Commands for the same
// position are serialised with a distributed lock; a concurrent command
// gets 409 instead of waiting.
type TradeHandler struct {
	trades  TradeService
	locks   domain.LockManager
	lockKey LockKeyFunc
	lockTTL time.Duration
	logger  *slog.Logger
}

func NewTradeHandler(trades TradeService, locks domain.LockManager, lockKey LockKeyFunc, lockTTL time.Duration, logger *slog.Logger) *TradeHandler {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &TradeHandler{
		trades:  trades,
		locks:   locks,
		lockKey: lockKey,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// tradeRequest is the body of both commands. trigger_price is ignored on
// close.
type tradeRequest struct {
	BaseAsset    string           `json:"base_asset"`
	QuoteAsset   string           `json:"quote_asset,omitempty"`
	Edge         string           `json:"edge"`
	Direction    string           `json:"direction,omitempty"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"`
	TradeID      string           `json:"trade_id,omitempty"`
}

type parsedTrade struct {
	edge      domain.Edge
	direction domain.Direction
}

// parse validates the body. An unknown edge is not a client error; it
// yields an UNAUTHORISED result like any other edge the bot may not trade.
func (req tradeRequest) parse() (parsedTrade, string) {
	if strings.TrimSpace(req.BaseAsset) == "" {
		return parsedTrade{}, "base_asset is required"
	}
	if strings.TrimSpace(req.Edge) == "" {
		return parsedTrade{}, "edge is required"
	}
	var p parsedTrade
	p.direction = domain.DirectionLong
	if req.Direction != "" {
		d, err := domain.ParseDirection(req.Direction)
		if err != nil {
			return parsedTrade{}, err.Error()
		}
		p.direction = d
	}
	if req.TriggerPrice != nil && !req.TriggerPrice.IsPositive() {
		return parsedTrade{}, "trigger_price must be positive"
	}
	if e, err := domain.ParseEdge(req.Edge); err == nil {
		p.edge = e
	}
	return p, ""
}

// Open enters a position.
// POST /api/trade/open
func (h *TradeHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, msg := req.parse()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	open := domain.OpenRequest{
		ExchangeIdentifier: h.trades.Exchange(),
		BaseAsset:          strings.ToUpper(strings.TrimSpace(req.BaseAsset)),
		QuoteAsset:         req.QuoteAsset,
		Edge:               p.edge,
		Direction:          p.direction,
		TriggerPrice:       req.TriggerPrice,
		TradeID:            req.TradeID,
	}
	if p.edge.IsZero() {
		writeJSON(w, http.StatusForbidden, h.trades.Open(r.Context(), open))
		return
	}

	unlock, ok := h.lock(w, r, open.PositionID())
	if !ok {
		return
	}
	defer unlock()

	res := h.trades.Open(r.Context(), open)
	writeJSON(w, statusCode(res.Status), res)
}

// Close exits a position.
// POST /api/trade/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, msg := req.parse()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	cl := domain.CloseRequest{
		ExchangeIdentifier: h.trades.Exchange(),
		BaseAsset:          strings.ToUpper(strings.TrimSpace(req.BaseAsset)),
		QuoteAsset:         req.QuoteAsset,
		Edge:               p.edge,
		Direction:          p.direction,
		TradeID:            req.TradeID,
	}
	if p.edge.IsZero() {
		writeJSON(w, http.StatusForbidden, h.trades.Close(r.Context(), cl))
		return
	}

	unlock, ok := h.lock(w, r, cl.PositionID())
	if !ok {
		return
	}
	defer unlock()

	res := h.trades.Close(r.Context(), cl)
	writeJSON(w, statusCode(res.Status), res)
}

func (h *TradeHandler) lock(w http.ResponseWriter, r *http.Request, id domain.PositionIdentifier) (func(), bool) {
	unlock, err := h.locks.Acquire(r.Context(), h.lockKey(id), h.lockTTL)
	if err == nil {
		return unlock, true
	}
	if errors.Is(err, domain.ErrLockHeld) {
		writeError(w, http.StatusConflict, "another command for this position is in progress")
		return nil, false
	}
	h.logger.ErrorContext(r.Context(), "handler: acquire position lock failed",
		slog.String("position", id.String()),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusServiceUnavailable, "position lock unavailable")
	return nil, false
}
