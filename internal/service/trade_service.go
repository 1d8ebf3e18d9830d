package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/metrics"
	"github.com/alanyoungcy/spotbot/internal/notify"
)

// Executor runs the exchange side of an open or close for one edge.
type Executor interface {
	Open(ctx context.Context, req domain.OpenRequest) (domain.TradeResult, error)
	Close(ctx context.Context, req domain.CloseRequest) (domain.TradeResult, error)
}

// TradeService guards open and close commands and hands them to the
// executor configured for the command's edge. It does not serialize
// commands for the same position; callers hold a lock for that.
type TradeService struct {
	positions  *Positions
	executors  map[domain.Edge]Executor
	authorised domain.EdgeSet
	exchange   domain.ExchangeIdentifier
	quoteAsset func(domain.Edge) string
	alerts     Alerter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// TradeServiceConfig carries the static routing for a TradeService.
type TradeServiceConfig struct {
	Exchange   domain.ExchangeIdentifier
	Authorised domain.EdgeSet
	Executors  map[domain.Edge]Executor
	// QuoteAsset resolves the quote asset for an edge when a request
	// leaves it empty.
	QuoteAsset func(domain.Edge) string
}

func NewTradeService(
	cfg TradeServiceConfig,
	positions *Positions,
	alerts Alerter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *TradeService {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	quote := cfg.QuoteAsset
	if quote == nil {
		quote = func(domain.Edge) string { return "USDT" }
	}
	return &TradeService{
		positions:  positions,
		executors:  cfg.Executors,
		authorised: cfg.Authorised,
		exchange:   cfg.Exchange,
		quoteAsset: quote,
		alerts:     alerts,
		metrics:    m,
		logger:     logger.With(slog.String("component", "trade_service")),
	}
}

// Exchange returns the exchange every command is routed to.
func (s *TradeService) Exchange() domain.ExchangeIdentifier { return s.exchange }

// Open enters a position unless the edge is not authorised or the position
// is already held.
func (s *TradeService) Open(ctx context.Context, req domain.OpenRequest) domain.TradeResult {
	req = s.normaliseOpen(req)
	id := req.PositionID()
	logger := s.logger.With(slog.String("position", id.String()), slog.String("trade_id", req.TradeID))

	result := domain.TradeResult{
		TradeID:      req.TradeID,
		Edge:         req.Edge,
		BaseAsset:    req.BaseAsset,
		QuoteAsset:   req.QuoteAsset,
		TriggerPrice: req.TriggerPrice,
	}

	exec, status := s.route(req.Edge)
	if status != "" {
		logger.WarnContext(ctx, "open rejected", slog.String("status", string(status)))
		return s.finish("open", withStatus(result, status, routeMessage(status)))
	}

	in, err := s.positions.InPosition(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "open: position lookup failed", slog.String("error", err.Error()))
		return s.finish("open", withStatus(result, domain.TradeStatusInternalServerError, err.Error()))
	}
	if in {
		logger.InfoContext(ctx, "open rejected, already in position")
		return s.finish("open", withStatus(result, domain.TradeStatusAlreadyInPosition, "already in position"))
	}

	res, err := exec.Open(context.WithoutCancel(ctx), req)
	if err != nil {
		logger.ErrorContext(ctx, "open failed", slog.String("error", err.Error()))
		return s.finish("open", withStatus(result, domain.TradeStatusInternalServerError, err.Error()))
	}
	if res.Status == domain.TradeStatusAbortedExitOrdersFailed {
		s.metrics.ExitOrderAborts.Inc()
		s.alert(ctx, notify.EventExitOrderAbort,
			fmt.Sprintf("Exit orders failed for %s (%s)", req.BaseAsset, req.Edge),
			fmt.Sprintf("Entry was sold back at market.\nTrade: %s\n%s", req.TradeID, res.Message))
	}
	logger.InfoContext(ctx, "open finished", slog.String("status", string(res.Status)))
	return s.finish("open", res)
}

// Close exits a held position. Nothing is sent to the exchange when the
// position is not held.
func (s *TradeService) Close(ctx context.Context, req domain.CloseRequest) domain.TradeResult {
	req = s.normaliseClose(req)
	id := req.PositionID()
	logger := s.logger.With(slog.String("position", id.String()), slog.String("trade_id", req.TradeID))

	result := domain.TradeResult{
		TradeID:    req.TradeID,
		Edge:       req.Edge,
		BaseAsset:  req.BaseAsset,
		QuoteAsset: req.QuoteAsset,
	}

	exec, status := s.route(req.Edge)
	if status != "" {
		logger.WarnContext(ctx, "close rejected", slog.String("status", string(status)))
		return s.finish("close", withStatus(result, status, routeMessage(status)))
	}

	in, err := s.positions.InPosition(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "close: position lookup failed", slog.String("error", err.Error()))
		return s.finish("close", withStatus(result, domain.TradeStatusInternalServerError, err.Error()))
	}
	if !in {
		logger.InfoContext(ctx, "close rejected, not in position")
		return s.finish("close", withStatus(result, domain.TradeStatusNotFound, "not in position"))
	}

	res, err := exec.Close(context.WithoutCancel(ctx), req)
	if err != nil {
		logger.ErrorContext(ctx, "close failed", slog.String("error", err.Error()))
		return s.finish("close", withStatus(result, domain.TradeStatusInternalServerError, err.Error()))
	}
	logger.InfoContext(ctx, "close finished", slog.String("status", string(res.Status)))
	return s.finish("close", res)
}

func (s *TradeService) route(edge domain.Edge) (Executor, domain.TradeStatus) {
	if edge.IsZero() || edge == domain.EdgeUndefined || !s.authorised.Contains(edge) {
		return nil, domain.TradeStatusUnauthorised
	}
	exec, ok := s.executors[edge]
	if !ok {
		s.logger.Error("authorised edge has no executor", slog.String("edge", edge.String()))
		return nil, domain.TradeStatusInternalServerError
	}
	return exec, ""
}

func (s *TradeService) normaliseOpen(req domain.OpenRequest) domain.OpenRequest {
	req.ExchangeIdentifier = s.exchange
	req.BaseAsset = strings.ToUpper(strings.TrimSpace(req.BaseAsset))
	if req.QuoteAsset == "" {
		req.QuoteAsset = s.quoteAsset(req.Edge)
	}
	if req.TradeID == "" {
		req.TradeID = uuid.NewString()
	}
	return req
}

func (s *TradeService) normaliseClose(req domain.CloseRequest) domain.CloseRequest {
	req.ExchangeIdentifier = s.exchange
	req.BaseAsset = strings.ToUpper(strings.TrimSpace(req.BaseAsset))
	if req.QuoteAsset == "" {
		req.QuoteAsset = s.quoteAsset(req.Edge)
	}
	if req.TradeID == "" {
		req.TradeID = uuid.NewString()
	}
	return req
}

func (s *TradeService) finish(command string, res domain.TradeResult) domain.TradeResult {
	s.metrics.TradeCommands.WithLabelValues(command, string(res.Status)).Inc()
	return res
}

func (s *TradeService) alert(ctx context.Context, event, title, msg string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func routeMessage(status domain.TradeStatus) string {
	if status == domain.TradeStatusUnauthorised {
		return "edge not authorised"
	}
	return "no executor configured for edge"
}

func withStatus(res domain.TradeResult, status domain.TradeStatus, msg string) domain.TradeResult {
	res.Status = status
	res.Message = msg
	return res
}
