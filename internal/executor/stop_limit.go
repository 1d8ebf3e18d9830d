package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// StopLimitExecutor protects an entry with a single stop-limit sell.
type StopLimitExecutor struct {
	base
}

func NewStopLimitExecutor(
	engine domain.ExecutionEngine,
	store domain.PositionStateStore,
	sizer domain.PositionSizer,
	params Params,
	logger *slog.Logger,
) *StopLimitExecutor {
	return &StopLimitExecutor{base{
		engine: engine,
		store:  store,
		sizer:  sizer,
		params: params,
		logger: logger.With(slog.String("component", "executor"), slog.String("variant", "stop_limit")),
	}}
}

// Open buys and then places the stop. A failed stop placement is returned as
// an error with the entry left in place.
func (x *StopLimitExecutor) Open(ctx context.Context, req domain.OpenRequest) (domain.TradeResult, error) {
	e, result, err := x.enter(ctx, req)
	if err != nil || e == nil {
		return result, err
	}
	result = e.result

	cid, err := x.clientOrderID(ctx, req.Edge, req.TradeID)
	if err != nil {
		return result, err
	}
	stop, err := x.engine.StopLimitSell(ctx, domain.StopLimitSellCommand{
		Market:        e.market,
		BaseAmount:    e.quantity,
		StopPrice:     e.stop,
		LimitPrice:    e.stopLimit,
		ClientOrderID: cid,
	})
	if err != nil {
		return result, fmt.Errorf("executor: stop limit sell %s: %w", e.market.Symbol, err)
	}
	if err := x.store.SetStopOrderID(ctx, req.PositionID(), stop.OrderID); err != nil {
		return result, fmt.Errorf("executor: persist stop order id: %w", err)
	}
	x.logger.InfoContext(ctx, "stop placed",
		slog.String("market", e.market.Symbol),
		slog.String("order_id", stop.OrderID),
		slog.String("stop_price", e.stop.String()),
	)

	stopPrice := e.stop
	if stop.StopPrice.IsPositive() {
		stopPrice = stop.StopPrice
	}
	result.Status = domain.TradeStatusSuccess
	result.StopOrderID = stop.OrderID
	result.StopPrice = &stopPrice
	return result, nil
}

func (x *StopLimitExecutor) Close(ctx context.Context, req domain.CloseRequest) (domain.TradeResult, error) {
	return x.closePosition(ctx, req)
}
