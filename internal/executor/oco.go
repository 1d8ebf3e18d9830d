package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// OCOExecutor protects an entry with a one-cancels-the-other pair: a
// stop-limit below and a take-profit above the trigger.
type OCOExecutor struct {
	base
}

func NewOCOExecutor(
	engine domain.ExecutionEngine,
	store domain.PositionStateStore,
	sizer domain.PositionSizer,
	params Params,
	logger *slog.Logger,
) *OCOExecutor {
	return &OCOExecutor{base{
		engine: engine,
		store:  store,
		sizer:  sizer,
		params: params,
		logger: logger.With(slog.String("component", "executor"), slog.String("variant", "oco")),
	}}
}

// Open buys and places the OCO pair. If the pair cannot be placed the entry
// is sold at market and the result is ABORTED_FAILED_TO_CREATE_EXIT_ORDERS.
// Only a failure of that sell is returned as an error.
func (x *OCOExecutor) Open(ctx context.Context, req domain.OpenRequest) (domain.TradeResult, error) {
	e, result, err := x.enter(ctx, req)
	if err != nil || e == nil {
		return result, err
	}
	result = e.result
	id := req.PositionID()

	var cids [3]string
	for i := range cids {
		if cids[i], err = x.clientOrderID(ctx, req.Edge, req.TradeID); err != nil {
			return result, err
		}
	}
	stopCID, takeProfitCID, listCID := cids[0], cids[1], cids[2]

	// Recorded before submission so a crash mid-request still leaves a
	// handle for close to cancel.
	if err := x.store.SetOCOOrderID(ctx, id, listCID); err != nil {
		return result, fmt.Errorf("executor: persist oco order id: %w", err)
	}

	oco, err := x.engine.OCOSell(ctx, domain.OCOSellCommand{
		Market:                  e.market,
		BaseAmount:              e.quantity,
		StopPrice:               e.stop,
		StopLimitPrice:          e.stopLimit,
		TakeProfitPrice:         e.takeProfit,
		StopClientOrderID:       stopCID,
		TakeProfitClientOrderID: takeProfitCID,
		ListClientOrderID:       listCID,
	})
	if err != nil {
		return x.abort(ctx, req, e, result, err)
	}

	listID := oco.OrderListID
	if listID == "" {
		listID = listCID
	}
	if listID != listCID {
		if err := x.store.SetOCOOrderID(ctx, id, listID); err != nil {
			return result, fmt.Errorf("executor: persist oco order id: %w", err)
		}
	}
	x.logger.InfoContext(ctx, "oco placed",
		slog.String("market", e.market.Symbol),
		slog.String("order_list_id", listID),
		slog.String("stop_price", e.stop.String()),
		slog.String("take_profit_price", e.takeProfit.String()),
	)

	stop, takeProfit := e.stop, e.takeProfit
	result.Status = domain.TradeStatusSuccess
	result.OCOOrderID = listID
	result.StopPrice = &stop
	result.TakeProfitPrice = &takeProfit
	return result, nil
}

// abort unwinds an entry whose exit orders could not be placed.
func (x *OCOExecutor) abort(
	ctx context.Context,
	req domain.OpenRequest,
	e *entry,
	result domain.TradeResult,
	cause error,
) (domain.TradeResult, error) {
	logger := x.logger.With(slog.String("position", req.PositionID().String()))
	logger.ErrorContext(ctx, "oco placement failed, selling entry",
		slog.String("error", cause.Error()),
	)

	if err := x.store.ClearOCOOrderID(ctx, req.PositionID()); err != nil {
		logger.ErrorContext(ctx, "clear oco order id failed", slog.String("error", err.Error()))
	}

	cid, err := x.clientOrderID(ctx, req.Edge, req.TradeID)
	if err != nil {
		return result, fmt.Errorf("executor: oco failed (%v), dump not attempted: %w", cause, err)
	}
	sell, err := x.engine.MarketSell(ctx, domain.MarketSellCommand{
		Market:        e.market,
		BaseAmount:    e.quantity,
		ClientOrderID: cid,
	})
	if err != nil {
		return result, fmt.Errorf("executor: oco failed (%v), market sell of entry failed: %w", cause, err)
	}
	logger.WarnContext(ctx, "entry sold after oco failure",
		slog.String("order_id", sell.OrderID),
		slog.String("quantity", sell.ExecutedBaseQuantity.String()),
	)

	result.Status = domain.TradeStatusAbortedExitOrdersFailed
	result.Message = cause.Error()
	result.SellOrderID = sell.OrderID
	return result, nil
}

func (x *OCOExecutor) Close(ctx context.Context, req domain.CloseRequest) (domain.TradeResult, error) {
	return x.closePosition(ctx, req)
}
