// Package executor turns open and close commands into exchange orders.
// Every variant enters with an IOC limit buy and leaves with a market sell;
// the variants differ in the protective orders placed after entry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Params are the percentage offsets from the trigger price. A value of 0.5
// means half a percent.
type Params struct {
	BuySlippagePct decimal.Decimal
	StopPct        decimal.Decimal
	StopLimitPct   decimal.Decimal
	TakeProfitPct  decimal.Decimal
}

// Validate checks that the offsets produce sane exit prices.
func (p Params) Validate() error {
	var errs []error
	if p.BuySlippagePct.IsNegative() {
		errs = append(errs, errors.New("buy slippage must not be negative"))
	}
	if !p.StopPct.IsPositive() || p.StopPct.GreaterThanOrEqual(hundred) {
		errs = append(errs, errors.New("stop percentage must be in (0, 100)"))
	}
	if p.StopLimitPct.LessThan(p.StopPct) || p.StopLimitPct.GreaterThanOrEqual(hundred) {
		errs = append(errs, errors.New("stop limit percentage must be in [stop, 100)"))
	}
	if p.TakeProfitPct.IsNegative() {
		errs = append(errs, errors.New("take profit percentage must not be negative"))
	}
	return errors.Join(errs...)
}

func above(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Add(pct)).Div(hundred).Round(domain.SatsScale)
}

func below(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(pct)).Div(hundred).Round(domain.SatsScale)
}

// base holds what every variant shares: entry and close.
type base struct {
	engine domain.ExecutionEngine
	store  domain.PositionStateStore
	sizer  domain.PositionSizer
	params Params
	logger *slog.Logger
}

// entry is the outcome of a successful entry.
type entry struct {
	market     domain.MarketIdentifier
	quantity   decimal.Decimal
	stop       decimal.Decimal
	stopLimit  decimal.Decimal
	takeProfit decimal.Decimal
	result     domain.TradeResult
}

// enter sizes and submits the IOC limit buy. A nil entry with a nil error
// means nothing filled and result carries ENTRY_FAILED_TO_FILL.
func (b *base) enter(ctx context.Context, req domain.OpenRequest) (*entry, domain.TradeResult, error) {
	result := domain.TradeResult{
		TradeID:    req.TradeID,
		Edge:       req.Edge,
		BaseAsset:  req.BaseAsset,
		QuoteAsset: req.QuoteAsset,
	}

	market, err := b.engine.MarketIdentifierFor(ctx, req.QuoteAsset, req.BaseAsset)
	if err != nil {
		return nil, result, fmt.Errorf("executor: resolve market %s/%s: %w", req.BaseAsset, req.QuoteAsset, err)
	}

	var trigger decimal.Decimal
	if req.TriggerPrice != nil {
		trigger = *req.TriggerPrice
	} else {
		trigger, err = b.engine.CurrentPrice(ctx, market)
		if err != nil {
			return nil, result, fmt.Errorf("executor: current price %s: %w", market.Symbol, err)
		}
	}
	if !trigger.IsPositive() {
		return nil, result, fmt.Errorf("executor: %w: trigger price %s for %s", domain.ErrNoPrice, trigger, market.Symbol)
	}
	result.TriggerPrice = &trigger

	quote, err := b.sizer.PositionSizeInQuoteAsset(ctx, domain.SizeRequest{
		BaseAsset:  req.BaseAsset,
		QuoteAsset: req.QuoteAsset,
		Edge:       req.Edge,
		Direction:  req.Direction,
	})
	if err != nil {
		return nil, result, fmt.Errorf("executor: position size: %w", err)
	}

	limit := above(trigger, b.params.BuySlippagePct)
	qty := quote.Div(limit).Truncate(domain.SatsScale)
	if !qty.IsPositive() {
		return nil, result, fmt.Errorf("executor: quote amount %s %s buys nothing at %s", quote, req.QuoteAsset, limit)
	}

	cid, err := b.clientOrderID(ctx, req.Edge, req.TradeID)
	if err != nil {
		return nil, result, err
	}
	b.logger.InfoContext(ctx, "submitting entry",
		slog.String("market", market.Symbol),
		slog.String("trade_id", req.TradeID),
		slog.String("quantity", qty.String()),
		slog.String("limit_price", limit.String()),
	)
	buy, err := b.engine.LimitBuy(ctx, domain.LimitBuyCommand{
		Market:        market,
		BaseAmount:    qty,
		LimitPrice:    limit,
		ClientOrderID: cid,
	})
	if err != nil {
		return nil, result, fmt.Errorf("executor: limit buy %s: %w", market.Symbol, err)
	}
	result.BuyOrderID = buy.OrderID

	if !buy.ExecutedBaseQuantity.IsPositive() {
		b.logger.InfoContext(ctx, "entry did not fill",
			slog.String("market", market.Symbol),
			slog.String("order_id", buy.OrderID),
		)
		result.Status = domain.TradeStatusEntryFailedToFill
		result.Message = "entry order did not fill"
		return nil, result, nil
	}

	result.ExecutedPrice = decimalPtr(buy.AverageExecutionPrice)
	result.ExecutedBaseQuantity = decimalPtr(buy.ExecutedBaseQuantity)
	result.ExecutedQuoteQuantity = decimalPtr(buy.ExecutedQuoteQuantity)

	e := &entry{
		market:     market,
		quantity:   buy.ExecutedBaseQuantity,
		stop:       below(trigger, b.params.StopPct),
		stopLimit:  below(trigger, b.params.StopLimitPct),
		takeProfit: above(trigger, b.params.TakeProfitPct),
		result:     result,
	}
	return e, result, nil
}

// closePosition cancels any protective orders and market-sells the full size.
func (b *base) closePosition(ctx context.Context, req domain.CloseRequest) (domain.TradeResult, error) {
	result := domain.TradeResult{
		TradeID:    req.TradeID,
		Edge:       req.Edge,
		BaseAsset:  req.BaseAsset,
		QuoteAsset: req.QuoteAsset,
	}
	id := req.PositionID()
	logger := b.logger.With(slog.String("position", id.String()))

	size, err := b.store.GetPositionSize(ctx, id)
	if err != nil {
		return result, fmt.Errorf("executor: position size %s: %w", id, err)
	}
	if size <= 0 {
		result.Status = domain.TradeStatusNotFound
		result.Message = "not in position"
		return result, nil
	}

	market, err := b.engine.MarketIdentifierFor(ctx, req.QuoteAsset, req.BaseAsset)
	if err != nil {
		return result, fmt.Errorf("executor: resolve market %s/%s: %w", req.BaseAsset, req.QuoteAsset, err)
	}

	b.cancelExits(ctx, logger, id, market)

	cid, err := b.clientOrderID(ctx, req.Edge, req.TradeID)
	if err != nil {
		return result, err
	}
	sell, err := b.engine.MarketSell(ctx, domain.MarketSellCommand{
		Market:        market,
		BaseAmount:    size.Decimal(),
		ClientOrderID: cid,
	})
	if err != nil {
		return result, fmt.Errorf("executor: market sell %s: %w", market.Symbol, err)
	}
	logger.InfoContext(ctx, "position sold",
		slog.String("order_id", sell.OrderID),
		slog.String("quantity", sell.ExecutedBaseQuantity.String()),
	)

	result.Status = domain.TradeStatusSuccess
	result.SellOrderID = sell.OrderID
	result.ExecutedPrice = decimalPtr(sell.AverageExecutionPrice)
	result.ExecutedBaseQuantity = decimalPtr(sell.ExecutedBaseQuantity)
	result.ExecutedQuoteQuantity = decimalPtr(sell.ExecutedQuoteQuantity)
	return result, nil
}

// cancelExits is best effort. A cancel failure usually means the order has
// already triggered or expired.
func (b *base) cancelExits(ctx context.Context, logger *slog.Logger, id domain.PositionIdentifier, market domain.MarketIdentifier) {
	stopID, err := b.store.GetStopOrderID(ctx, id)
	switch {
	case err == nil:
		if err := b.engine.CancelOrder(ctx, stopID, market); err != nil {
			logger.WarnContext(ctx, "cancel stop order failed",
				slog.String("order_id", stopID),
				slog.String("error", err.Error()),
			)
		}
	case !errors.Is(err, domain.ErrNotFound):
		logger.WarnContext(ctx, "read stop order id failed", slog.String("error", err.Error()))
	}

	ocoID, err := b.store.GetOCOOrderID(ctx, id)
	switch {
	case err == nil:
		if err := b.engine.CancelOCOOrder(ctx, ocoID, market); err != nil {
			logger.WarnContext(ctx, "cancel oco order failed",
				slog.String("order_list_id", ocoID),
				slog.String("error", err.Error()),
			)
		}
	case !errors.Is(err, domain.ErrNotFound):
		logger.WarnContext(ctx, "read oco order id failed", slog.String("error", err.Error()))
	}
}

func (b *base) clientOrderID(ctx context.Context, edge domain.Edge, tradeID string) (string, error) {
	cid, err := b.engine.StoreOrderContextAndGenerateClientOrderID(ctx, domain.OrderContext{Edge: edge, TradeID: tradeID})
	if err != nil {
		return "", fmt.Errorf("executor: store order context: %w", err)
	}
	return cid, nil
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
