// Package paper simulates a spot exchange against cached prices. Fills are
// written to the fill stream exactly as a live venue adapter would, so the
// position tracker cannot tell the difference.
package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// Config controls the simulated venue.
type Config struct {
	Exchange domain.ExchangeIdentifier
	// MaxPriceAge rejects prices older than this. Zero disables the check.
	MaxPriceAge time.Duration
	// RejectOCO makes every OCO placement fail.
	RejectOCO bool
}

type restingKind int

const (
	kindStopLimit restingKind = iota
	kindTakeProfit
)

type restingOrder struct {
	id         string
	listID     string
	kind       restingKind
	market     domain.MarketIdentifier
	quantity   decimal.Decimal
	stopPrice  decimal.Decimal
	limitPrice decimal.Decimal
}

// Engine implements domain.ExecutionEngine.
type Engine struct {
	cfg      Config
	prices   domain.PriceCache
	contexts domain.OrderContextStore
	bus      domain.SignalBus
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	resting map[string]restingOrder
	lists   map[string][]string
}

var _ domain.ExecutionEngine = (*Engine)(nil)

func New(
	cfg Config,
	prices domain.PriceCache,
	contexts domain.OrderContextStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		prices:   prices,
		contexts: contexts,
		bus:      bus,
		logger:   logger.With(slog.String("component", "paper_engine")),
		now:      time.Now,
		resting:  make(map[string]restingOrder),
		lists:    make(map[string][]string),
	}
}

func (e *Engine) ExchangeIdentifier() domain.ExchangeIdentifier { return e.cfg.Exchange }

func (e *Engine) MarketIdentifierFor(_ context.Context, quoteAsset, baseAsset string) (domain.MarketIdentifier, error) {
	base := strings.ToUpper(strings.TrimSpace(baseAsset))
	quote := strings.ToUpper(strings.TrimSpace(quoteAsset))
	if base == "" || quote == "" {
		return domain.MarketIdentifier{}, fmt.Errorf("paper: market needs base and quote asset, got %q/%q", baseAsset, quoteAsset)
	}
	return domain.MarketIdentifier{Symbol: base + quote, BaseAsset: base, QuoteAsset: quote}, nil
}

func (e *Engine) CurrentPrice(ctx context.Context, market domain.MarketIdentifier) (decimal.Decimal, error) {
	price, ts, err := e.prices.GetPrice(ctx, market.Symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("paper: %s: %w", market.Symbol, domain.ErrNoPrice)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("paper: price %s: %w", market.Symbol, err)
	}
	if e.cfg.MaxPriceAge > 0 && e.now().Sub(ts) > e.cfg.MaxPriceAge {
		return decimal.Zero, fmt.Errorf("paper: %s price is %s old: %w", market.Symbol, e.now().Sub(ts).Round(time.Second), domain.ErrNoPrice)
	}
	return price, nil
}

// LimitBuy fills the whole amount at the current price when it is at or
// below the limit, and fills nothing otherwise.
func (e *Engine) LimitBuy(ctx context.Context, cmd domain.LimitBuyCommand) (domain.LimitBuyResult, error) {
	price, err := e.CurrentPrice(ctx, cmd.Market)
	if err != nil {
		return domain.LimitBuyResult{}, err
	}
	orderID := orderIDOr(cmd.ClientOrderID)
	if price.GreaterThan(cmd.LimitPrice) {
		e.logger.InfoContext(ctx, "limit buy expired unfilled",
			slog.String("market", cmd.Market.Symbol),
			slog.String("limit_price", cmd.LimitPrice.String()),
			slog.String("price", price.String()),
		)
		return domain.LimitBuyResult{OrderID: orderID}, nil
	}

	quote := cmd.BaseAmount.Mul(price).Truncate(domain.SatsScale)
	if err := e.publishFill(ctx, orderID, cmd.Market, domain.OrderSideBuy, cmd.BaseAmount, quote, price); err != nil {
		return domain.LimitBuyResult{}, err
	}
	return domain.LimitBuyResult{
		OrderID:               orderID,
		ExecutedBaseQuantity:  cmd.BaseAmount,
		ExecutedQuoteQuantity: quote,
		AverageExecutionPrice: price,
	}, nil
}

func (e *Engine) StopLimitSell(_ context.Context, cmd domain.StopLimitSellCommand) (domain.StopLimitSellResult, error) {
	if !cmd.StopPrice.IsPositive() || cmd.LimitPrice.GreaterThan(cmd.StopPrice) {
		return domain.StopLimitSellResult{}, fmt.Errorf("paper: stop %s limit %s: %w", cmd.StopPrice, cmd.LimitPrice, domain.ErrOrderRejected)
	}
	orderID := orderIDOr(cmd.ClientOrderID)
	e.mu.Lock()
	e.resting[orderID] = restingOrder{
		id:         orderID,
		kind:       kindStopLimit,
		market:     cmd.Market,
		quantity:   cmd.BaseAmount,
		stopPrice:  cmd.StopPrice,
		limitPrice: cmd.LimitPrice,
	}
	e.mu.Unlock()
	return domain.StopLimitSellResult{OrderID: orderID, StopPrice: cmd.StopPrice}, nil
}

func (e *Engine) OCOSell(_ context.Context, cmd domain.OCOSellCommand) (domain.OCOSellResult, error) {
	if e.cfg.RejectOCO {
		return domain.OCOSellResult{}, fmt.Errorf("paper: oco rejected by configuration: %w", domain.ErrOrderRejected)
	}
	if !cmd.TakeProfitPrice.GreaterThan(cmd.StopPrice) || cmd.StopLimitPrice.GreaterThan(cmd.StopPrice) {
		return domain.OCOSellResult{}, fmt.Errorf("paper: oco prices stop %s limit %s take profit %s: %w",
			cmd.StopPrice, cmd.StopLimitPrice, cmd.TakeProfitPrice, domain.ErrOrderRejected)
	}

	listID := orderIDOr(cmd.ListClientOrderID)
	stopID := orderIDOr(cmd.StopClientOrderID)
	tpID := orderIDOr(cmd.TakeProfitClientOrderID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.resting[stopID] = restingOrder{
		id: stopID, listID: listID, kind: kindStopLimit, market: cmd.Market,
		quantity: cmd.BaseAmount, stopPrice: cmd.StopPrice, limitPrice: cmd.StopLimitPrice,
	}
	e.resting[tpID] = restingOrder{
		id: tpID, listID: listID, kind: kindTakeProfit, market: cmd.Market,
		quantity: cmd.BaseAmount, limitPrice: cmd.TakeProfitPrice,
	}
	e.lists[listID] = []string{stopID, tpID}
	return domain.OCOSellResult{OrderListID: listID}, nil
}

// MarketSell fills the whole amount at the current price.
func (e *Engine) MarketSell(ctx context.Context, cmd domain.MarketSellCommand) (domain.MarketSellResult, error) {
	price, err := e.CurrentPrice(ctx, cmd.Market)
	if err != nil {
		return domain.MarketSellResult{}, err
	}
	orderID := orderIDOr(cmd.ClientOrderID)
	quote := cmd.BaseAmount.Mul(price).Truncate(domain.SatsScale)
	if err := e.publishFill(ctx, orderID, cmd.Market, domain.OrderSideSell, cmd.BaseAmount, quote, price); err != nil {
		return domain.MarketSellResult{}, err
	}
	return domain.MarketSellResult{
		OrderID:               orderID,
		ExecutedBaseQuantity:  cmd.BaseAmount,
		ExecutedQuoteQuantity: quote,
		AverageExecutionPrice: price,
	}, nil
}

func (e *Engine) CancelOrder(_ context.Context, orderID string, _ domain.MarketIdentifier) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.resting[orderID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	e.removeLocked(o)
	return nil
}

func (e *Engine) CancelOCOOrder(_ context.Context, orderListID string, _ domain.MarketIdentifier) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	legs, ok := e.lists[orderListID]
	if !ok {
		return fmt.Errorf("paper: cancel list %s: %w", orderListID, domain.ErrNotFound)
	}
	for _, id := range legs {
		delete(e.resting, id)
	}
	delete(e.lists, orderListID)
	return nil
}

func (e *Engine) StoreOrderContextAndGenerateClientOrderID(ctx context.Context, octx domain.OrderContext) (string, error) {
	id := uuid.NewString()
	if err := e.contexts.Set(ctx, e.cfg.Exchange, id, octx); err != nil {
		return "", fmt.Errorf("paper: store order context: %w", err)
	}
	return id, nil
}

// RestingOrders returns the ids of orders waiting to trigger, sorted.
func (e *Engine) RestingOrders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.resting))
	for id := range e.resting {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate fires every resting order whose trigger the current price has
// crossed. A stop fills at the current price unless that is below its limit.
// A take-profit fills at its limit. Filling one leg of a list cancels the other.
func (e *Engine) Evaluate(ctx context.Context) error {
	e.mu.Lock()
	orders := make([]restingOrder, 0, len(e.resting))
	for _, o := range e.resting {
		orders = append(orders, o)
	}
	e.mu.Unlock()
	sort.Slice(orders, func(i, j int) bool { return orders[i].id < orders[j].id })

	var errs []error
	for _, o := range orders {
		price, err := e.CurrentPrice(ctx, o.market)
		if err != nil {
			if !errors.Is(err, domain.ErrNoPrice) {
				errs = append(errs, err)
			}
			continue
		}

		var fillPrice decimal.Decimal
		switch o.kind {
		case kindStopLimit:
			if price.GreaterThan(o.stopPrice) || price.LessThan(o.limitPrice) {
				continue
			}
			fillPrice = price
		case kindTakeProfit:
			if price.LessThan(o.limitPrice) {
				continue
			}
			fillPrice = o.limitPrice
		}

		if !e.claim(o) {
			continue
		}
		quote := o.quantity.Mul(fillPrice).Truncate(domain.SatsScale)
		if err := e.publishFill(ctx, o.id, o.market, domain.OrderSideSell, o.quantity, quote, fillPrice); err != nil {
			errs = append(errs, err)
			continue
		}
		e.logger.InfoContext(ctx, "resting order filled",
			slog.String("order_id", o.id),
			slog.String("market", o.market.Symbol),
			slog.String("price", fillPrice.String()),
		)
	}
	return errors.Join(errs...)
}

// Run calls Evaluate every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Evaluate(ctx); err != nil {
				e.logger.WarnContext(ctx, "evaluate resting orders", slog.String("error", err.Error()))
			}
		}
	}
}

// claim removes o (and its list siblings) if it is still resting.
func (e *Engine) claim(o restingOrder) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.resting[o.id]; !ok {
		return false
	}
	e.removeLocked(o)
	return true
}

func (e *Engine) removeLocked(o restingOrder) {
	delete(e.resting, o.id)
	if o.listID == "" {
		return
	}
	for _, id := range e.lists[o.listID] {
		delete(e.resting, id)
	}
	delete(e.lists, o.listID)
}

func (e *Engine) publishFill(
	ctx context.Context,
	orderID string,
	market domain.MarketIdentifier,
	side domain.OrderSide,
	base, quote, price decimal.Decimal,
) error {
	baseSats, err := domain.SatsFromDecimalTruncated(base)
	if err != nil {
		return fmt.Errorf("paper: fill quantity: %w", err)
	}
	quoteSats, err := domain.SatsFromDecimalTruncated(quote)
	if err != nil {
		return fmt.Errorf("paper: fill quote: %w", err)
	}
	priceSats, err := domain.SatsFromDecimalTruncated(price)
	if err != nil {
		return fmt.Errorf("paper: fill price: %w", err)
	}

	fill := domain.GenericOrderFill{
		ExchangeIdentifier:      e.cfg.Exchange,
		OrderID:                 orderID,
		MarketSymbol:            market.Symbol,
		BaseAsset:               market.BaseAsset,
		QuoteAsset:              market.QuoteAsset,
		Side:                    side,
		OrderTimeMs:             e.now().UnixMilli(),
		TotalBaseTradeQuantity:  baseSats,
		TotalQuoteTradeQuantity: quoteSats,
		AverageExecutionPrice:   &priceSats,
	}
	data, err := json.Marshal(fill)
	if err != nil {
		return fmt.Errorf("paper: marshal fill: %w", err)
	}
	if err := e.bus.StreamAppend(ctx, domain.StreamFills, data); err != nil {
		return fmt.Errorf("paper: publish fill %s: %w", orderID, err)
	}
	return nil
}

func orderIDOr(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
