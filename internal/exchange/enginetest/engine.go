// Package enginetest provides a scriptable in-memory ExecutionEngine for
// tests. Every call is recorded; behaviour is overridden through the Fn
// fields.
package enginetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// Engine is a fake execution engine. The zero value is not usable; call New.
type Engine struct {
	mu sync.Mutex

	Exchange domain.ExchangeIdentifier
	Price    decimal.Decimal
	PriceErr error

	// LimitBuyFn defaults to a full fill at the limit price.
	LimitBuyFn func(domain.LimitBuyCommand) (domain.LimitBuyResult, error)
	// StopLimitSellFn defaults to accepting the order.
	StopLimitSellFn func(domain.StopLimitSellCommand) (domain.StopLimitSellResult, error)
	// OCOSellFn defaults to accepting the list under its client id.
	OCOSellFn func(domain.OCOSellCommand) (domain.OCOSellResult, error)
	// MarketSellFn defaults to a full fill at Price.
	MarketSellFn func(domain.MarketSellCommand) (domain.MarketSellResult, error)
	CancelErr    error
	CancelOCOErr error

	Calls          []string
	LimitBuys      []domain.LimitBuyCommand
	StopLimitSells []domain.StopLimitSellCommand
	OCOSells       []domain.OCOSellCommand
	MarketSells    []domain.MarketSellCommand
	Cancelled      []string
	CancelledOCO   []string
	Contexts       map[string]domain.OrderContext

	nextID int
}

var _ domain.ExecutionEngine = (*Engine)(nil)

func New(price string) *Engine {
	return &Engine{
		Exchange: domain.ExchangeIdentifier{Type: "spot", Exchange: "binance", Account: "default"},
		Price:    decimal.RequireFromString(price),
		Contexts: make(map[string]domain.OrderContext),
	}
}

func (e *Engine) record(call string) {
	e.Calls = append(e.Calls, call)
}

// CallCount returns how many calls were made to method.
func (e *Engine) CallCount(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (e *Engine) ExchangeIdentifier() domain.ExchangeIdentifier { return e.Exchange }

func (e *Engine) MarketIdentifierFor(_ context.Context, quoteAsset, baseAsset string) (domain.MarketIdentifier, error) {
	return domain.MarketIdentifier{
		Symbol:     strings.ToUpper(baseAsset + quoteAsset),
		BaseAsset:  strings.ToUpper(baseAsset),
		QuoteAsset: strings.ToUpper(quoteAsset),
	}, nil
}

func (e *Engine) CurrentPrice(_ context.Context, _ domain.MarketIdentifier) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("CurrentPrice")
	return e.Price, e.PriceErr
}

func (e *Engine) LimitBuy(_ context.Context, cmd domain.LimitBuyCommand) (domain.LimitBuyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("LimitBuy")
	e.LimitBuys = append(e.LimitBuys, cmd)
	if e.LimitBuyFn != nil {
		return e.LimitBuyFn(cmd)
	}
	return domain.LimitBuyResult{
		OrderID:               cmd.ClientOrderID,
		ExecutedBaseQuantity:  cmd.BaseAmount,
		ExecutedQuoteQuantity: cmd.BaseAmount.Mul(cmd.LimitPrice),
		AverageExecutionPrice: cmd.LimitPrice,
	}, nil
}

func (e *Engine) StopLimitSell(_ context.Context, cmd domain.StopLimitSellCommand) (domain.StopLimitSellResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("StopLimitSell")
	e.StopLimitSells = append(e.StopLimitSells, cmd)
	if e.StopLimitSellFn != nil {
		return e.StopLimitSellFn(cmd)
	}
	return domain.StopLimitSellResult{OrderID: cmd.ClientOrderID, StopPrice: cmd.StopPrice}, nil
}

func (e *Engine) OCOSell(_ context.Context, cmd domain.OCOSellCommand) (domain.OCOSellResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("OCOSell")
	e.OCOSells = append(e.OCOSells, cmd)
	if e.OCOSellFn != nil {
		return e.OCOSellFn(cmd)
	}
	return domain.OCOSellResult{OrderListID: cmd.ListClientOrderID}, nil
}

func (e *Engine) MarketSell(_ context.Context, cmd domain.MarketSellCommand) (domain.MarketSellResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("MarketSell")
	e.MarketSells = append(e.MarketSells, cmd)
	if e.MarketSellFn != nil {
		return e.MarketSellFn(cmd)
	}
	return domain.MarketSellResult{
		OrderID:               cmd.ClientOrderID,
		ExecutedBaseQuantity:  cmd.BaseAmount,
		ExecutedQuoteQuantity: cmd.BaseAmount.Mul(e.Price),
		AverageExecutionPrice: e.Price,
	}, nil
}

func (e *Engine) CancelOrder(_ context.Context, orderID string, _ domain.MarketIdentifier) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("CancelOrder")
	e.Cancelled = append(e.Cancelled, orderID)
	return e.CancelErr
}

func (e *Engine) CancelOCOOrder(_ context.Context, orderListID string, _ domain.MarketIdentifier) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("CancelOCOOrder")
	e.CancelledOCO = append(e.CancelledOCO, orderListID)
	return e.CancelOCOErr
}

// StoreOrderContextAndGenerateClientOrderID hands out sequential ids
// ("cid-1", "cid-2", ...) and remembers their contexts.
func (e *Engine) StoreOrderContextAndGenerateClientOrderID(_ context.Context, octx domain.OrderContext) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("StoreOrderContext")
	e.nextID++
	id := fmt.Sprintf("cid-%d", e.nextID)
	e.Contexts[id] = octx
	return id, nil
}
