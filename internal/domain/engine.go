package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketIdentifier names a tradable pair on an exchange.
type MarketIdentifier struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
}

// LimitBuyCommand places an immediate-or-cancel limit buy.
type LimitBuyCommand struct {
	Market        MarketIdentifier
	BaseAmount    decimal.Decimal
	LimitPrice    decimal.Decimal
	ClientOrderID string
}

type LimitBuyResult struct {
	OrderID               string
	ExecutedBaseQuantity  decimal.Decimal
	ExecutedQuoteQuantity decimal.Decimal
	AverageExecutionPrice decimal.Decimal
}

// StopLimitSellCommand places a resting stop-limit sell.
type StopLimitSellCommand struct {
	Market        MarketIdentifier
	BaseAmount    decimal.Decimal
	StopPrice     decimal.Decimal
	LimitPrice    decimal.Decimal
	ClientOrderID string
}

type StopLimitSellResult struct {
	OrderID   string
	StopPrice decimal.Decimal
}

// OCOSellCommand places a one-cancels-other pair: a stop-limit leg below the
// market and a take-profit limit leg above it.
type OCOSellCommand struct {
	Market                  MarketIdentifier
	BaseAmount              decimal.Decimal
	StopPrice               decimal.Decimal
	StopLimitPrice          decimal.Decimal
	TakeProfitPrice         decimal.Decimal
	StopClientOrderID       string
	TakeProfitClientOrderID string
	ListClientOrderID       string
}

type OCOSellResult struct {
	OrderListID string
}

// MarketSellCommand sells base at market.
type MarketSellCommand struct {
	Market        MarketIdentifier
	BaseAmount    decimal.Decimal
	ClientOrderID string
}

type MarketSellResult struct {
	OrderID               string
	ExecutedBaseQuantity  decimal.Decimal
	ExecutedQuoteQuantity decimal.Decimal
	AverageExecutionPrice decimal.Decimal
}

// ExecutionEngine is the exchange-facing contract used by the executors.
type ExecutionEngine interface {
	ExchangeIdentifier() ExchangeIdentifier
	MarketIdentifierFor(ctx context.Context, quoteAsset, baseAsset string) (MarketIdentifier, error)
	CurrentPrice(ctx context.Context, market MarketIdentifier) (decimal.Decimal, error)
	LimitBuy(ctx context.Context, cmd LimitBuyCommand) (LimitBuyResult, error)
	StopLimitSell(ctx context.Context, cmd StopLimitSellCommand) (StopLimitSellResult, error)
	OCOSell(ctx context.Context, cmd OCOSellCommand) (OCOSellResult, error)
	MarketSell(ctx context.Context, cmd MarketSellCommand) (MarketSellResult, error)
	CancelOrder(ctx context.Context, orderID string, market MarketIdentifier) error
	CancelOCOOrder(ctx context.Context, orderListID string, market MarketIdentifier) error
	// StoreOrderContextAndGenerateClientOrderID records which edge and trade an
	// order belongs to and returns the client order id to submit it with.
	StoreOrderContextAndGenerateClientOrderID(ctx context.Context, octx OrderContext) (string, error)
}

// SizeRequest asks how much quote asset to commit to a new position.
type SizeRequest struct {
	BaseAsset  string
	QuoteAsset string
	Edge       Edge
	Direction  Direction
}

// PositionSizer decides the quote amount for a new position.
type PositionSizer interface {
	PositionSizeInQuoteAsset(ctx context.Context, req SizeRequest) (decimal.Decimal, error)
}
