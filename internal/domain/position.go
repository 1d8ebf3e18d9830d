package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ExchangeIdentifier names one account on one exchange.
type ExchangeIdentifier struct {
	Type     string `json:"type"`     // e.g. "spot"
	Exchange string `json:"exchange"` // e.g. "binance"
	Account  string `json:"account"`  // e.g. "default"
}

func (x ExchangeIdentifier) String() string {
	return x.Type + ":" + x.Exchange + ":" + x.Account
}

// PositionIdentifier is keyed by base asset and edge, not by trading pair.
type PositionIdentifier struct {
	ExchangeIdentifier ExchangeIdentifier `json:"exchange_identifier"`
	Edge               Edge               `json:"edge"`
	BaseAsset          string             `json:"base_asset"`
}

func (id PositionIdentifier) String() string {
	return id.ExchangeIdentifier.String() + ":" + id.BaseAsset + ":" + id.Edge.String()
}

// OrderSide indicates whether a fill bought or sold the base asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// GenericOrderFill is an exchange-neutral order fill notification.
type GenericOrderFill struct {
	ExchangeIdentifier      ExchangeIdentifier `json:"exchange_identifier"`
	OrderID                 string             `json:"order_id"`
	MarketSymbol            string             `json:"market_symbol"`
	BaseAsset               string             `json:"base_asset"`
	QuoteAsset              string             `json:"quote_asset"`
	Side                    OrderSide          `json:"side"`
	OrderTimeMs             int64              `json:"order_time_ms"`
	TotalBaseTradeQuantity  Sats               `json:"total_base_trade_quantity"`
	TotalQuoteTradeQuantity Sats               `json:"total_quote_trade_quantity"`
	AverageExecutionPrice   *Sats              `json:"average_execution_price,omitempty"`
}

// CanonicalJSON serialises v with object keys sorted at every level, so two
// fills with equal content always produce identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: decode: %w", err)
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: re-marshal: %w", err)
	}
	return out, nil
}

// PositionInit carries the fields written once when a position opens.
type PositionInit struct {
	Edge                     Edge
	PositionSize             Sats
	InitialEntryTimestampMs  int64
	InitialEntryPrice        Sats
	InitialEntryPositionSize Sats
	InitialEntryQuoteAsset   string
	InitialQuoteInvested     Sats
	Orders                   []GenericOrderFill
}

// FillApplied is the outcome of recording one fill against a position.
type FillApplied struct {
	// Added is false when the exact fill was already recorded; Size is then
	// the current size, unchanged.
	Added   bool
	Size    Sats
	Floored bool
}

// PositionState is the full stored record for one identifier.
type PositionState struct {
	Edge                     Edge   `json:"edge"`
	PositionSize             Sats   `json:"position_size"`
	InitialEntryTimestampMs  int64  `json:"initial_entry_timestamp_ms"`
	InitialEntryPrice        Sats   `json:"initial_entry_price"`
	InitialEntryPositionSize Sats   `json:"initial_entry_position_size"`
	InitialEntryQuoteAsset   string `json:"initial_entry_quote_asset"`
	InitialQuoteInvested     Sats   `json:"initial_quote_invested"`
	StopOrderID              string `json:"stop_order_id,omitempty"`
	OCOOrderID               string `json:"oco_order_id,omitempty"`
}

// PositionOpened is emitted once when a position's size leaves zero.
type PositionOpened struct {
	ID                       PositionIdentifier `json:"id"`
	TradeID                  string             `json:"trade_id,omitempty"`
	QuoteAsset               string             `json:"quote_asset"`
	InitialEntryPrice        Sats               `json:"initial_entry_price"`
	InitialEntryPositionSize Sats               `json:"initial_entry_position_size"`
	InitialQuoteInvested     Sats               `json:"initial_quote_invested"`
	TimestampMs              int64              `json:"timestamp_ms"`
}

// PositionClosed is emitted once when a sell leaves the position at or
// below the dust threshold.
type PositionClosed struct {
	ID                    PositionIdentifier `json:"id"`
	TradeID               string             `json:"trade_id,omitempty"`
	QuoteAsset            string             `json:"quote_asset"`
	InitialEntryPrice     Sats               `json:"initial_entry_price"`
	ExitPrice             Sats               `json:"exit_price"`
	// QuoteInvested is the initial entry's quote spend; the P&L is measured
	// against it. QuoteBought adds every later buy for reporting.
	QuoteInvested         Sats               `json:"quote_invested"`
	QuoteBought           Sats               `json:"quote_bought"`
	QuoteReturned         Sats               `json:"quote_returned"`
	AbsQuoteChange        decimal.Decimal    `json:"abs_quote_change"`
	PercentageQuoteChange decimal.Decimal    `json:"percentage_quote_change"`
	RemainingSize         Sats               `json:"remaining_size"`
	OrderCount            int                `json:"order_count"`
	OpenedAtMs            int64              `json:"opened_at_ms"`
	ClosedAtMs            int64              `json:"closed_at_ms"`
}

// ClosePredicate decides whether a position with the given remaining size,
// traded at price on market, counts as closed.
type ClosePredicate func(market string, remaining, price decimal.Decimal) bool

// OrderContext links an exchange order back to the signal that caused it.
type OrderContext struct {
	Edge    Edge   `json:"edge"`
	TradeID string `json:"trade_id,omitempty"`
}
