package domain

import "github.com/shopspring/decimal"

// TradeStatus is the outcome reported for an open or close command.
type TradeStatus string

const (
	TradeStatusSuccess                 TradeStatus = "SUCCESS"
	TradeStatusEntryFailedToFill       TradeStatus = "ENTRY_FAILED_TO_FILL"
	TradeStatusAbortedExitOrdersFailed TradeStatus = "ABORTED_FAILED_TO_CREATE_EXIT_ORDERS"
	TradeStatusAlreadyInPosition       TradeStatus = "ALREADY_IN_POSITION"
	TradeStatusNotFound                TradeStatus = "NOT_FOUND"
	TradeStatusUnauthorised            TradeStatus = "UNAUTHORISED"
	TradeStatusInternalServerError     TradeStatus = "INTERNAL_SERVER_ERROR"
)

// OpenRequest is a directional signal to enter a position.
type OpenRequest struct {
	ExchangeIdentifier ExchangeIdentifier
	BaseAsset          string
	QuoteAsset         string
	Edge               Edge
	Direction          Direction
	TriggerPrice       *decimal.Decimal
	TradeID            string
}

// CloseRequest asks to liquidate a position.
type CloseRequest struct {
	ExchangeIdentifier ExchangeIdentifier
	BaseAsset          string
	QuoteAsset         string
	Edge               Edge
	Direction          Direction
	TradeID            string
}

// PositionID returns the identifier the request refers to.
func (r OpenRequest) PositionID() PositionIdentifier {
	return PositionIdentifier{ExchangeIdentifier: r.ExchangeIdentifier, Edge: r.Edge, BaseAsset: r.BaseAsset}
}

func (r CloseRequest) PositionID() PositionIdentifier {
	return PositionIdentifier{ExchangeIdentifier: r.ExchangeIdentifier, Edge: r.Edge, BaseAsset: r.BaseAsset}
}

// TradeResult is returned by both open and close.
type TradeResult struct {
	Status                TradeStatus      `json:"status"`
	Message               string           `json:"msg,omitempty"`
	TradeID               string           `json:"trade_id,omitempty"`
	Edge                  Edge             `json:"edge"`
	BaseAsset             string           `json:"base_asset"`
	QuoteAsset            string           `json:"quote_asset,omitempty"`
	TriggerPrice          *decimal.Decimal `json:"trigger_price,omitempty"`
	ExecutedPrice         *decimal.Decimal `json:"executed_price,omitempty"`
	ExecutedBaseQuantity  *decimal.Decimal `json:"executed_base_quantity,omitempty"`
	ExecutedQuoteQuantity *decimal.Decimal `json:"executed_quote_quantity,omitempty"`
	StopPrice             *decimal.Decimal `json:"stop_price,omitempty"`
	TakeProfitPrice       *decimal.Decimal `json:"take_profit_price,omitempty"`
	BuyOrderID            string           `json:"buy_order_id,omitempty"`
	StopOrderID           string           `json:"stop_order_id,omitempty"`
	OCOOrderID            string           `json:"oco_order_id,omitempty"`
	SellOrderID           string           `json:"sell_order_id,omitempty"`
}
