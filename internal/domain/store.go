package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStateStore is the single persistence contract for live positions.
type PositionStateStore interface {
	Create(ctx context.Context, id PositionIdentifier, init PositionInit) error
	GetPositionSize(ctx context.Context, id PositionIdentifier) (Sats, error)
	GetInitialEntryPrice(ctx context.Context, id PositionIdentifier) (Sats, error)
	GetInitialEntryPositionSize(ctx context.Context, id PositionIdentifier) (Sats, error)
	GetInitialEntryQuoteAsset(ctx context.Context, id PositionIdentifier) (string, error)
	GetInitialQuoteInvested(ctx context.Context, id PositionIdentifier) (Sats, error)
	GetInitialEntryTimestampMs(ctx context.Context, id PositionIdentifier) (int64, error)
	GetEdge(ctx context.Context, id PositionIdentifier) (Edge, error)
	GetState(ctx context.Context, id PositionIdentifier) (PositionState, error)
	GetOrders(ctx context.Context, id PositionIdentifier) ([]GenericOrderFill, error)
	// AdjustSizeBy atomically adds delta and returns the new size. A result
	// below zero is floored at zero and reported through floored.
	AdjustSizeBy(ctx context.Context, id PositionIdentifier, delta Sats) (size Sats, floored bool, err error)
	// AddOrders returns how many of the fills were not already recorded.
	AddOrders(ctx context.Context, id PositionIdentifier, fills []GenericOrderFill) (int, error)
	// ApplyFill records fill and adds delta to the size as one atomic step.
	// A fill already recorded leaves the size untouched.
	ApplyFill(ctx context.Context, id PositionIdentifier, fill GenericOrderFill, delta Sats) (FillApplied, error)
	SetStopOrderID(ctx context.Context, id PositionIdentifier, orderID string) error
	GetStopOrderID(ctx context.Context, id PositionIdentifier) (string, error)
	SetOCOOrderID(ctx context.Context, id PositionIdentifier, orderListID string) error
	GetOCOOrderID(ctx context.Context, id PositionIdentifier) (string, error)
	ClearOCOOrderID(ctx context.Context, id PositionIdentifier) error
	ListOpen(ctx context.Context, exchange ExchangeIdentifier) ([]PositionIdentifier, error)
	Delete(ctx context.Context, id PositionIdentifier) error
}

// OrderContextStore maps exchange order ids back to their originating signal.
type OrderContextStore interface {
	Set(ctx context.Context, exchange ExchangeIdentifier, orderID string, octx OrderContext) error
	Get(ctx context.Context, exchange ExchangeIdentifier, orderID string) (OrderContext, error)
}

// ClosedPosition is a PositionClosed fact as kept in history.
type ClosedPosition struct {
	ID        int64          `json:"id"`
	Fact      PositionClosed `json:"fact"`
	CreatedAt time.Time      `json:"created_at"`
}

// PositionHistoryStore keeps closed positions for reporting and archival.
type PositionHistoryStore interface {
	Record(ctx context.Context, fact PositionClosed) error
	ListRecent(ctx context.Context, opts ListOpts) ([]ClosedPosition, error)
	ListBefore(ctx context.Context, before time.Time) ([]ClosedPosition, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
