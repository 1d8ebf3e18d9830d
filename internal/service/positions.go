package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// Positions is the read side of the position store plus a factory for
// per-identifier handles.
type Positions struct {
	store  domain.PositionStateStore
	logger *slog.Logger
}

// NewPositions creates a Positions facade over store.
func NewPositions(store domain.PositionStateStore, logger *slog.Logger) *Positions {
	return &Positions{
		store:  store,
		logger: logger.With(slog.String("component", "positions")),
	}
}

// Get returns a handle for id. No store access happens until a method is called.
func (p *Positions) Get(id domain.PositionIdentifier) *Position {
	return &Position{id: id, store: p.store, logger: p.logger}
}

// InPosition reports whether id currently holds a non-zero size.
func (p *Positions) InPosition(ctx context.Context, id domain.PositionIdentifier) (bool, error) {
	return p.Get(id).InPosition(ctx)
}

func (p *Positions) PositionSize(ctx context.Context, id domain.PositionIdentifier) (domain.Sats, error) {
	return p.Get(id).Size(ctx)
}

func (p *Positions) ListOpen(ctx context.Context, exchange domain.ExchangeIdentifier) ([]domain.PositionIdentifier, error) {
	ids, err := p.store.ListOpen(ctx, exchange)
	if err != nil {
		return nil, fmt.Errorf("positions: list open: %w", err)
	}
	return ids, nil
}

// PositionView is a position's stored state joined with its fills.
type PositionView struct {
	ID     domain.PositionIdentifier `json:"id"`
	State  domain.PositionState      `json:"state"`
	Orders []domain.GenericOrderFill `json:"orders"`
}

// Describe loads the full state of id. It returns domain.ErrNotFound when the
// identifier holds no position.
func (p *Positions) Describe(ctx context.Context, id domain.PositionIdentifier) (PositionView, error) {
	in, err := p.InPosition(ctx, id)
	if err != nil {
		return PositionView{}, err
	}
	if !in {
		return PositionView{}, domain.ErrNotFound
	}
	st, err := p.store.GetState(ctx, id)
	if err != nil {
		return PositionView{}, fmt.Errorf("positions: describe %s: %w", id, err)
	}
	orders, err := p.store.GetOrders(ctx, id)
	if err != nil {
		return PositionView{}, fmt.Errorf("positions: describe %s: %w", id, err)
	}
	return PositionView{ID: id, State: st, Orders: orders}, nil
}

// Position is a handle on one identifier's record.
type Position struct {
	id     domain.PositionIdentifier
	store  domain.PositionStateStore
	logger *slog.Logger
}

func (p *Position) ID() domain.PositionIdentifier { return p.id }

func (p *Position) Size(ctx context.Context) (domain.Sats, error) {
	size, err := p.store.GetPositionSize(ctx, p.id)
	if err != nil {
		return 0, fmt.Errorf("positions: size %s: %w", p.id, err)
	}
	return size, nil
}

func (p *Position) InPosition(ctx context.Context) (bool, error) {
	size, err := p.Size(ctx)
	if err != nil {
		return false, err
	}
	return size > 0, nil
}

// HasEntry reports whether the initial entry fields are recorded. A record
// with entry fields and no size is a close that has not finished.
func (p *Position) HasEntry(ctx context.Context) (bool, error) {
	_, err := p.store.GetEdge(ctx, p.id)
	if errors.Is(err, domain.ErrFieldMissing) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("positions: entry %s: %w", p.id, err)
	}
	return true, nil
}

// AddResult describes what AddOrder changed.
type AddResult struct {
	// Applied is false when the exact fill had already been recorded.
	Applied bool
	// Opened is true when this call wrote the initial entry fields.
	Opened bool
	// Floored is true when a sell would have driven the size negative.
	Floored bool
	Size    domain.Sats
}

// AddOrder records fill and moves the size by its base quantity in one
// store call. A fill seen before leaves the size alone. A buy that lifts the
// size off zero writes the initial entry fields. A redelivered buy that
// finds them missing on a held position writes them too, which finishes an
// entry whose first attempt failed after the size moved.
func (p *Position) AddOrder(ctx context.Context, fill domain.GenericOrderFill) (AddResult, error) {
	delta := fill.TotalBaseTradeQuantity
	if fill.Side == domain.OrderSideSell {
		delta = -delta
	}
	applied, err := p.store.ApplyFill(ctx, p.id, fill, delta)
	if err != nil {
		return AddResult{}, fmt.Errorf("positions: add order %s to %s: %w", fill.OrderID, p.id, err)
	}

	res := AddResult{Applied: applied.Added, Floored: applied.Floored, Size: applied.Size}
	if fill.Side != domain.OrderSideBuy || res.Size <= 0 {
		return res, nil
	}

	needEntry := res.Applied && res.Size == delta
	if !res.Applied {
		has, err := p.HasEntry(ctx)
		if err != nil {
			return AddResult{}, err
		}
		needEntry = !has
	}
	if needEntry {
		if err := p.store.Create(ctx, p.id, initFromFill(p.id, fill, res.Size)); err != nil {
			return AddResult{}, fmt.Errorf("positions: record initial entry %s: %w", p.id, err)
		}
		res.Opened = true
	}
	return res, nil
}

func initFromFill(id domain.PositionIdentifier, fill domain.GenericOrderFill, size domain.Sats) domain.PositionInit {
	return domain.PositionInit{
		Edge:                     id.Edge,
		PositionSize:             size,
		InitialEntryTimestampMs:  fill.OrderTimeMs,
		InitialEntryPrice:        fillPrice(fill),
		InitialEntryPositionSize: fill.TotalBaseTradeQuantity,
		InitialEntryQuoteAsset:   fill.QuoteAsset,
		InitialQuoteInvested:     fill.TotalQuoteTradeQuantity,
		Orders:                   []domain.GenericOrderFill{fill},
	}
}

// fillPrice prefers the reported average price and otherwise derives it
// from the traded quantities.
func fillPrice(fill domain.GenericOrderFill) domain.Sats {
	if fill.AverageExecutionPrice != nil {
		return *fill.AverageExecutionPrice
	}
	if fill.TotalBaseTradeQuantity <= 0 {
		return 0
	}
	px := fill.TotalQuoteTradeQuantity.Decimal().DivRound(fill.TotalBaseTradeQuantity.Decimal(), domain.SatsScale+1)
	s, err := domain.SatsFromDecimalTruncated(px)
	if err != nil {
		return 0
	}
	return s
}

// DustClosePredicate treats a position as closed once the quote value of the
// remaining size is at or below threshold.
func DustClosePredicate(threshold decimal.Decimal) domain.ClosePredicate {
	return func(_ string, remaining, price decimal.Decimal) bool {
		if remaining.IsZero() {
			return true
		}
		return remaining.Mul(price).LessThanOrEqual(threshold)
	}
}
