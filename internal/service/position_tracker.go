package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/metrics"
)

// PositionEventSink receives lifecycle facts from the tracker.
type PositionEventSink interface {
	PositionOpened(ctx context.Context, fact domain.PositionOpened) error
	PositionClosed(ctx context.Context, fact domain.PositionClosed) error
}

// PositionTracker applies exchange fills to position state. It is driven
// by the fill feed and processes one fill at a time.
type PositionTracker struct {
	positions *Positions
	store     domain.PositionStateStore
	contexts  domain.OrderContextStore
	sink      PositionEventSink
	isClosed  domain.ClosePredicate
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionTracker wires a tracker. sink may be nil.
func NewPositionTracker(
	store domain.PositionStateStore,
	contexts domain.OrderContextStore,
	sink PositionEventSink,
	isClosed domain.ClosePredicate,
	m *metrics.Metrics,
	logger *slog.Logger,
) *PositionTracker {
	if isClosed == nil {
		isClosed = DustClosePredicate(decimal.Zero)
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &PositionTracker{
		positions: NewPositions(store, logger),
		store:     store,
		contexts:  contexts,
		sink:      sink,
		isClosed:  isClosed,
		metrics:   m,
		logger:    logger.With(slog.String("component", "position_tracker")),
		now:       time.Now,
	}
}

// OrderFilled dispatches fill by side.
func (t *PositionTracker) OrderFilled(ctx context.Context, fill domain.GenericOrderFill) error {
	switch fill.Side {
	case domain.OrderSideBuy:
		return t.BuyOrderFilled(ctx, fill)
	case domain.OrderSideSell:
		return t.SellOrderFilled(ctx, fill)
	default:
		return fmt.Errorf("position_tracker: order %s: unknown side %q", fill.OrderID, fill.Side)
	}
}

// BuyOrderFilled adds fill to its position and emits PositionOpened when
// the fill moves the size off zero.
func (t *PositionTracker) BuyOrderFilled(ctx context.Context, fill domain.GenericOrderFill) error {
	octx := t.resolveContext(ctx, fill)
	pos := t.positions.Get(t.positionID(fill, octx))

	res, err := pos.AddOrder(ctx, fill)
	if err != nil {
		return fmt.Errorf("position_tracker: buy fill: %w", err)
	}
	if !res.Applied {
		t.metrics.Fills.WithLabelValues("buy", "duplicate").Inc()
		if !res.Opened {
			t.logger.DebugContext(ctx, "duplicate buy fill ignored",
				slog.String("position", pos.ID().String()),
				slog.String("order_id", fill.OrderID),
			)
			return nil
		}
	} else {
		t.metrics.Fills.WithLabelValues("buy", "applied").Inc()
	}

	if !res.Opened {
		t.logger.InfoContext(ctx, "position increased",
			slog.String("position", pos.ID().String()),
			slog.String("size", res.Size.String()),
		)
		return nil
	}

	t.metrics.PositionTransitions.WithLabelValues("opened").Inc()
	t.logger.InfoContext(ctx, "position opened",
		slog.String("position", pos.ID().String()),
		slog.String("size", res.Size.String()),
		slog.String("trade_id", octx.TradeID),
	)
	if t.sink == nil {
		return nil
	}
	fact := domain.PositionOpened{
		ID:                       pos.ID(),
		TradeID:                  octx.TradeID,
		QuoteAsset:               fill.QuoteAsset,
		InitialEntryPrice:        fillPrice(fill),
		InitialEntryPositionSize: fill.TotalBaseTradeQuantity,
		InitialQuoteInvested:     fill.TotalQuoteTradeQuantity,
		TimestampMs:              t.timestamp(fill),
	}
	if err := t.sink.PositionOpened(ctx, fact); err != nil {
		t.logger.ErrorContext(ctx, "publish position opened",
			slog.String("position", pos.ID().String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// SellOrderFilled reduces its position and closes it once the remaining
// size is dust. Sells against a position that is not held are ignored. A
// record whose size already reached zero without being deleted is closed by
// the next sell that reaches it, which is how a redelivered fill finishes a
// close that failed part way.
func (t *PositionTracker) SellOrderFilled(ctx context.Context, fill domain.GenericOrderFill) error {
	octx := t.resolveContext(ctx, fill)
	pos := t.positions.Get(t.positionID(fill, octx))

	in, err := pos.InPosition(ctx)
	if err != nil {
		return fmt.Errorf("position_tracker: sell fill: %w", err)
	}
	if !in {
		pending, err := pos.HasEntry(ctx)
		if err != nil {
			return fmt.Errorf("position_tracker: sell fill: %w", err)
		}
		if !pending {
			t.metrics.Fills.WithLabelValues("sell", "ignored").Inc()
			t.logger.InfoContext(ctx, "sell fill for position not held, ignoring",
				slog.String("position", pos.ID().String()),
				slog.String("order_id", fill.OrderID),
			)
			return nil
		}
	}

	res, err := pos.AddOrder(ctx, fill)
	if err != nil {
		return fmt.Errorf("position_tracker: sell fill: %w", err)
	}
	if res.Applied {
		t.metrics.Fills.WithLabelValues("sell", "applied").Inc()
	} else {
		t.metrics.Fills.WithLabelValues("sell", "duplicate").Inc()
	}

	if res.Applied && res.Floored {
		t.metrics.TrackerDiagnostics.WithLabelValues("size_floored").Inc()
		t.logger.WarnContext(ctx, "sell exceeded held size, size floored at zero",
			slog.String("position", pos.ID().String()),
			slog.String("order_id", fill.OrderID),
		)
	}

	if fill.AverageExecutionPrice == nil {
		t.metrics.TrackerDiagnostics.WithLabelValues("missing_price").Inc()
		t.logger.ErrorContext(ctx, "sell fill has no average execution price, close check skipped",
			slog.String("position", pos.ID().String()),
			slog.String("order_id", fill.OrderID),
			slog.String("size", res.Size.String()),
		)
		return nil
	}

	price := fill.AverageExecutionPrice.Decimal()
	if !t.isClosed(fill.MarketSymbol, res.Size.Decimal(), price) {
		if !res.Applied {
			t.logger.DebugContext(ctx, "duplicate sell fill ignored",
				slog.String("position", pos.ID().String()),
				slog.String("order_id", fill.OrderID),
			)
			return nil
		}
		t.logger.InfoContext(ctx, "position reduced",
			slog.String("position", pos.ID().String()),
			slog.String("size", res.Size.String()),
		)
		return nil
	}
	if !res.Applied {
		t.logger.InfoContext(ctx, "finishing close left by an earlier attempt",
			slog.String("position", pos.ID().String()),
			slog.String("order_id", fill.OrderID),
		)
	}

	fact, err := t.closedFact(ctx, pos.ID(), fill, res.Size, octx.TradeID)
	if err != nil {
		return fmt.Errorf("position_tracker: close %s: %w", pos.ID(), err)
	}
	if t.sink != nil {
		if err := t.sink.PositionClosed(ctx, fact); err != nil {
			t.logger.ErrorContext(ctx, "publish position closed",
				slog.String("position", pos.ID().String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := t.store.Delete(ctx, pos.ID()); err != nil {
		return fmt.Errorf("position_tracker: delete %s: %w", pos.ID(), err)
	}

	t.metrics.PositionTransitions.WithLabelValues("closed").Inc()
	t.logger.InfoContext(ctx, "position closed",
		slog.String("position", pos.ID().String()),
		slog.String("abs_quote_change", fact.AbsQuoteChange.String()),
		slog.String("percentage_quote_change", fact.PercentageQuoteChange.String()),
	)
	return nil
}

// resolveContext looks up the edge and trade id attached to the fill's order.
// Orders placed outside the bot have no context and map to the undefined edge.
func (t *PositionTracker) resolveContext(ctx context.Context, fill domain.GenericOrderFill) domain.OrderContext {
	octx, err := t.contexts.Get(ctx, fill.ExchangeIdentifier, fill.OrderID)
	if err == nil {
		return octx
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.logger.InfoContext(ctx, "no order context for fill, using undefined edge",
			slog.String("order_id", fill.OrderID),
			slog.String("base_asset", fill.BaseAsset),
		)
	} else {
		t.metrics.TrackerDiagnostics.WithLabelValues("order_context_error").Inc()
		t.logger.WarnContext(ctx, "order context lookup failed, using undefined edge",
			slog.String("order_id", fill.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return domain.OrderContext{Edge: domain.EdgeUndefined}
}

func (t *PositionTracker) positionID(fill domain.GenericOrderFill, octx domain.OrderContext) domain.PositionIdentifier {
	return domain.PositionIdentifier{
		ExchangeIdentifier: fill.ExchangeIdentifier,
		Edge:               octx.Edge,
		BaseAsset:          fill.BaseAsset,
	}
}

func (t *PositionTracker) timestamp(fill domain.GenericOrderFill) int64 {
	if fill.OrderTimeMs > 0 {
		return fill.OrderTimeMs
	}
	return t.now().UnixMilli()
}

func (t *PositionTracker) closedFact(
	ctx context.Context,
	id domain.PositionIdentifier,
	fill domain.GenericOrderFill,
	remaining domain.Sats,
	tradeID string,
) (domain.PositionClosed, error) {
	st, err := t.store.GetState(ctx, id)
	if err != nil {
		return domain.PositionClosed{}, err
	}
	orders, err := t.store.GetOrders(ctx, id)
	if err != nil {
		return domain.PositionClosed{}, err
	}
	pnl := RealizedPnL(orders, st.InitialQuoteInvested)
	return domain.PositionClosed{
		ID:                    id,
		TradeID:               tradeID,
		QuoteAsset:            st.InitialEntryQuoteAsset,
		InitialEntryPrice:     st.InitialEntryPrice,
		ExitPrice:             *fill.AverageExecutionPrice,
		QuoteInvested:         pnl.Invested,
		QuoteBought:           pnl.Bought,
		QuoteReturned:         pnl.Returned,
		AbsQuoteChange:        pnl.Abs,
		PercentageQuoteChange: pnl.Percentage,
		RemainingSize:         remaining,
		OrderCount:            len(orders),
		OpenedAtMs:            st.InitialEntryTimestampMs,
		ClosedAtMs:            t.timestamp(fill),
	}, nil
}

// PnL is the realized outcome of a closed position in quote units.
type PnL struct {
	Invested   domain.Sats
	Bought     domain.Sats
	Returned   domain.Sats
	Abs        decimal.Decimal
	Percentage decimal.Decimal
}

// RealizedPnL measures the proceeds of every sell fill against the initial
// entry's quote spend. Later buys are summed into Bought but do not move
// the result.
func RealizedPnL(orders []domain.GenericOrderFill, initialQuoteInvested domain.Sats) PnL {
	p := PnL{Invested: initialQuoteInvested}
	for _, o := range orders {
		switch o.Side {
		case domain.OrderSideBuy:
			p.Bought += o.TotalQuoteTradeQuantity
		case domain.OrderSideSell:
			p.Returned += o.TotalQuoteTradeQuantity
		}
	}
	p.Abs = p.Returned.Decimal().Sub(p.Invested.Decimal())
	if p.Invested > 0 {
		p.Percentage = p.Abs.Div(p.Invested.Decimal()).Mul(decimal.NewFromInt(100)).Round(8)
	} else {
		p.Percentage = decimal.Zero
	}
	return p
}
