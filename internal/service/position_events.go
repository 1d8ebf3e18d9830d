package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/notify"
)

// Alerter is the subset of notify.Notifier used by the service layer.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PositionEvent is the envelope written to the bus channel and stream.
type PositionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PositionEventPublisher fans lifecycle facts out to the signal bus and,
// when configured, notifications, closed-position history and the audit log.
// Every leg is attempted; failures are joined into the returned error.
type PositionEventPublisher struct {
	bus     domain.SignalBus
	alerts  Alerter
	history domain.PositionHistoryStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

var _ PositionEventSink = (*PositionEventPublisher)(nil)

// NewPositionEventPublisher builds a publisher. Any dependency except bus
// may be nil.
func NewPositionEventPublisher(
	bus domain.SignalBus,
	alerts Alerter,
	history domain.PositionHistoryStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionEventPublisher {
	return &PositionEventPublisher{
		bus:     bus,
		alerts:  alerts,
		history: history,
		audit:   audit,
		logger:  logger.With(slog.String("component", "position_events")),
	}
}

func (p *PositionEventPublisher) PositionOpened(ctx context.Context, fact domain.PositionOpened) error {
	var errs []error
	if err := p.broadcast(ctx, notify.EventPositionOpened, fact); err != nil {
		errs = append(errs, err)
	}
	if p.alerts != nil {
		title, msg := notify.FormatOpened(fact)
		if err := p.alerts.Notify(ctx, notify.EventPositionOpened, title, msg); err != nil {
			errs = append(errs, fmt.Errorf("position_events: notify: %w", err))
		}
	}
	if p.audit != nil {
		err := p.audit.Log(ctx, notify.EventPositionOpened, map[string]any{
			"position":               fact.ID.String(),
			"trade_id":               fact.TradeID,
			"initial_entry_price":    fact.InitialEntryPrice.String(),
			"initial_quote_invested": fact.InitialQuoteInvested.String(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("position_events: audit: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *PositionEventPublisher) PositionClosed(ctx context.Context, fact domain.PositionClosed) error {
	var errs []error
	if err := p.broadcast(ctx, notify.EventPositionClosed, fact); err != nil {
		errs = append(errs, err)
	}
	if p.history != nil {
		if err := p.history.Record(ctx, fact); err != nil {
			errs = append(errs, fmt.Errorf("position_events: history: %w", err))
		}
	}
	if p.alerts != nil {
		title, msg := notify.FormatClosed(fact)
		if err := p.alerts.Notify(ctx, notify.EventPositionClosed, title, msg); err != nil {
			errs = append(errs, fmt.Errorf("position_events: notify: %w", err))
		}
	}
	if p.audit != nil {
		err := p.audit.Log(ctx, notify.EventPositionClosed, map[string]any{
			"position":                fact.ID.String(),
			"trade_id":                fact.TradeID,
			"abs_quote_change":        fact.AbsQuoteChange.String(),
			"percentage_quote_change": fact.PercentageQuoteChange.String(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("position_events: audit: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *PositionEventPublisher) broadcast(ctx context.Context, eventType string, fact any) error {
	payload, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("position_events: marshal %s: %w", eventType, err)
	}
	data, err := json.Marshal(PositionEvent{Type: eventType, Payload: payload})
	if err != nil {
		return fmt.Errorf("position_events: marshal envelope: %w", err)
	}

	var errs []error
	if err := p.bus.Publish(ctx, domain.ChannelPositions, data); err != nil {
		errs = append(errs, fmt.Errorf("position_events: publish: %w", err))
	}
	if err := p.bus.StreamAppend(ctx, domain.StreamPositionEvents, data); err != nil {
		errs = append(errs, fmt.Errorf("position_events: stream append: %w", err))
	}
	p.logger.DebugContext(ctx, "position event broadcast", slog.String("type", eventType))
	return errors.Join(errs...)
}
