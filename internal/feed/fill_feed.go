// Package feed moves exchange fills from the Redis fill stream into the
// position tracker.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// FillHandler consumes one fill.
type FillHandler interface {
	OrderFilled(ctx context.Context, fill domain.GenericOrderFill) error
}

// Cursor remembers how far a consumer has read.
type Cursor interface {
	Load(ctx context.Context, name string) (string, error)
	Save(ctx context.Context, name, id string) error
}

// Config tunes the polling loop.
type Config struct {
	Name         string
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is how often a failing fill is retried before it is skipped.
	MaxAttempts int
}

// FillFeed polls the fill stream and hands fills to the handler strictly in
// order, one at a time.
type FillFeed struct {
	cfg     Config
	bus     domain.SignalBus
	cursor  Cursor
	handler FillHandler
	logger  *slog.Logger

	lastID   string
	attempts map[string]int
}

func NewFillFeed(cfg Config, bus domain.SignalBus, cursor Cursor, handler FillHandler, logger *slog.Logger) *FillFeed {
	if cfg.Name == "" {
		cfg.Name = "fill_feed"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &FillFeed{
		cfg:      cfg,
		bus:      bus,
		cursor:   cursor,
		handler:  handler,
		logger:   logger.With(slog.String("component", "fill_feed")),
		attempts: make(map[string]int),
	}
}

// Run polls until ctx is cancelled.
func (f *FillFeed) Run(ctx context.Context) error {
	last, err := f.cursor.Load(ctx, f.cfg.Name)
	if err != nil {
		return fmt.Errorf("fill_feed: %w", err)
	}
	if last == "" {
		last = "0"
	}
	f.lastID = last
	f.logger.Info("fill feed started", slog.String("from", f.lastID))
	defer f.logger.Info("fill feed stopped")

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := f.Poll(ctx); err != nil && ctx.Err() == nil {
			f.logger.WarnContext(ctx, "poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll processes one batch and returns how many entries were consumed.
// Processing stops at the first fill that fails and has attempts left, so
// later fills never overtake it.
func (f *FillFeed) Poll(ctx context.Context) (int, error) {
	if f.lastID == "" {
		f.lastID = "0"
	}
	msgs, err := f.bus.StreamRead(ctx, domain.StreamFills, f.lastID, f.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fill_feed: read: %w", err)
	}

	consumed := 0
	for _, m := range msgs {
		if !f.handle(ctx, m) {
			break
		}
		f.lastID = m.ID
		consumed++
	}
	if consumed > 0 {
		if err := f.cursor.Save(ctx, f.cfg.Name, f.lastID); err != nil {
			return consumed, fmt.Errorf("fill_feed: %w", err)
		}
	}
	return consumed, nil
}

// handle reports whether the entry may be stepped over.
func (f *FillFeed) handle(ctx context.Context, m domain.StreamMessage) bool {
	var fill domain.GenericOrderFill
	if err := json.Unmarshal(m.Payload, &fill); err != nil {
		f.logger.ErrorContext(ctx, "malformed fill skipped",
			slog.String("stream_id", m.ID),
			slog.String("error", err.Error()),
		)
		return true
	}

	err := f.handler.OrderFilled(ctx, fill)
	if err == nil {
		delete(f.attempts, m.ID)
		return true
	}

	f.attempts[m.ID]++
	n := f.attempts[m.ID]
	if n < f.cfg.MaxAttempts {
		f.logger.WarnContext(ctx, "fill failed, will retry",
			slog.String("stream_id", m.ID),
			slog.String("order_id", fill.OrderID),
			slog.Int("attempt", n),
			slog.String("error", err.Error()),
		)
		return false
	}
	f.logger.ErrorContext(ctx, "fill failed, giving up",
		slog.String("stream_id", m.ID),
		slog.String("order_id", fill.OrderID),
		slog.Int("attempts", n),
		slog.String("error", err.Error()),
	)
	delete(f.attempts, m.ID)
	return true
}
