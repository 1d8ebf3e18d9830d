// Package notify delivers position lifecycle alerts to operator chat
// channels. Each event type can be switched on or off in configuration.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types understood by the notifier.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventExitOrderAbort = "exit_order_abort"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Throttle paces deliveries per key. domain.RateLimiter satisfies it.
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// Notifier fans a message out to every sender. Notify drops events not in
// the configured set; an empty set allows everything.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	throttle Throttle
	logger   *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithThrottle makes every send wait for a "notify:<sender>" slot first.
func (n *Notifier) WithThrottle(t Throttle) *Notifier {
	n.throttle = t
	return n
}

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender even when an earlier one fails.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if n.throttle != nil {
			if err := n.throttle.Wait(ctx, "notify:"+s.Name()); err != nil {
				errs = append(errs, fmt.Errorf("%s: throttle: %w", s.Name(), err))
				continue
			}
		}
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
