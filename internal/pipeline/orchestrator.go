package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// FillSource consumes exchange fills until ctx is cancelled.
type FillSource interface {
	Run(ctx context.Context) error
}

// Matcher re-evaluates resting orders on an interval. The paper engine is
// the only implementation.
type Matcher interface {
	Run(ctx context.Context, interval time.Duration) error
}

// Orchestrator runs the background side of the bot: fill ingestion, the
// paper matcher when trading on paper, and cold-storage archival.
type Orchestrator struct {
	fills         FillSource
	matcher       Matcher
	matchInterval time.Duration
	archiver      *Archiver
	archiveCron   string
	logger        *slog.Logger
}

// NewOrchestrator creates an Orchestrator. matcher and archiver may be nil.
func NewOrchestrator(
	fills FillSource,
	matcher Matcher,
	matchInterval time.Duration,
	archiver *Archiver,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		fills:         fills,
		matcher:       matcher,
		matchInterval: matchInterval,
		archiver:      archiver,
		archiveCron:   archiveCron,
		logger:        logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every configured loop in an errgroup. A loop that fails for a
// reason other than cancellation cancels the others and Run returns its error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("matcher", o.matcher != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.fills.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("fill feed: %w", err)
	})

	if o.matcher != nil {
		g.Go(func() error {
			err := o.matcher.Run(ctx, o.matchInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("paper matcher: %w", err)
		})
	}

	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
