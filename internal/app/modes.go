package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spotbot/internal/cache/redis"
	"github.com/alanyoungcy/spotbot/internal/config"
	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/exchange/paper"
	"github.com/alanyoungcy/spotbot/internal/executor"
	"github.com/alanyoungcy/spotbot/internal/feed"
	"github.com/alanyoungcy/spotbot/internal/metrics"
	"github.com/alanyoungcy/spotbot/internal/pipeline"
	"github.com/alanyoungcy/spotbot/internal/server"
	"github.com/alanyoungcy/spotbot/internal/server/handler"
	"github.com/alanyoungcy/spotbot/internal/server/ws"
	"github.com/alanyoungcy/spotbot/internal/service"
	"github.com/alanyoungcy/spotbot/internal/sizer"
)

// components are the services built on top of Dependencies.
type components struct {
	engine    *paper.Engine
	positions *service.Positions
	trades    *service.TradeService
	fills     *feed.FillFeed
	archiver  *pipeline.Archiver
}

// pingFunc adapts a probe function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func (a *App) build(deps *Dependencies) (*components, error) {
	cfg := a.cfg
	exchange := cfg.ExchangeIdentifier()

	authorised, err := cfg.AuthorisedEdges()
	if err != nil {
		return nil, fmt.Errorf("authorised edges: %w", err)
	}
	edgeCfgs, err := cfg.EdgeConfigs()
	if err != nil {
		return nil, fmt.Errorf("edge config: %w", err)
	}

	engine := paper.New(paper.Config{
		Exchange:    exchange,
		MaxPriceAge: cfg.Paper.MaxPriceAge.Duration,
		RejectOCO:   cfg.Paper.RejectOCO,
	}, deps.PriceCache, deps.OrderContexts, deps.SignalBus, a.logger)

	sz := sizer.NewFixedQuote(cfg.Trading.DefaultQuoteAmount, cfg.QuoteAmounts())
	executors, err := buildExecutors(edgeCfgs, engine, deps.PositionStore, sz, a.logger)
	if err != nil {
		return nil, err
	}

	positions := service.NewPositions(deps.PositionStore, a.logger)
	trades := service.NewTradeService(service.TradeServiceConfig{
		Exchange:   exchange,
		Authorised: authorised,
		Executors:  executors,
		QuoteAsset: cfg.QuoteAsset,
	}, positions, deps.Notifier, deps.Metrics, a.logger)

	publisher := service.NewPositionEventPublisher(deps.SignalBus, deps.Notifier, deps.HistoryStore, deps.AuditStore, a.logger)
	tracker := service.NewPositionTracker(
		deps.PositionStore,
		deps.OrderContexts,
		publisher,
		service.DustClosePredicate(cfg.Tracker.DustThresholdQuote),
		deps.Metrics,
		a.logger,
	)

	fills := feed.NewFillFeed(feed.Config{
		Name:         cfg.Feed.Name,
		PollInterval: cfg.Feed.PollInterval.Duration,
		BatchSize:    cfg.Feed.BatchSize,
		MaxAttempts:  cfg.Feed.MaxAttempts,
	}, deps.SignalBus, deps.Cursor, tracker, a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		var pruner pipeline.HistoryPruner
		if cfg.Archive.Prune && deps.HistoryStore != nil {
			pruner = deps.HistoryStore
		}
		archiver = pipeline.NewArchiver(deps.Archiver, pruner, cfg.Archive.RetentionDays, a.logger)
	}

	return &components{
		engine:    engine,
		positions: positions,
		trades:    trades,
		fills:     fills,
		archiver:  archiver,
	}, nil
}

// buildExecutors creates one executor per configured edge.
func buildExecutors(
	edgeCfgs map[domain.Edge]config.EdgeConfig,
	engine domain.ExecutionEngine,
	store domain.PositionStateStore,
	sz domain.PositionSizer,
	logger *slog.Logger,
) (map[domain.Edge]service.Executor, error) {
	out := make(map[domain.Edge]service.Executor, len(edgeCfgs))
	for edge, ec := range edgeCfgs {
		params := executor.Params{
			BuySlippagePct: ec.BuySlippagePct,
			StopPct:        ec.StopPct,
			StopLimitPct:   ec.StopLimitPct,
			TakeProfitPct:  ec.TakeProfitPct,
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("edge %s: %w", edge, err)
		}
		edgeLogger := logger.With(slog.String("edge", edge.String()))
		switch ec.Variant {
		case config.VariantStopLimit:
			out[edge] = executor.NewStopLimitExecutor(engine, store, sz, params, edgeLogger)
		case config.VariantOCO:
			out[edge] = executor.NewOCOExecutor(engine, store, sz, params, edgeLogger)
		default:
			return nil, fmt.Errorf("edge %s: unknown executor variant %q", edge, ec.Variant)
		}
	}
	return out, nil
}

// ServerMode serves the HTTP API and runs the paper matcher next to the
// engine whose book it evaluates. Fills are left on the stream for an
// ingest process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, c *components) error {
	a.logger.InfoContext(ctx, "server mode starting")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c)
	g.Go(func() error {
		if err := c.engine.Run(ctx, a.cfg.Paper.MatchInterval.Duration); err != nil {
			return fmt.Errorf("paper matcher: %w", err)
		}
		return nil
	})
	return a.wait(ctx, g, "server")
}

// IngestMode consumes the fill stream into the tracker and runs archival.
// It places no orders, so the paper matcher is not started.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies, c *components) error {
	a.logger.InfoContext(ctx, "ingest mode starting", slog.Bool("archive", c.archiver != nil))

	orch := pipeline.NewOrchestrator(c.fills, nil, 0, c.archiver, a.cfg.Archive.Cron, a.logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	return a.wait(ctx, g, "ingest")
}

// FullMode runs everything in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c *components) error {
	a.logger.InfoContext(ctx, "full mode starting",
		slog.Bool("archive", c.archiver != nil),
		slog.Int("port", a.cfg.Server.Port),
	)

	orch := pipeline.NewOrchestrator(
		c.fills,
		c.engine,
		a.cfg.Paper.MatchInterval.Duration,
		c.archiver,
		a.cfg.Archive.Cron,
		a.logger,
	)
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c)
	g.Go(func() error { return orch.Run(ctx) })
	return a.wait(ctx, g, "full")
}

func (a *App) wait(ctx context.Context, g *errgroup.Group, mode string) error {
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error(mode+" mode stopped with error", slog.String("error", err.Error()))
		return err
	}
	a.logger.InfoContext(context.WithoutCancel(ctx), mode+" mode stopped")
	return nil
}

// startHTTPServer adds the HTTP server and WebSocket hub to g. The server is
// shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	cfg := a.cfg

	checks := map[string]handler.Pinger{"redis": deps.Redis}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres
	}
	if deps.S3 != nil {
		checks["s3"] = pingFunc(deps.S3.Health)
	}

	var history handler.HistoryReader
	if deps.HistoryStore != nil {
		history = deps.HistoryStore
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(cfg.Mode, checks, a.logger),
		Trades:    handler.NewTradeHandler(c.trades, deps.LockManager, redis.PositionLockKey, cfg.Server.LockTTL.Duration, a.logger),
		Positions: handler.NewPositionHandler(c.positions, history, c.trades.Exchange(), a.logger),
		Prices:    handler.NewPriceHandler(deps.PriceCache, a.logger),
		Metrics:   metrics.Handler(deps.Registry),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ws hub: %w", err)
	})

	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
