package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotbot/internal/config"
	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/exchange/enginetest"
	"github.com/alanyoungcy/spotbot/internal/executor"
	"github.com/alanyoungcy/spotbot/internal/sizer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testEdges() map[string]config.EdgeConfig {
	return map[string]config.EdgeConfig{
		"edge60": {
			Variant:        config.VariantStopLimit,
			BuySlippagePct: pct("0.5"),
			StopPct:        pct("5"),
			StopLimitPct:   pct("6"),
		},
		"edge62": {
			Variant:        config.VariantOCO,
			BuySlippagePct: pct("0.5"),
			StopPct:        pct("4"),
			StopLimitPct:   pct("5"),
			TakeProfitPct:  pct("10"),
		},
	}
}

func TestBuildExecutors_PicksVariantPerEdge(t *testing.T) {
	cfg := config.Defaults()
	cfg.Edges = testEdges()
	edgeCfgs, err := cfg.EdgeConfigs()
	require.NoError(t, err)

	execs, err := buildExecutors(edgeCfgs, enginetest.New("100"), nil, sizer.NewFixedQuote(pct("100"), nil), quietLogger())
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.IsType(t, &executor.StopLimitExecutor{}, execs[domain.Edge60])
	assert.IsType(t, &executor.OCOExecutor{}, execs[domain.Edge62])
}

func TestBuildExecutors_RejectsBadParams(t *testing.T) {
	edgeCfgs := map[domain.Edge]config.EdgeConfig{
		domain.Edge61: {Variant: config.VariantStopLimit, StopPct: pct("0"), StopLimitPct: pct("1")},
	}
	_, err := buildExecutors(edgeCfgs, enginetest.New("100"), nil, sizer.NewFixedQuote(pct("100"), nil), quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edge61")
}

func TestBuildExecutors_UnknownVariant(t *testing.T) {
	edgeCfgs := map[domain.Edge]config.EdgeConfig{
		domain.Edge70: {Variant: "trailing", StopPct: pct("5"), StopLimitPct: pct("6")},
	}
	_, err := buildExecutors(edgeCfgs, enginetest.New("100"), nil, sizer.NewFixedQuote(pct("100"), nil), quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing")
}

func TestNeedsS3(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "full"
	assert.False(t, needsS3(&cfg), "archive disabled")

	cfg.Archive.Enabled = true
	assert.True(t, needsS3(&cfg))

	cfg.Mode = "server"
	assert.False(t, needsS3(&cfg), "server mode never archives")
}

func TestWireAndBuild_RedisOnly(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Defaults()
	cfg.Mode = "server"
	cfg.Redis.Addr = mr.Addr()
	cfg.Exchange.Name = "binance"
	cfg.Trading.AuthorisedEdges = []string{"edge60", "edge62"}
	cfg.Edges = testEdges()
	require.NoError(t, cfg.Validate())

	a := New(&cfg, quietLogger())
	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.Nil(t, deps.Postgres)
	assert.Nil(t, deps.HistoryStore)
	assert.Nil(t, deps.Archiver)
	require.NoError(t, deps.Redis.Ping(context.Background()))

	c, err := a.build(deps)
	require.NoError(t, err)
	assert.Nil(t, c.archiver)
	assert.Equal(t, cfg.ExchangeIdentifier(), c.trades.Exchange())

	res := c.trades.Open(context.Background(), domain.OpenRequest{BaseAsset: "btc", Edge: domain.Edge61, Direction: domain.DirectionLong})
	assert.Equal(t, domain.TradeStatusUnauthorised, res.Status)
}
