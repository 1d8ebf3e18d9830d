package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[exchange]
type = "spot"
name = "binance"
account = "main"
engine = "paper"

[server]
port = 9000
api_key = "from-file"
lock_ttl = "45s"

[tracker]
dust_threshold_quote = "2.5"
dust_policy_version = 1

[trading]
authorised_edges = ["edge60", "edge62"]
default_quote_amount = "150"
default_quote_asset = "usdt"

[edges.edge60]
variant = "stop_limit"
buy_slippage_pct = "0.5"
stop_pct = "2"
stop_limit_pct = "2.5"

[edges.edge62]
variant = "oco"
quote_amount = "75"
quote_asset = "usdc"
buy_slippage_pct = "0.25"
stop_pct = "3"
stop_limit_pct = "3.5"
take_profit_pct = "6"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, domain.ExchangeIdentifier{Type: "spot", Exchange: "binance", Account: "main"}, cfg.ExchangeIdentifier())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.LockTTL.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 100, cfg.Feed.BatchSize)

	assert.True(t, cfg.Tracker.DustThresholdQuote.Equal(decimal.RequireFromString("2.5")))

	set, err := cfg.AuthorisedEdges()
	require.NoError(t, err)
	assert.True(t, set.Contains(domain.Edge60))
	assert.True(t, set.Contains(domain.Edge62))
	assert.False(t, set.Contains(domain.Edge61))

	edges, err := cfg.EdgeConfigs()
	require.NoError(t, err)
	require.Contains(t, edges, domain.Edge62)
	assert.Equal(t, VariantOCO, edges[domain.Edge62].Variant)
	assert.True(t, edges[domain.Edge62].TakeProfitPct.Equal(decimal.NewFromInt(6)))

	assert.Equal(t, "USDT", cfg.QuoteAsset(domain.Edge60))
	assert.Equal(t, "USDC", cfg.QuoteAsset(domain.Edge62))

	amounts := cfg.QuoteAmounts()
	assert.Len(t, amounts, 1)
	assert.True(t, amounts[domain.Edge62].Equal(decimal.NewFromInt(75)))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPOTBOT_SERVER_API_KEY", "from-env")
	t.Setenv("SPOTBOT_REDIS_ADDR", "redis:6380")
	t.Setenv("SPOTBOT_TRADING_AUTHORISED_EDGES", "edge60, ")
	t.Setenv("SPOTBOT_TRACKER_DUST_THRESHOLD_QUOTE", "0.75")
	t.Setenv("SPOTBOT_FEED_POLL_INTERVAL", "2s")
	t.Setenv("SPOTBOT_PAPER_REJECT_OCO", "true")
	t.Setenv("SPOTBOT_SERVER_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"edge60"}, cfg.Trading.AuthorisedEdges)
	assert.True(t, cfg.Tracker.DustThresholdQuote.Equal(decimal.RequireFromString("0.75")))
	assert.Equal(t, 2*time.Second, cfg.Feed.PollInterval.Duration)
	assert.True(t, cfg.Paper.RejectOCO)
	// Unparseable values leave the file value in place.
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Tracker.DustPolicyVersion = 2
	cfg.Tracker.DustThresholdQuote = decimal.NewFromInt(-1)
	cfg.Trading.AuthorisedEdges = []string{"edge61", "undefined"}
	cfg.Edges = map[string]EdgeConfig{
		"edge99": {Variant: VariantOCO},
		"edge70": {Variant: "trailing", StopPct: decimal.NewFromInt(2), StopLimitPct: decimal.NewFromInt(1)},
	}
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		"unsupported dust_policy_version 2",
		"dust_threshold_quote must not be negative",
		"authorised_edges",
		`authorised edge "edge61" has no [edges.edge61] section`,
		`unknown edge "edge99"`,
		`unknown variant "trailing"`,
		"stop_limit_pct must be in [stop_pct, 100)",
		"archive: requires postgres.enabled",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateOCONeedsTakeProfit(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.AuthorisedEdges = []string{"edge70"}
	cfg.Edges = map[string]EdgeConfig{
		"edge70": {Variant: VariantOCO, StopPct: decimal.NewFromInt(2), StopLimitPct: decimal.NewFromInt(3)},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "take_profit_pct must be positive for the oco variant")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "secret"
	cfg.Redis.Password = "pw"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.TelegramToken = "tg"
	cfg.Trading.AuthorisedEdges = []string{"edge60"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.S3.AccessKey)

	out.Trading.AuthorisedEdges[0] = "edge61"
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "edge60", cfg.Trading.AuthorisedEdges[0])
}

func TestOrderContextTTL(t *testing.T) {
	cfg := Defaults()
	assert.Zero(t, cfg.Trading.OrderContextTTL.Duration, "contexts are kept until deleted by default")
	require.NoError(t, cfg.Validate())

	cfg.Trading.OrderContextTTL.Duration = -time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_context_ttl must not be negative")
}
