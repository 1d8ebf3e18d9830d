// Package config defines the top-level configuration for spotbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPOTBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig        `toml:"exchange"`
	Redis    RedisConfig           `toml:"redis"`
	Postgres PostgresConfig        `toml:"postgres"`
	S3       S3Config              `toml:"s3"`
	Archive  ArchiveConfig         `toml:"archive"`
	Server   ServerConfig          `toml:"server"`
	Notify   NotifyConfig          `toml:"notify"`
	Tracker  TrackerConfig         `toml:"tracker"`
	Trading  TradingConfig         `toml:"trading"`
	Edges    map[string]EdgeConfig `toml:"edges"`
	Feed     FeedConfig            `toml:"feed"`
	Paper    PaperConfig           `toml:"paper"`
	Mode     string                `toml:"mode"`
	LogLevel string                `toml:"log_level"`
}

// ExchangeConfig names the account positions are tracked for. Engine selects
// the execution engine; only "paper" ships with the bot.
type ExchangeConfig struct {
	Type    string `toml:"type"`
	Name    string `toml:"name"`
	Account string `toml:"account"`
	Engine  string `toml:"engine"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the fill and event streams (approximate trimming).
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// PostgresConfig holds connection parameters for closed-position history and
// the audit log. Both are skipped when Enabled is false.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving closed-position history to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	// Prune deletes archived rows from Postgres after a successful upload.
	Prune bool `toml:"prune"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client; 0 disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// LockTTL bounds how long one open or close may hold its position lock.
	// The lock is refreshed while the command runs; the TTL only matters
	// when the holding process dies.
	LockTTL duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// RatePerMinute caps deliveries per sender across all bot processes.
	RatePerMinute int `toml:"rate_per_minute"`
}

// TrackerConfig holds the close policy. A position is closed once its
// remaining size is worth at most DustThresholdQuote at the exit price.
type TrackerConfig struct {
	DustThresholdQuote decimal.Decimal `toml:"dust_threshold_quote"`
	DustPolicyVersion  int             `toml:"dust_policy_version"`
}

// TradingConfig holds settings shared by every edge.
type TradingConfig struct {
	AuthorisedEdges    []string        `toml:"authorised_edges"`
	DefaultQuoteAmount decimal.Decimal `toml:"default_quote_amount"`
	DefaultQuoteAsset  string          `toml:"default_quote_asset"`
	// OrderContextTTL expires order contexts. Zero keeps them until deleted,
	// which a protective exit order that fills weeks later relies on.
	OrderContextTTL duration `toml:"order_context_ttl"`
}

// EdgeConfig selects the executor variant and its parameters for one edge.
// Percentages are whole percent: "0.5" is half a percent.
type EdgeConfig struct {
	Variant        string          `toml:"variant"`
	QuoteAmount    decimal.Decimal `toml:"quote_amount"`
	QuoteAsset     string          `toml:"quote_asset"`
	BuySlippagePct decimal.Decimal `toml:"buy_slippage_pct"`
	StopPct        decimal.Decimal `toml:"stop_pct"`
	StopLimitPct   decimal.Decimal `toml:"stop_limit_pct"`
	TakeProfitPct  decimal.Decimal `toml:"take_profit_pct"`
}

// Executor variants.
const (
	VariantStopLimit = "stop_limit"
	VariantOCO       = "oco"
)

// FeedConfig controls the fill stream consumer.
type FeedConfig struct {
	Name         string   `toml:"name"`
	PollInterval duration `toml:"poll_interval"`
	BatchSize    int      `toml:"batch_size"`
	MaxAttempts  int      `toml:"max_attempts"`
}

// PaperConfig controls the paper execution engine.
type PaperConfig struct {
	MaxPriceAge   duration `toml:"max_price_age"`
	MatchInterval duration `toml:"match_interval"`
	PriceTTL      duration `toml:"price_ttl"`
	// RejectOCO fails every OCO placement to exercise abort handling.
	RejectOCO bool `toml:"reject_oco"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Type:    "spot",
			Name:    "paper",
			Account: "default",
			Engine:  "paper",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 100_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "spotbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spotbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "30 2 * * *",
			Prune:         true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
			LockTTL:     duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events:        []string{"position_opened", "position_closed", "exit_order_abort"},
			RatePerMinute: 20,
		},
		Tracker: TrackerConfig{
			DustThresholdQuote: decimal.NewFromInt(1),
			DustPolicyVersion:  1,
		},
		Trading: TradingConfig{
			DefaultQuoteAmount: decimal.NewFromInt(100),
			DefaultQuoteAsset:  "USDT",
		},
		Edges: map[string]EdgeConfig{},
		Feed: FeedConfig{
			Name:         "fill_feed",
			PollInterval: duration{500 * time.Millisecond},
			BatchSize:    100,
			MaxAttempts:  3,
		},
		Paper: PaperConfig{
			MaxPriceAge:   duration{time.Minute},
			MatchInterval: duration{time.Second},
			PriceTTL:      duration{10 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"ingest": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var hundred = decimal.NewFromInt(100)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, ingest, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.Type == "" || c.Exchange.Name == "" || c.Exchange.Account == "" {
		errs = append(errs, "exchange: type, name and account must all be set")
	}
	for _, v := range []string{c.Exchange.Type, c.Exchange.Name, c.Exchange.Account} {
		if strings.Contains(v, ":") {
			errs = append(errs, fmt.Sprintf("exchange: %q must not contain ':'", v))
		}
	}
	if c.Exchange.Engine != "paper" {
		errs = append(errs, fmt.Sprintf("exchange: unknown engine %q (valid: paper)", c.Exchange.Engine))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, "s3: bucket and region must be set when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}
	if c.Server.LockTTL.Duration <= 0 {
		errs = append(errs, "server: lock_ttl must be positive")
	}

	// Tracker
	if c.Tracker.DustThresholdQuote.IsNegative() {
		errs = append(errs, "tracker: dust_threshold_quote must not be negative")
	}
	if c.Tracker.DustPolicyVersion != 1 {
		errs = append(errs, fmt.Sprintf("tracker: unsupported dust_policy_version %d (supported: 1)", c.Tracker.DustPolicyVersion))
	}

	// Trading and edges
	if c.Trading.DefaultQuoteAsset == "" {
		errs = append(errs, "trading: default_quote_asset must not be empty")
	}
	if c.Trading.DefaultQuoteAmount.IsNegative() {
		errs = append(errs, "trading: default_quote_amount must not be negative")
	}
	if c.Trading.OrderContextTTL.Duration < 0 {
		errs = append(errs, "trading: order_context_ttl must not be negative")
	}
	if _, err := domain.NewEdgeSet(c.Trading.AuthorisedEdges); err != nil {
		errs = append(errs, "trading: authorised_edges: "+err.Error())
	}
	for name, ec := range c.Edges {
		e, err := domain.ParseEdge(name)
		if err != nil || e == domain.EdgeUndefined {
			errs = append(errs, fmt.Sprintf("edges: unknown edge %q", name))
			continue
		}
		errs = append(errs, ec.validate(name, c.Trading.DefaultQuoteAmount)...)
	}
	for _, name := range c.Trading.AuthorisedEdges {
		if _, ok := c.Edges[strings.ToLower(strings.TrimSpace(name))]; !ok {
			errs = append(errs, fmt.Sprintf("trading: authorised edge %q has no [edges.%s] section", name, name))
		}
	}

	// Feed
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be positive")
	}
	if c.Feed.BatchSize < 1 {
		errs = append(errs, "feed: batch_size must be >= 1")
	}
	if c.Feed.MaxAttempts < 1 {
		errs = append(errs, "feed: max_attempts must be >= 1")
	}

	// Paper
	if c.Exchange.Engine == "paper" && c.Paper.MatchInterval.Duration <= 0 {
		errs = append(errs, "paper: match_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (ec EdgeConfig) validate(name string, defaultAmount decimal.Decimal) []string {
	var errs []string
	prefix := "edges." + name + ": "
	switch ec.Variant {
	case VariantStopLimit, VariantOCO:
	default:
		errs = append(errs, fmt.Sprintf("%sunknown variant %q (valid: stop_limit, oco)", prefix, ec.Variant))
	}
	if ec.QuoteAmount.IsNegative() {
		errs = append(errs, prefix+"quote_amount must not be negative")
	}
	if ec.QuoteAmount.IsZero() && !defaultAmount.IsPositive() {
		errs = append(errs, prefix+"quote_amount must be set when trading.default_quote_amount is zero")
	}
	if ec.BuySlippagePct.IsNegative() {
		errs = append(errs, prefix+"buy_slippage_pct must not be negative")
	}
	if !ec.StopPct.IsPositive() || ec.StopPct.GreaterThanOrEqual(hundred) {
		errs = append(errs, prefix+"stop_pct must be in (0, 100)")
	}
	if ec.StopLimitPct.LessThan(ec.StopPct) || ec.StopLimitPct.GreaterThanOrEqual(hundred) {
		errs = append(errs, prefix+"stop_limit_pct must be in [stop_pct, 100)")
	}
	if ec.Variant == VariantOCO && !ec.TakeProfitPct.IsPositive() {
		errs = append(errs, prefix+"take_profit_pct must be positive for the oco variant")
	}
	return errs
}

// ExchangeIdentifier returns the account positions are keyed under.
func (c *Config) ExchangeIdentifier() domain.ExchangeIdentifier {
	return domain.ExchangeIdentifier{Type: c.Exchange.Type, Exchange: c.Exchange.Name, Account: c.Exchange.Account}
}

// AuthorisedEdges parses the allow-list.
func (c *Config) AuthorisedEdges() (domain.EdgeSet, error) {
	return domain.NewEdgeSet(c.Trading.AuthorisedEdges)
}

// EdgeConfigs returns the per-edge sections keyed by parsed edge.
func (c *Config) EdgeConfigs() (map[domain.Edge]EdgeConfig, error) {
	out := make(map[domain.Edge]EdgeConfig, len(c.Edges))
	for name, ec := range c.Edges {
		e, err := domain.ParseEdge(name)
		if err != nil {
			return nil, fmt.Errorf("config: edges.%s: %w", name, err)
		}
		out[e] = ec
	}
	return out, nil
}

// QuoteAsset returns the quote asset for edge, falling back to the trading
// default.
func (c *Config) QuoteAsset(edge domain.Edge) string {
	if ec, ok := c.Edges[edge.String()]; ok && ec.QuoteAsset != "" {
		return strings.ToUpper(ec.QuoteAsset)
	}
	return strings.ToUpper(c.Trading.DefaultQuoteAsset)
}

// QuoteAmounts returns the per-edge quote amounts that override the default.
func (c *Config) QuoteAmounts() map[domain.Edge]decimal.Decimal {
	out := make(map[domain.Edge]decimal.Decimal)
	for name, ec := range c.Edges {
		e, err := domain.ParseEdge(name)
		if err != nil || !ec.QuoteAmount.IsPositive() {
			continue
		}
		out[e] = ec.QuoteAmount
	}
	return out
}
