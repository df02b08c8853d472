package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cron       CronConfig       `mapstructure:"cron"`
	Venue      VenueConfig      `mapstructure:"venue"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Fees       FeesConfig       `mapstructure:"fees"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Autonomous AutonomousConfig `mapstructure:"autonomous"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Agents     []AgentSeed      `mapstructure:"agents"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	EventChannel string `mapstructure:"event_channel"`
}

type CronConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Snapshot   string `mapstructure:"snapshot"`
	ChainAudit string `mapstructure:"chain_audit"`
}

type VenueConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	LiveEnabled    bool          `mapstructure:"live_enabled"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

type MarketDataConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	WSURL          string            `mapstructure:"ws_url"`
	Symbols        []string          `mapstructure:"symbols"`
	SeedPricesUSD  map[string]string `mapstructure:"seed_prices_usd"`
	HistoryDepth   int               `mapstructure:"history_depth"`
	ReconnectDelay time.Duration     `mapstructure:"reconnect_delay"`
}

type FeesConfig struct {
	ExecutionFeePct string `mapstructure:"execution_fee_pct"`
	FeeAccount      string `mapstructure:"fee_account"`
}

type RateLimitConfig struct {
	IntentsPerWindow int           `mapstructure:"intents_per_window"`
	Window           time.Duration `mapstructure:"window"`
}

type ExecutionConfig struct {
	DefaultMode  string        `mapstructure:"default_mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StageRuns    int           `mapstructure:"stage_runs"`
}

type AutonomousConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	Interval              time.Duration `mapstructure:"interval"`
	MinConfidence         float64       `mapstructure:"min_confidence"`
	OrderNotionalUSD      string        `mapstructure:"order_notional_usd"`
	MaxDrawdownStopPct    string        `mapstructure:"max_drawdown_stop_pct"`
	CooldownAfterFailures int           `mapstructure:"cooldown_after_failures"`
	CooldownWindow        time.Duration `mapstructure:"cooldown_window"`
}

type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AgentSeed bootstraps one agent at startup. Monetary fields are decimal
// strings so YAML never round-trips through floats.
type AgentSeed struct {
	ID                  string `mapstructure:"id"`
	Name                string `mapstructure:"name"`
	APIKey              string `mapstructure:"api_key"`
	StrategyID          string `mapstructure:"strategy_id"`
	CashUSD             string `mapstructure:"cash_usd"`
	MaxOrderNotionalUSD string `mapstructure:"max_order_notional_usd"`
	MaxPositionSizePct  string `mapstructure:"max_position_size_pct"`
	MaxGrossExposureUSD string `mapstructure:"max_gross_exposure_usd"`
	MaxDrawdownPct      string `mapstructure:"max_drawdown_pct"`
	DailyLossCapUSD     string `mapstructure:"daily_loss_cap_usd"`
	CooldownSeconds     int    `mapstructure:"cooldown_seconds"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.event_channel", "agentmarket.events")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.snapshot", "@every 5m")
	v.SetDefault("cron.chain_audit", "@every 10m")
	v.SetDefault("venue.base_url", "")
	v.SetDefault("venue.api_key", "")
	v.SetDefault("venue.timeout", "15s")
	v.SetDefault("venue.live_enabled", false)
	v.SetDefault("venue.max_attempts", 3)
	v.SetDefault("venue.retry_base_delay", "250ms")
	v.SetDefault("venue.retry_max_delay", "5s")
	v.SetDefault("market_data.enabled", false)
	v.SetDefault("market_data.ws_url", "")
	v.SetDefault("market_data.symbols", []string{"SOL", "BTC", "ETH"})
	v.SetDefault("market_data.history_depth", 500)
	v.SetDefault("market_data.reconnect_delay", "3s")
	v.SetDefault("fees.execution_fee_pct", "0.0008")
	v.SetDefault("fees.fee_account", "treasury")
	v.SetDefault("rate_limit.intents_per_window", 30)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("execution.default_mode", "paper")
	v.SetDefault("execution.poll_interval", "500ms")
	v.SetDefault("execution.stage_runs", 1024)
	v.SetDefault("autonomous.enabled", false)
	v.SetDefault("autonomous.interval", "30s")
	v.SetDefault("autonomous.min_confidence", 0.6)
	v.SetDefault("autonomous.order_notional_usd", "100")
	v.SetDefault("autonomous.max_drawdown_stop_pct", "0.2")
	v.SetDefault("autonomous.cooldown_after_failures", 3)
	v.SetDefault("autonomous.cooldown_window", "5m")
	v.SetDefault("archive.enabled", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
