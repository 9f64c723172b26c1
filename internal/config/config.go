package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-pulse/internal/logging"
	"market-pulse/internal/series"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Symbols   []string        `mapstructure:"symbols" validate:"min=1,dive,required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs the quote poll cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay" validate:"gte=0"`
}

// AnalysisConfig governs indicator recomputation.
type AnalysisConfig struct {
	Schedule   string   `mapstructure:"schedule" validate:"required"`
	Window     int      `mapstructure:"window" validate:"gte=0"`
	Timeframes []string `mapstructure:"timeframes" validate:"min=1"`
}

// FetcherConfig tunes the failover fetcher.
type FetcherConfig struct {
	Order    []string      `mapstructure:"order" validate:"min=1,dive,oneof=session yahoo alphavantage alpaca chainlink simulated"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MinYield int           `mapstructure:"min_yield" validate:"gte=1"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures per-adapter circuit breakers.
type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio" validate:"gte=0,lte=1"`
}

// ProvidersConfig holds per-adapter settings.
type ProvidersConfig struct {
	Yahoo        YahooConfig        `mapstructure:"yahoo"`
	AlphaVantage AlphaVantageConfig `mapstructure:"alphavantage"`
	Alpaca       AlpacaConfig       `mapstructure:"alpaca"`
	Chainlink    ChainlinkConfig    `mapstructure:"chainlink"`
	Session      SessionConfig      `mapstructure:"session"`
	Simulated    SimulatedConfig    `mapstructure:"simulated"`
}

// YahooConfig covers the public chart API.
type YahooConfig struct {
	BaseURL   string            `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	UserAgent string            `mapstructure:"user_agent"`
	Symbols   map[string]string `mapstructure:"symbols"`
}

// AlphaVantageConfig covers the GLOBAL_QUOTE endpoint.
type AlphaVantageConfig struct {
	APIKey  string            `mapstructure:"api_key"`
	BaseURL string            `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Symbols map[string]string `mapstructure:"symbols"`
}

// AlpacaConfig covers Alpaca market data.
type AlpacaConfig struct {
	APIKey    string            `mapstructure:"api_key"`
	APISecret string            `mapstructure:"api_secret"`
	BaseURL   string            `mapstructure:"base_url" validate:"omitempty,url"`
	Feed      string            `mapstructure:"feed" validate:"omitempty,oneof=iex sip delayed_sip otc"`
	Symbols   map[string]string `mapstructure:"symbols"`
}

// ChainlinkConfig covers on-chain price feeds.
type ChainlinkConfig struct {
	RPCURL  string            `mapstructure:"rpc_url"`
	Feeds   map[string]string `mapstructure:"feeds"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// SessionConfig covers the token-authenticated broker API.
type SessionConfig struct {
	BaseURL    string            `mapstructure:"base_url" validate:"omitempty,url"`
	LoginPath  string            `mapstructure:"login_path"`
	QuotesPath string            `mapstructure:"quotes_path"`
	ClientCode string            `mapstructure:"client_code"`
	Password   string            `mapstructure:"password"`
	APIKey     string            `mapstructure:"api_key"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Symbols    map[string]string `mapstructure:"symbols"`
}

// SimulatedConfig seeds the random walk adapter.
type SimulatedConfig struct {
	Seed       int64   `mapstructure:"seed"`
	Volatility float64 `mapstructure:"volatility" validate:"gte=0"`
}

// StorageConfig selects and configures the quote repository.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=memory postgres sqlite"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
}

// PublishConfig routes quote and signal events.
type PublishConfig struct {
	Log   bool        `mapstructure:"log"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig covers the pub/sub publisher.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// KafkaConfig covers the Kafka publisher.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketpulse")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("symbols", []string{"NIFTY", "BANKNIFTY", "SENSEX"})

	v.SetDefault("scheduler.interval", "5s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d6b7470))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("analysis.schedule", "@every 30s")
	v.SetDefault("analysis.window", 0)
	v.SetDefault("analysis.timeframes", []string{"1m", "5m", "15m", "1h"})

	v.SetDefault("fetcher.order", []string{"session", "yahoo", "alphavantage", "alpaca", "chainlink"})
	v.SetDefault("fetcher.timeout", "8s")
	v.SetDefault("fetcher.min_yield", 1)
	v.SetDefault("fetcher.breaker.max_requests", 1)
	v.SetDefault("fetcher.breaker.interval", "1m")
	v.SetDefault("fetcher.breaker.open_timeout", "30s")
	v.SetDefault("fetcher.breaker.min_requests", 5)
	v.SetDefault("fetcher.breaker.failure_ratio", 0.5)

	v.SetDefault("providers.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("providers.yahoo.timeout", "10s")
	v.SetDefault("providers.alphavantage.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("providers.alphavantage.timeout", "10s")
	v.SetDefault("providers.alpaca.feed", "iex")
	v.SetDefault("providers.chainlink.timeout", "10s")
	v.SetDefault("providers.session.timeout", "10s")
	v.SetDefault("providers.simulated.seed", 1)
	v.SetDefault("providers.simulated.volatility", 0.002)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.sqlite_path", "marketpulse.db")

	v.SetDefault("publish.log", true)
	v.SetDefault("publish.redis.channel", "marketpulse.events")
	v.SetDefault("publish.kafka.topic", "marketpulse.events")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// normalize upper-cases symbols and map keys; viper lower-cases map keys.
func (c *Config) normalize() {
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, name := range c.Fetcher.Order {
		c.Fetcher.Order[i] = strings.ToLower(strings.TrimSpace(name))
	}
	p := &c.Providers
	p.Yahoo.Symbols = upperKeys(p.Yahoo.Symbols)
	p.AlphaVantage.Symbols = upperKeys(p.AlphaVantage.Symbols)
	p.Alpaca.Symbols = upperKeys(p.Alpaca.Symbols)
	p.Chainlink.Feeds = upperKeys(p.Chainlink.Feeds)
	p.Session.Symbols = upperKeys(p.Session.Symbols)

	if c.Logging.Fields == nil {
		c.Logging.Fields = map[string]string{}
	}
	if _, ok := c.Logging.Fields["app"]; !ok && c.App.Name != "" {
		c.Logging.Fields["app"] = c.App.Name
	}
	if _, ok := c.Logging.Fields["env"]; !ok && c.App.Environment != "" {
		c.Logging.Fields["env"] = c.App.Environment
	}
}

func upperKeys(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

var validate = validator.New()

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if err := c.validateWindow(); err != nil {
		return err
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres driver")
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// validateWindow checks that an explicit analysis.window holds enough polled
// rows for the gate minimum on the smallest timeframe. Zero sizes the window
// automatically.
func (c *Config) validateWindow() error {
	tfs, err := series.ParseTimeframes(c.Analysis.Timeframes)
	if err != nil {
		return fmt.Errorf("analysis.timeframes: %w", err)
	}
	if c.Analysis.Window == 0 {
		return nil
	}
	smallest := tfs[0]
	for _, tf := range tfs[1:] {
		if tf.Duration < smallest.Duration {
			smallest = tf
		}
	}
	if need := series.DefaultGate.Lookback(smallest, c.Scheduler.Interval); c.Analysis.Window < need {
		return fmt.Errorf("analysis.window %d cannot cover %d %s candles at %s polling; need at least %d or 0 for automatic sizing",
			c.Analysis.Window, series.DefaultGate.MinPoints, smallest.Label, c.Scheduler.Interval, need)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
