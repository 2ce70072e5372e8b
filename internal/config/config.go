package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"okxwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	OKX         OKXConfig         `mapstructure:"okx"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	Window      WindowConfig      `mapstructure:"window"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Chart       ChartConfig       `mapstructure:"chart"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the sample/alert archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	RecomputeInterval time.Duration `mapstructure:"recompute_interval"`
	AlignRecompute    bool          `mapstructure:"align_recompute"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// OKXConfig covers exchange connectivity and optional private credentials.
type OKXConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	Passphrase     string        `mapstructure:"passphrase"`
	Simulated      bool          `mapstructure:"simulated"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// HasCredentials reports whether private endpoints can be called.
func (o OKXConfig) HasCredentials() bool {
	return o.APIKey != "" && o.SecretKey != "" && o.Passphrase != ""
}

// InstrumentsConfig points at the tracked instrument list.
type InstrumentsConfig struct {
	File string   `mapstructure:"file"`
	List []string `mapstructure:"list"`
}

// WindowConfig sizes the rolling history and the change lookback.
type WindowConfig struct {
	Lookback   time.Duration `mapstructure:"lookback"`
	MaxSamples int           `mapstructure:"max_samples"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RedisConfig enables the live snapshot publisher.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ChartConfig sets candlestick chart defaults.
type ChartConfig struct {
	Bar      string `mapstructure:"bar"`
	Limit    int    `mapstructure:"limit"`
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the chart timezone, falling back to UTC.
func (c ChartConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("OKXWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

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

// bindLegacyEnv accepts the plain OKX_* variable names used in .env files.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"okx.api_key":    "OKX_API_KEY",
		"okx.secret_key": "OKX_SECRET_KEY",
		"okx.passphrase": "OKX_PASSPHRASE",
		"okx.simulated":  "OKX_SIMULATED",
	}
	for key, env := range bindings {
		prefixed := "OKXWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "okxwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.refresh_interval", "60s")
	v.SetDefault("scheduler.recompute_interval", "30m")
	v.SetDefault("scheduler.align_recompute", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_concurrency", 8)
	v.SetDefault("scheduler.advisory_lock_key", int64(0))

	v.SetDefault("okx.base_url", "https://www.okx.com")
	v.SetDefault("okx.simulated", false)
	v.SetDefault("okx.request_timeout", "5s")
	v.SetDefault("okx.user_agent", "okxwatch/1.0")

	v.SetDefault("instruments.file", "item.txt")

	v.SetDefault("window.lookback", "30m")
	v.SetDefault("window.max_samples", 200)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 2.0)
	v.SetDefault("alerting.cooldown", "10m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "okxwatch")

	v.SetDefault("chart.bar", "1m")
	v.SetDefault("chart.limit", 100)
	v.SetDefault("chart.timezone", "Asia/Taipei")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.RefreshInterval <= 0 {
		return fmt.Errorf("scheduler.refresh_interval must be greater than zero")
	}
	if c.Scheduler.RecomputeInterval <= 0 {
		return fmt.Errorf("scheduler.recompute_interval must be greater than zero")
	}
	if c.Window.Lookback <= 0 {
		return fmt.Errorf("window.lookback must be greater than zero")
	}
	if c.Window.MaxSamples < 2 {
		return fmt.Errorf("window.max_samples must be at least 2")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Chart.Limit <= 0 || c.Chart.Limit > 100 {
		return fmt.Errorf("chart.limit must be between 1 and 100")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr 必须配置")
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
