// Package config provides configuration management for the quote feed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/logging"
)

// Provider names.
const (
	ProviderTwelveData = "twelvedata"
	ProviderKite       = "kite"
)

// Acquisition modes.
const (
	ModeREST      = "rest"
	ModeWebSocket = "websocket"
)

// Store drivers.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Instrument sources.
const (
	SourceStatic = "static"
	SourceCSV    = "csv"
	SourceMongo  = "mongo"
)

// Config holds all application configuration.
type Config struct {
	Market        MarketConfig       `mapstructure:"market"`
	Provider      ProviderConfig     `mapstructure:"provider"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
	Polling       PollingConfig      `mapstructure:"polling"`
	Streaming     StreamingConfig    `mapstructure:"streaming"`
	Reconnect     ReconnectConfig    `mapstructure:"reconnect"`
	Health        HealthConfig       `mapstructure:"health"`
	Store         StoreConfig        `mapstructure:"store"`
	Instruments   InstrumentsConfig  `mapstructure:"instruments"`
	Logging       logging.LogConfig  `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// MarketConfig selects the trading calendar.
type MarketConfig struct {
	Name        string   `mapstructure:"name"` // India, US, UK
	Holidays    []string `mapstructure:"holidays"`
	UseOracle   bool     `mapstructure:"use_oracle"`
	ExitOnClose bool     `mapstructure:"exit_on_close"`
}

// ProviderConfig selects the market-data provider and acquisition mode.
type ProviderConfig struct {
	Name      string        `mapstructure:"name"` // twelvedata, kite
	Mode      string        `mapstructure:"mode"` // rest, websocket
	BaseURL   string        `mapstructure:"base_url"`
	StreamURL string        `mapstructure:"stream_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig bounds outbound requests.
type RateLimitConfig struct {
	PerMinute    int           `mapstructure:"per_minute"`
	PaceInterval time.Duration `mapstructure:"pace_interval"`
}

// PollingConfig holds REST polling configuration.
type PollingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// StreamingConfig holds WebSocket streaming configuration.
type StreamingConfig struct {
	MaxConnections       int           `mapstructure:"max_connections"`
	SymbolsPerConnection int           `mapstructure:"symbols_per_connection"`
	ConnectSpacing       time.Duration `mapstructure:"connect_spacing"`
	KeepAliveInterval    time.Duration `mapstructure:"keep_alive_interval"`
	KeepAliveStaleAfter  time.Duration `mapstructure:"keep_alive_stale_after"`
}

// ReconnectConfig holds reconnect backoff configuration.
type ReconnectConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// HealthConfig holds health monitor configuration.
type HealthConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	RESTStaleAfter        time.Duration `mapstructure:"rest_stale_after"`
	StreamStaleAfter      time.Duration `mapstructure:"stream_stale_after"`
	KeyValidationInterval time.Duration `mapstructure:"key_validation_interval"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver           string        `mapstructure:"driver"` // mongo, sqlite
	URI              string        `mapstructure:"uri"`
	Database         string        `mapstructure:"database"`
	Collection       string        `mapstructure:"collection"`
	SQLitePath       string        `mapstructure:"sqlite_path"`
	MergePolicy      string        `mapstructure:"merge_policy"` // overwrite, append
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// InstrumentsConfig selects where the instrument registry is loaded from.
type InstrumentsConfig struct {
	Source     string   `mapstructure:"source"` // static, csv, mongo
	Symbols    []string `mapstructure:"symbols"`
	CSVPath    string   `mapstructure:"csv_path"`
	URI        string   `mapstructure:"uri"`
	Database   string   `mapstructure:"database"`
	Collection string   `mapstructure:"collection"`
}

// NotificationConfig holds alert delivery configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds provider credentials.
type Credentials struct {
	TwelveData TwelveDataCredentials `mapstructure:"twelvedata"`
	Kite       KiteCredentials       `mapstructure:"kite"`
}

// TwelveDataCredentials holds Twelve Data API credentials.
type TwelveDataCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// KiteCredentials holds Kite Connect credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/quotefeed"
	}
	return filepath.Join(home, ".config", "quotefeed")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// replaced by commented templates and defaults apply.
func Load(configDir string) (*Config, error) {
	cfg, err := Read(configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads configuration like Load but skips validation, for commands
// that only inspect settings.
func Read(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	logDefaults := logging.DefaultLogConfig()

	v.SetDefault("market.name", "India")
	v.SetDefault("market.holidays", []string{})
	v.SetDefault("market.use_oracle", false)
	v.SetDefault("market.exit_on_close", false)

	v.SetDefault("provider.name", ProviderTwelveData)
	v.SetDefault("provider.mode", ModeREST)
	v.SetDefault("provider.base_url", "https://api.twelvedata.com")
	v.SetDefault("provider.stream_url", "wss://ws.twelvedata.com/v1/quotes/price")
	v.SetDefault("provider.timeout", 15*time.Second)

	// Grow plan: 55 credits per minute, one credit per quote.
	v.SetDefault("rate_limit.per_minute", 55)
	v.SetDefault("rate_limit.pace_interval", 200*time.Millisecond)

	v.SetDefault("polling.interval", 60*time.Second)

	v.SetDefault("streaming.max_connections", 8)
	v.SetDefault("streaming.symbols_per_connection", 10)
	v.SetDefault("streaming.connect_spacing", time.Second)
	v.SetDefault("streaming.keep_alive_interval", 10*time.Second)
	v.SetDefault("streaming.keep_alive_stale_after", 300*time.Second)

	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.initial_delay", 5*time.Second)
	v.SetDefault("reconnect.max_delay", 60*time.Second)
	v.SetDefault("reconnect.cooldown", 60*time.Second)

	v.SetDefault("health.interval", 60*time.Second)
	v.SetDefault("health.rest_stale_after", 300*time.Second)
	v.SetDefault("health.stream_stale_after", 180*time.Second)
	v.SetDefault("health.key_validation_interval", time.Hour)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.uri", "mongodb://localhost:27017")
	v.SetDefault("store.database", "smFeeds")
	v.SetDefault("store.collection", "stocks")
	v.SetDefault("store.sqlite_path", filepath.Join(DefaultConfigDir(), "quotes.db"))
	v.SetDefault("store.merge_policy", "overwrite")
	v.SetDefault("store.breaker_threshold", 5)
	v.SetDefault("store.breaker_timeout", 30*time.Second)
	v.SetDefault("store.write_timeout", 10*time.Second)

	v.SetDefault("instruments.source", SourceStatic)
	v.SetDefault("instruments.symbols", []string{"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK"})
	v.SetDefault("instruments.database", "pnq")
	v.SetDefault("instruments.collection", "companies")

	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		cfg.Credentials.TwelveData.APIKey = v
	}
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Store.URI = v
		if cfg.Instruments.URI == "" {
			cfg.Instruments.URI = v
		}
	}
	if v := os.Getenv("QUOTEFEED_MODE"); v != "" {
		cfg.Provider.Mode = strings.ToLower(v)
	}
}

// Validate validates the configuration. Every failure is a
// ConfigurationError.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case ProviderTwelveData:
		if c.Credentials.TwelveData.APIKey == "" {
			return apperrors.NewConfigurationError("credentials.twelvedata.api_key",
				"set TWELVEDATA_API_KEY; get your free API key from https://twelvedata.com/apikey", apperrors.ErrMissingAPIKey)
		}
	case ProviderKite:
		if c.Credentials.Kite.APIKey == "" || c.Credentials.Kite.AccessToken == "" {
			return apperrors.NewConfigurationError("credentials.kite",
				"set KITE_API_KEY and KITE_ACCESS_TOKEN from your Kite Connect app", apperrors.ErrMissingAPIKey)
		}
	default:
		return apperrors.NewConfigurationError("provider.name", fmt.Sprintf("unknown provider %q", c.Provider.Name), nil)
	}

	if c.Provider.Mode != ModeREST && c.Provider.Mode != ModeWebSocket {
		return apperrors.NewConfigurationError("provider.mode", fmt.Sprintf("invalid mode %q (must be 'rest' or 'websocket')", c.Provider.Mode), nil)
	}
	if c.RateLimit.PerMinute <= 0 {
		return apperrors.NewConfigurationError("rate_limit.per_minute", "must be positive", nil)
	}
	if c.Polling.Interval <= 0 {
		return apperrors.NewConfigurationError("polling.interval", "must be positive", nil)
	}
	if c.Streaming.MaxConnections <= 0 || c.Streaming.SymbolsPerConnection <= 0 {
		return apperrors.NewConfigurationError("streaming", "max_connections and symbols_per_connection must be positive", nil)
	}
	if c.Reconnect.InitialDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return apperrors.NewConfigurationError("reconnect", "initial_delay must be positive and not exceed max_delay", nil)
	}
	if c.Store.Driver != DriverMongo && c.Store.Driver != DriverSQLite {
		return apperrors.NewConfigurationError("store.driver", fmt.Sprintf("unknown driver %q", c.Store.Driver), apperrors.ErrUnsupportedStore)
	}
	if c.Store.MergePolicy != "overwrite" && c.Store.MergePolicy != "append" {
		return apperrors.NewConfigurationError("store.merge_policy", fmt.Sprintf("invalid policy %q (must be 'overwrite' or 'append')", c.Store.MergePolicy), nil)
	}
	switch c.Instruments.Source {
	case SourceStatic:
		if len(c.Instruments.Symbols) == 0 {
			return apperrors.NewConfigurationError("instruments.symbols", "at least one symbol is required", apperrors.ErrNoInstruments)
		}
	case SourceCSV:
		if c.Instruments.CSVPath == "" {
			return apperrors.NewConfigurationError("instruments.csv_path", "required for csv source", nil)
		}
	case SourceMongo:
		if c.Instruments.URI == "" {
			return apperrors.NewConfigurationError("instruments.uri", "required for mongo source", nil)
		}
	default:
		return apperrors.NewConfigurationError("instruments.source", fmt.Sprintf("unknown source %q", c.Instruments.Source), nil)
	}

	return nil
}

// IsStreaming returns true if WebSocket streaming mode is selected.
func (c *Config) IsStreaming() bool {
	return c.Provider.Mode == ModeWebSocket
}
