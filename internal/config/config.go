package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fx-market-data/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	API        APIConfig        `mapstructure:"api"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RedisConfig encapsulates Redis connectivity.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for tick snapshots.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OAuthConfig covers the upstream authorization endpoints and credentials.
type OAuthConfig struct {
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	RedirectURI       string        `mapstructure:"redirect_uri"`
	AuthURL           string        `mapstructure:"auth_url"`
	TokenURL          string        `mapstructure:"token_url"`
	Scope             string        `mapstructure:"scope"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	AllowMissingState bool          `mapstructure:"allow_missing_state"`
	StateTTL          time.Duration `mapstructure:"state_ttl"`
	StoreTTLBuffer    time.Duration `mapstructure:"store_ttl_buffer"`
}

// StreamConfig captures the streaming venue connectivity and instrument set.
type StreamConfig struct {
	WSURL            string         `mapstructure:"ws_url"`
	APIBase          string         `mapstructure:"api_base"`
	ContextID        string         `mapstructure:"context_id"`
	Instruments      map[string]int `mapstructure:"instruments"`
	RefreshRate      int            `mapstructure:"refresh_rate"`
	TickTTL          time.Duration  `mapstructure:"tick_ttl"`
	HistoryLimit     int            `mapstructure:"history_limit"`
	HandshakeTimeout time.Duration  `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration  `mapstructure:"read_timeout"`
	RequestTimeout   time.Duration  `mapstructure:"request_timeout"`
}

// SupervisorConfig governs the ingestion restart policy.
type SupervisorConfig struct {
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	MaxRestarts       int           `mapstructure:"max_restarts"`
	SteadyReset       time.Duration `mapstructure:"steady_reset"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"`
	StatusTTL         time.Duration `mapstructure:"status_ttl"`
}

// APIConfig sets the read API listener.
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SnapshotConfig governs periodic persistence of cached ticks.
type SnapshotConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines alert routing for supervisor failures.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETDATA")
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
	v.SetDefault("app.name", "marketdata")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("oauth.auth_url", "https://sim.logonvalidation.net/authorize")
	v.SetDefault("oauth.token_url", "https://sim.logonvalidation.net/token")
	v.SetDefault("oauth.redirect_uri", "http://localhost:8080/auth/callback")
	v.SetDefault("oauth.request_timeout", "10s")
	v.SetDefault("oauth.allow_missing_state", false)
	v.SetDefault("oauth.state_ttl", "10m")
	v.SetDefault("oauth.store_ttl_buffer", "5m")

	v.SetDefault("stream.ws_url", "wss://streaming.saxobank.com/sim/openapi/streamingws/connect")
	v.SetDefault("stream.api_base", "https://gateway.saxobank.com/sim/openapi")
	v.SetDefault("stream.context_id", "marketdata")
	v.SetDefault("stream.instruments", map[string]int{
		"EUR-USD": 21,
		"GBP-USD": 31,
		"USD-JPY": 42,
		"USD-CHF": 39,
		"AUD-USD": 4,
	})
	v.SetDefault("stream.refresh_rate", 1000)
	v.SetDefault("stream.tick_ttl", "30s")
	v.SetDefault("stream.history_limit", 100)
	v.SetDefault("stream.handshake_timeout", "10s")
	v.SetDefault("stream.read_timeout", "0s")
	v.SetDefault("stream.request_timeout", "10s")

	v.SetDefault("supervisor.initial_backoff", "1s")
	v.SetDefault("supervisor.max_backoff", "16s")
	v.SetDefault("supervisor.max_restarts", 10)
	v.SetDefault("supervisor.steady_reset", "30s")
	v.SetDefault("supervisor.heartbeat_interval", "30s")
	v.SetDefault("supervisor.heartbeat_ttl", "1m")
	v.SetDefault("supervisor.status_ttl", "5m")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")

	v.SetDefault("snapshot.interval", "1m")
	v.SetDefault("snapshot.align_to_bucket", true)
	v.SetDefault("snapshot.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be configured")
	}
	if len(c.Stream.Instruments) == 0 {
		return fmt.Errorf("stream.instruments must name at least one symbol")
	}
	if c.Stream.TickTTL <= 0 {
		return fmt.Errorf("stream.tick_ttl must be greater than zero")
	}
	if c.Stream.HistoryLimit <= 0 {
		return fmt.Errorf("stream.history_limit must be greater than zero")
	}
	if c.Supervisor.MaxRestarts <= 0 {
		return fmt.Errorf("supervisor.max_restarts must be greater than zero")
	}
	if c.Supervisor.InitialBackoff <= 0 || c.Supervisor.MaxBackoff < c.Supervisor.InitialBackoff {
		return fmt.Errorf("supervisor backoff window is invalid")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be configured when database.enabled is true")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
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
