// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "PRESALE_MONITOR"

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Solana        SolanaConfig       `mapstructure:"solana"`
	Oracle        OracleConfig       `mapstructure:"oracle"`
	Watch         WatchConfig        `mapstructure:"watch"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Ingestion     IngestionConfig    `mapstructure:"ingestion"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// SolanaConfig contains blockchain RPC endpoint configuration
type SolanaConfig struct {
	RPCURL               string        `mapstructure:"rpc_url"`
	BackupURLs           []string      `mapstructure:"backup_urls"`
	APIKey               string        `mapstructure:"api_key"`
	APIKeyHeader         string        `mapstructure:"api_key_header"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	MaxRequestsPerSecond float64       `mapstructure:"max_requests_per_second"`
	Commitment           string        `mapstructure:"commitment"`
}

// OracleConfig contains price oracle configuration
type OracleConfig struct {
	BaseURL         string            `mapstructure:"base_url"`
	APIKey          string            `mapstructure:"api_key"`
	APIKeyHeader    string            `mapstructure:"api_key_header"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	PriceTTL        time.Duration     `mapstructure:"price_ttl"`
	CoinIDs         map[string]string `mapstructure:"coin_ids"`
	BreakerFailures int               `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration     `mapstructure:"breaker_timeout"`
}

// WatchConfig lists the monitored addresses and tracked tokens
type WatchConfig struct {
	Addresses       []string          `mapstructure:"addresses"`
	NativeSymbol    string            `mapstructure:"native_symbol"`
	Tokens          map[string]string `mapstructure:"tokens"` // symbol -> mint
	RefreshInterval time.Duration     `mapstructure:"refresh_interval"`
	Concurrency     int               `mapstructure:"concurrency"`
	AdHocMonitors   int               `mapstructure:"ad_hoc_monitors"` // unwatched addresses kept for queries
}

// CacheConfig contains two-tier cache configuration
type CacheConfig struct {
	HotCapacity     int           `mapstructure:"hot_capacity"`
	TransactionTTL  time.Duration `mapstructure:"transaction_ttl"`
	MetricsTTL      time.Duration `mapstructure:"metrics_ttl"`
	SnapshotTTL     time.Duration `mapstructure:"snapshot_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// IngestionConfig contains ingestion pipeline configuration
type IngestionConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	PageSize            int           `mapstructure:"page_size"`
	MaxSignatures       int           `mapstructure:"max_signatures"`
	FetchRetries        int           `mapstructure:"fetch_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	MaxPendingAttempts  int           `mapstructure:"max_pending_attempts"`
	SoftBudget          time.Duration `mapstructure:"soft_budget"`
	RunTimeout          time.Duration `mapstructure:"run_timeout"`
	SummaryTransactions int           `mapstructure:"summary_transactions"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// NotificationConfig contains refresh event notification configuration
type NotificationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
	EnableHealth    bool          `mapstructure:"enable_health"`
	EnableWebSocket bool          `mapstructure:"enable_websocket"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		utils.GetLogger().Info("Config file not found, using defaults and environment variables")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if rpcURL := os.Getenv("SOLANA_RPC_URL"); rpcURL != "" {
		config.Solana.RPCURL = rpcURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if addrs := os.Getenv(EnvPrefix + "_WATCH_ADDRESSES"); addrs != "" {
		config.Watch.Addresses = splitList(addrs)
	}

	config.normalize()
	return &config, nil
}

// normalize upper-cases asset symbols; viper lower-cases map keys on read
func (c *Config) normalize() {
	c.Watch.NativeSymbol = strings.ToUpper(c.Watch.NativeSymbol)
	c.Watch.Tokens = upperKeys(c.Watch.Tokens)
	c.Oracle.CoinIDs = upperKeys(c.Oracle.CoinIDs)
}

func upperKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "presale-monitor")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.api_key_header", "x-api-key")
	v.SetDefault("solana.request_timeout", "15s")
	v.SetDefault("solana.retry_attempts", 3)
	v.SetDefault("solana.retry_delay", "500ms")
	v.SetDefault("solana.max_requests_per_second", 15)
	v.SetDefault("solana.commitment", "confirmed")

	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.api_key_header", "x-cg-demo-api-key")
	v.SetDefault("oracle.timeout", "5s")
	v.SetDefault("oracle.price_ttl", "60s")
	v.SetDefault("oracle.coin_ids", map[string]string{
		"SOL":  "solana",
		"USDC": "usd-coin",
		"USDT": "tether",
	})
	v.SetDefault("oracle.breaker_failures", 3)
	v.SetDefault("oracle.breaker_timeout", "30s")

	v.SetDefault("watch.native_symbol", "SOL")
	v.SetDefault("watch.tokens", map[string]string{
		"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	v.SetDefault("watch.refresh_interval", "30s")
	v.SetDefault("watch.concurrency", 4)
	v.SetDefault("watch.ad_hoc_monitors", 64)

	v.SetDefault("cache.hot_capacity", 4096)
	v.SetDefault("cache.transaction_ttl", "8760h")
	v.SetDefault("cache.metrics_ttl", "10s")
	v.SetDefault("cache.snapshot_ttl", "15s")
	v.SetDefault("cache.janitor_interval", "1m")

	v.SetDefault("ingestion.batch_size", 10)
	v.SetDefault("ingestion.page_size", 1000)
	v.SetDefault("ingestion.max_signatures", 3000)
	v.SetDefault("ingestion.fetch_retries", 3)
	v.SetDefault("ingestion.retry_delay", "250ms")
	v.SetDefault("ingestion.max_pending_attempts", 20)
	v.SetDefault("ingestion.soft_budget", "3s")
	v.SetDefault("ingestion.run_timeout", "5m")
	v.SetDefault("ingestion.summary_transactions", 5)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/presale.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.webhook_timeout", "10s")
	v.SetDefault("notifications.retry_attempts", 3)
	v.SetDefault("notifications.retry_delay", "2s")

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.enable_websocket", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return configError("Solana RPC URL is required")
	}
	if c.Solana.MaxRequestsPerSecond <= 0 {
		return configError("solana.max_requests_per_second must be positive")
	}
	if c.Ingestion.BatchSize <= 0 {
		return configError("ingestion.batch_size must be positive")
	}
	if float64(c.Ingestion.BatchSize) > c.Solana.MaxRequestsPerSecond {
		return configError("ingestion.batch_size must not exceed solana.max_requests_per_second",
			fmt.Sprintf("batch_size=%d max_requests_per_second=%g", c.Ingestion.BatchSize, c.Solana.MaxRequestsPerSecond))
	}
	if c.Ingestion.PageSize <= 0 || c.Ingestion.PageSize > 1000 {
		return configError("ingestion.page_size must be between 1 and 1000")
	}
	if c.Ingestion.MaxSignatures <= 0 {
		return configError("ingestion.max_signatures must be positive")
	}
	if c.Cache.HotCapacity <= 0 {
		return configError("cache.hot_capacity must be positive")
	}
	if c.Cache.MetricsTTL <= 0 || c.Cache.SnapshotTTL <= 0 {
		return configError("cache metrics and snapshot TTLs must be positive")
	}
	if c.Storage.ConnectionString == "" {
		return configError("storage connection string is required")
	}
	if c.Watch.NativeSymbol == "" {
		return configError("watch.native_symbol is required")
	}
	for _, addr := range c.Watch.Addresses {
		if err := utils.ValidateAddress(addr); err != nil {
			return configError("invalid watched address", addr)
		}
	}
	for symbol, mint := range c.Watch.Tokens {
		if err := utils.ValidateAddress(mint); err != nil {
			return configError("invalid token mint", symbol+"="+mint)
		}
	}
	return nil
}

func configError(message string, details ...string) error {
	return utils.NewAppError(utils.ErrCodeConfiguration, message, details...)
}
