package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Ensemble    EnsembleConfig    `mapstructure:"ensemble"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	MarketData  MarketDataConfig  `mapstructure:"market_data"`
	Forecasters ForecastersConfig `mapstructure:"forecasters"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Security    SecurityConfig    `mapstructure:"security"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	// AnalyzeTimeout bounds one analysis request and must stay below
	// WriteTimeout so the response can still be written.
	AnalyzeTimeout time.Duration `mapstructure:"analyze_timeout"`
}

// DatabaseConfig selects and configures the prediction store backend.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int    `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	WeightTTL time.Duration `mapstructure:"weight_ttl"`
}

// EnsembleConfig holds the fixed blending constants of a decision pass.
type EnsembleConfig struct {
	ReferenceTimeframe string                   `mapstructure:"reference_timeframe"`
	KnownModels        []string                 `mapstructure:"known_models"`
	DefaultModelWeight float64                  `mapstructure:"default_model_weight"`
	TrendModel         string                   `mapstructure:"trend_model"`
	Indicator          string                   `mapstructure:"indicator"`
	Epsilon            float64                  `mapstructure:"epsilon"`
	IndicatorWeight    float64                  `mapstructure:"indicator_weight"`
	NumericWeight      float64                  `mapstructure:"numeric_weight"`
	SentimentWeight    float64                  `mapstructure:"sentiment_weight"`
	SignalThreshold    float64                  `mapstructure:"signal_threshold"`
	ConfidenceMin      float64                  `mapstructure:"confidence_min"`
	Horizons           map[string]time.Duration `mapstructure:"horizons"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type MarketDataConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	SearchURL        string        `mapstructure:"search_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	MaxRetryElapsed  time.Duration `mapstructure:"max_retry_elapsed"`
	AnalysisPeriod   string        `mapstructure:"analysis_period"`
	ResolutionPeriod string        `mapstructure:"resolution_period"`
	Timeframes       []string      `mapstructure:"timeframes"`
	HeadlineLimit    int           `mapstructure:"headline_limit"`
}

type ForecastersConfig struct {
	ARIMAOrder   int          `mapstructure:"arima_order"`
	ARIMAMAOrder int          `mapstructure:"arima_ma_order"`
	MinCloses    int          `mapstructure:"min_closes"`
	LSTM         RemoteConfig `mapstructure:"lstm"`
}

// RemoteConfig points at an externally served sequence model.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Window  int           `mapstructure:"window"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TelegramConfig struct {
	BotToken   string `mapstructure:"bot_token"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Exporter       string `mapstructure:"exporter"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Legacy variable names from the first deployment
	legacy := map[string][]string{
		"database.sqlite_path":  {"DATABASE_SQLITE_PATH", "PERF_DB_PATH"},
		"forecasters.lstm.url":  {"FORECASTERS_LSTM_URL", "LSTM_MODEL_URL"},
		"telegram.bot_token":    {"TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN"},
		"security.jwt_secret":   {"JWT_SECRET"},
		"database.database_url": {"DATABASE_URL"},
	}
	for key, envs := range legacy {
		if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", envs[0], err)
		}
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Database.Driver = strings.ToLower(config.Database.Driver)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks invariants the services rely on at construction time.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	e := c.Ensemble
	sum := e.IndicatorWeight + e.NumericWeight + e.SentimentWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("ensemble category weights must sum to 1.0, got %.6f", sum)
	}
	if e.ReferenceTimeframe == "" {
		return errors.New("ensemble reference timeframe is required")
	}
	if len(e.KnownModels) == 0 {
		return errors.New("ensemble known models must not be empty")
	}
	if e.Epsilon <= 0 {
		return fmt.Errorf("ensemble epsilon must be positive, got %g", e.Epsilon)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.FetchTimeout <= 0 {
		return fmt.Errorf("scheduler fetch timeout must be positive, got %s", c.Scheduler.FetchTimeout)
	}
	if c.MarketData.Timeout <= 0 {
		return fmt.Errorf("market data timeout must be positive, got %s", c.MarketData.Timeout)
	}
	if c.Server.AnalyzeTimeout <= 0 || c.Server.AnalyzeTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("server analyze timeout %s must be positive and below write timeout %s",
			c.Server.AnalyzeTimeout, c.Server.WriteTimeout)
	}

	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.write_timeout", "45s")
	viper.SetDefault("server.analyze_timeout", "30s")

	// Database
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.sqlite_path", "./data/perf.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "adaptive_ensemble")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_conns", 10)

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.weight_ttl", "5m")

	// Ensemble
	viper.SetDefault("ensemble.reference_timeframe", "1h")
	viper.SetDefault("ensemble.known_models", []string{"arima", "lstm"})
	viper.SetDefault("ensemble.default_model_weight", 0.5)
	viper.SetDefault("ensemble.trend_model", "arima")
	viper.SetDefault("ensemble.indicator", "trend_model")
	viper.SetDefault("ensemble.epsilon", 1e-6)
	viper.SetDefault("ensemble.indicator_weight", 0.35)
	viper.SetDefault("ensemble.numeric_weight", 0.45)
	viper.SetDefault("ensemble.sentiment_weight", 0.20)
	viper.SetDefault("ensemble.signal_threshold", 0.02)
	viper.SetDefault("ensemble.confidence_min", 0.3)
	viper.SetDefault("ensemble.horizons", map[string]string{
		"1m":  "1m",
		"15m": "15m",
		"1h":  "60m",
	})

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.interval", "60s")
	viper.SetDefault("scheduler.fetch_timeout", "5s")

	// Market Data
	viper.SetDefault("market_data.base_url", "https://query1.finance.yahoo.com")
	viper.SetDefault("market_data.search_url", "https://query2.finance.yahoo.com")
	viper.SetDefault("market_data.timeout", "10s")
	viper.SetDefault("market_data.rate_per_second", 2.0)
	viper.SetDefault("market_data.burst", 4)
	viper.SetDefault("market_data.max_retry_elapsed", "4s")
	viper.SetDefault("market_data.analysis_period", "2d")
	viper.SetDefault("market_data.resolution_period", "1d")
	viper.SetDefault("market_data.timeframes", []string{"1m", "15m", "1h"})
	viper.SetDefault("market_data.headline_limit", 5)

	// Forecasters
	viper.SetDefault("forecasters.arima_order", 2)
	viper.SetDefault("forecasters.arima_ma_order", 2)
	viper.SetDefault("forecasters.min_closes", 11)
	viper.SetDefault("forecasters.lstm.url", "")
	viper.SetDefault("forecasters.lstm.window", 32)
	viper.SetDefault("forecasters.lstm.timeout", "5s")

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.webhook_url", "")

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "ensemble-events")
	viper.SetDefault("kafka.client_id", "adaptive-ensemble")

	// Security
	viper.SetDefault("security.jwt_secret", "")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "otlp")
	viper.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.service_name", "adaptive-ensemble")
	viper.SetDefault("telemetry.service_version", "1.0.0")
}
