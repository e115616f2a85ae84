package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Alpaca   Alpaca   `mapstructure:"alpaca"`
	Sync     Sync     `mapstructure:"sync"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Alpaca holds the configuration for the Alpaca market data API.
type Alpaca struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	DataBaseURL    string  `mapstructure:"data_base_url"`
	TradingBaseURL string  `mapstructure:"trading_base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	BarLimit       int     `mapstructure:"bar_limit"`
}

// Sync holds the configuration for the synchronization engine.
type Sync struct {
	BootstrapDays       int `mapstructure:"bootstrap_days"`
	FallbackDays        int `mapstructure:"fallback_days"`
	SymbolDelaySeconds  int `mapstructure:"symbol_delay_seconds"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	ErrorRetrySeconds   int `mapstructure:"error_retry_seconds"`
	WindowStartHour     int `mapstructure:"window_start_hour"`
	WindowEndHour       int `mapstructure:"window_end_hour"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("alpaca.rate_limit", 3) // requests per second
	viper.SetDefault("alpaca.rate_limit_burst", 1)
	viper.SetDefault("alpaca.timeout_seconds", 30)
	viper.SetDefault("alpaca.bar_limit", 1000)
	viper.SetDefault("sync.bootstrap_days", 30)
	viper.SetDefault("sync.fallback_days", 7)
	viper.SetDefault("sync.symbol_delay_seconds", 1)
	viper.SetDefault("sync.poll_interval_seconds", 14400) // 4 hours
	viper.SetDefault("sync.error_retry_seconds", 300)     // 5 minutes
	viper.SetDefault("sync.window_start_hour", 0)
	viper.SetDefault("sync.window_end_hour", 24)
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("database.dsn", "stock_tracker.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
