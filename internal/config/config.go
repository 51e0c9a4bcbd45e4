package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Venues     VenueConfig
	Poll       PollConfig
	History    HistoryConfig
	Watchlist  WatchlistConfig
	Proxy      ProxyConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int
	Environment string
}

// ClickHouseConfig with an empty Host disables the candle archive.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// RedisConfig with an empty Host disables caching and pub/sub.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	CandleTTL time.Duration
}

type VenueConfig struct {
	EnableCoinbase  bool
	EnablePhemex    bool
	EnableYahoo     bool
	EnableCoinGecko bool

	CoinbaseRESTURL string
	CoinbaseWSURL   string
	PhemexURL       string
	YahooURL        string
	CoinGeckoURL    string

	CoinGeckoAPIKey string
	RequestTimeout  time.Duration
}

type PollConfig struct {
	Phemex    time.Duration
	Yahoo     time.Duration
	CoinGecko time.Duration
	Snapshot  time.Duration
}

type HistoryConfig struct {
	Workers int
}

type WatchlistConfig struct {
	File string
}

type ProxyConfig struct {
	URLs    []string
	ListURL string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, with a .env file
// applied first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		ClickHouse: ClickHouseConfig{
			Host:     getEnv("CLICKHOUSE_HOST", ""),
			Port:     getEnvInt("CLICKHOUSE_PORT", 9000),
			Database: getEnv("CLICKHOUSE_DATABASE", "vega"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			CandleTTL: time.Duration(getEnvInt("CACHE_TTL_CANDLES", 60)) * time.Second,
		},
		Venues: VenueConfig{
			EnableCoinbase:  getEnvBool("ENABLE_COINBASE", true),
			EnablePhemex:    getEnvBool("ENABLE_PHEMEX", true),
			EnableYahoo:     getEnvBool("ENABLE_YAHOO", true),
			EnableCoinGecko: getEnvBool("ENABLE_COINGECKO", true),
			CoinbaseRESTURL: getEnv("COINBASE_REST_URL", ""),
			CoinbaseWSURL:   getEnv("COINBASE_WS_URL", ""),
			PhemexURL:       getEnv("PHEMEX_URL", ""),
			YahooURL:        getEnv("YAHOO_URL", ""),
			CoinGeckoURL:    getEnv("COINGECKO_URL", ""),
			CoinGeckoAPIKey: getEnv("COINGECKO_API_KEY", ""),
			RequestTimeout:  parseDuration(getEnv("REQUEST_TIMEOUT", "10s"), 10*time.Second),
		},
		Poll: PollConfig{
			Phemex:    parseDuration(getEnv("POLL_PHEMEX", "5s"), 5*time.Second),
			Yahoo:     parseDuration(getEnv("POLL_YAHOO", "15s"), 15*time.Second),
			CoinGecko: parseDuration(getEnv("POLL_COINGECKO", "10s"), 10*time.Second),
			Snapshot:  parseDuration(getEnv("POLL_SNAPSHOT", "10s"), 10*time.Second),
		},
		History: HistoryConfig{
			Workers: getEnvInt("HISTORY_WORKERS", 4),
		},
		Watchlist: WatchlistConfig{
			File: getEnv("WATCHLIST_FILE", "symbols.yaml"),
		},
		Proxy: ProxyConfig{
			URLs:    getEnvList("PROXY_URLS"),
			ListURL: getEnv("PROXY_LIST_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Server.HTTPPort)
	}
	if c.Poll.Phemex <= 0 || c.Poll.Yahoo <= 0 || c.Poll.CoinGecko <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.History.Workers <= 0 {
		return fmt.Errorf("HISTORY_WORKERS must be positive")
	}
	if !c.Venues.EnableCoinbase && !c.Venues.EnablePhemex &&
		!c.Venues.EnableYahoo && !c.Venues.EnableCoinGecko {
		return fmt.Errorf("at least one venue must be enabled")
	}
	return nil
}

// ArchiveEnabled reports whether ClickHouse is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ClickHouse.Host != ""
}

// RedisEnabled reports whether Redis is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c *ClickHouseConfig) DSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?dial_timeout=10s&max_execution_time=60",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
