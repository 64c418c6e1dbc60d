package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the spool agent.
type Config struct {
	Env     string
	Debug   bool
	Service string

	Shipper ShipperConfig
	Spool   SpoolConfig
	Metrics MetricsConfig
}

// ShipperConfig describes the remote sink.
type ShipperConfig struct {
	ServerURL string
	APIKey    string
	Compress  bool
	Timeout   time.Duration
}

// SpoolConfig tunes the buffer and its drain/backup cadence.
type SpoolConfig struct {
	CacheFile     string // empty selects the well-known path
	BatchSize     int
	FlushInterval time.Duration
	MaxRetry      time.Duration
}

// MetricsConfig enables the Prometheus listener when Addr is set.
type MetricsConfig struct {
	Addr string
}

// Load reads from environment (optionally .env) and builds Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:     getenv("NANOLOG_ENV", "production"),
		Debug:   getBool("NANOLOG_DEBUG", false),
		Service: getenv("NANOLOG_SERVICE", "default"),
		Shipper: ShipperConfig{
			ServerURL: getenv("NANOLOG_SERVER_URL", "http://localhost:8088"),
			APIKey:    getenv("NANOLOG_API_KEY", ""),
			Compress:  getBool("NANOLOG_COMPRESS", true),
			Timeout:   getDuration("NANOLOG_TIMEOUT", 5*time.Second),
		},
		Spool: SpoolConfig{
			CacheFile:     getenv("NANOLOG_CACHE_FILE", ""),
			BatchSize:     getInt("NANOLOG_BATCH_SIZE", 100),
			FlushInterval: getDuration("NANOLOG_FLUSH_INTERVAL", time.Second),
			MaxRetry:      getDuration("NANOLOG_MAX_RETRY", 30*time.Second),
		},
		Metrics: MetricsConfig{
			Addr: getenv("NANOLOG_METRICS_ADDR", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flags may have overridden after Load.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Shipper.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server url %q", c.Shipper.ServerURL)
	}
	if c.Spool.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Spool.BatchSize)
	}
	if c.Spool.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %v", c.Spool.FlushInterval)
	}
	if c.Spool.MaxRetry < 0 {
		return fmt.Errorf("max retry must not be negative, got %v", c.Spool.MaxRetry)
	}
	return nil
}

func getenv(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getInt(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return i
}

func getBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return parsed
}

func getDuration(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return parsed
}
