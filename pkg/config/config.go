package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logger"`
	Remote struct {
		// Backend selects the candle pager: "http" or "clickhouse". Tiles
		// always come from the remote HTTP API.
		Backend string        `yaml:"backend" default:"http"`
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"remote"`
	Cache struct {
		MaxTiles     int           `yaml:"max_tiles" default:"200"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"30s"`
		Redis        struct {
			Enabled  bool          `yaml:"enabled"`
			Addr     string        `yaml:"addr" default:"localhost:6379"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			Prefix   string        `yaml:"prefix" default:"chartfeed"`
			TTL      time.Duration `yaml:"ttl" default:"24h"`
		} `yaml:"redis"`
		Warm struct {
			Enabled    bool     `yaml:"enabled"`
			Timeframes []string `yaml:"timeframes"`
			Latest     int      `yaml:"latest" default:"4"`
			Workers    int      `yaml:"workers" default:"2"`
			RetryLimit int      `yaml:"retry_limit" default:"3"`
		} `yaml:"warm"`
	} `yaml:"cache"`
	Window struct {
		Capacity  int           `yaml:"capacity" default:"5000"`
		BatchSize int           `yaml:"batch_size" default:"500"`
		Debounce  time.Duration `yaml:"debounce" default:"500ms"`
	} `yaml:"window"`
	RateLimit struct {
		Burst     float64       `yaml:"burst" default:"10"`
		PerSecond float64       `yaml:"per_second" default:"4"`
		IdleTTL   time.Duration `yaml:"idle_ttl" default:"10m"`
	} `yaml:"rate_limit"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"chartfeed"`
		Table            string        `yaml:"table" default:"chartfeed.candles"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		InitSchema       bool          `yaml:"init_schema"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		Compression string   `yaml:"compression" default:"snappy"`
		Topics      struct {
			Evictions   string `yaml:"evictions" default:"chartfeed.evictions"`
			FileUpdates string `yaml:"file_updates" default:"chartfeed.file-updates"`
		} `yaml:"topics"`
		Producer struct {
			RequiredAcks int           `yaml:"required_acks" default:"1"`
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"chartfeed"`
			Workers    int           `yaml:"workers" default:"2"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
}

// Load reads a YAML file, fills defaults and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("CHARTFEED_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("CHARTFEED_REMOTE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := getenv("CHARTFEED_BACKEND"); v != "" {
		c.Remote.Backend = v
	}
	if v := getenv("CHARTFEED_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
		c.Cache.Redis.Enabled = true
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case "http", "clickhouse":
	default:
		return fmt.Errorf("remote.backend must be 'http' or 'clickhouse', got '%s'", c.Remote.Backend)
	}
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url is required")
	}
	if c.Cache.MaxTiles <= 0 {
		return fmt.Errorf("cache.max_tiles must be positive")
	}
	if c.Window.Capacity <= 0 || c.Window.BatchSize <= 0 {
		return fmt.Errorf("window.capacity and window.batch_size must be positive")
	}
	if c.Window.BatchSize > c.Window.Capacity {
		return fmt.Errorf("window.batch_size %d exceeds window.capacity %d", c.Window.BatchSize, c.Window.Capacity)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Cache.Warm.Enabled && !c.Cache.Redis.Enabled {
		return fmt.Errorf("cache.warm requires cache.redis")
	}
	if c.Cache.Warm.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("cache.warm requires kafka file updates")
	}
	return nil
}

// RedisHostPort splits Cache.Redis.Addr.
func (c *Config) RedisHostPort() (string, int, error) {
	host, port, ok := strings.Cut(c.Cache.Redis.Addr, ":")
	if !ok {
		return host, 6379, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, fmt.Errorf("cache.redis.addr: %w", err)
	}
	return host, p, nil
}
