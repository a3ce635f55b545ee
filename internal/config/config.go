package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Engine    EngineConfig    `yaml:"engine" envconfig:"ENGINE"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// EngineConfig contains analytics engine configuration
type EngineConfig struct {
	MaxConcurrentCalculations int           `yaml:"max_concurrent_calculations" envconfig:"MAX_CONCURRENT_CALCULATIONS" default:"3"`
	CalculationTimeout        time.Duration `yaml:"calculation_timeout" envconfig:"CALCULATION_TIMEOUT" default:"20s"`
	ChartTimeout              time.Duration `yaml:"chart_timeout" envconfig:"CHART_TIMEOUT" default:"8s"`
	ChartConcurrency          int           `yaml:"chart_concurrency" envconfig:"CHART_CONCURRENCY" default:"4"`
	NotifyDebounce            time.Duration `yaml:"notify_debounce" envconfig:"NOTIFY_DEBOUNCE" default:"300ms"`
	QueueCapacity             int           `yaml:"queue_capacity" envconfig:"QUEUE_CAPACITY" default:"64"`
	EventLogSize              int           `yaml:"event_log_size" envconfig:"EVENT_LOG_SIZE" default:"100"`
	PreparationTimeout        time.Duration `yaml:"preparation_timeout" envconfig:"PREPARATION_TIMEOUT" default:"30s"`
}

// CacheConfig contains memo cache configuration
type CacheConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl" envconfig:"DEFAULT_TTL" default:"5m"`
	MaxEntries    int           `yaml:"max_entries" envconfig:"MAX_ENTRIES" default:"1000"`
	MaxMemoryMB   int           `yaml:"max_memory_mb" envconfig:"MAX_MEMORY_MB" default:"64"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL" default:"1m"`
	PersistPath   string        `yaml:"persist_path" envconfig:"PERSIST_PATH"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" default:"30s"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
	SendBuffer      int           `yaml:"send_buffer" envconfig:"SEND_BUFFER" default:"16"`
}

// Load loads configuration from environment variables and an optional
// YAML config file. Environment variables take precedence.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = *fileCfg
		}
	}

	if err := envconfig.Process("TP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration with all defaults applied and no
// environment or file overrides. Tests and embedded callers use this.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills zero values. File-loaded configs bypass the
// envconfig default tags, so defaults are applied explicitly.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.RateLimit.RPS == 0 {
		cfg.Server.RateLimit.RPS = 100
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = "logs/app.log"
	}
	if cfg.Engine.MaxConcurrentCalculations == 0 {
		cfg.Engine.MaxConcurrentCalculations = 3
	}
	if cfg.Engine.CalculationTimeout == 0 {
		cfg.Engine.CalculationTimeout = 20 * time.Second
	}
	if cfg.Engine.ChartTimeout == 0 {
		cfg.Engine.ChartTimeout = 8 * time.Second
	}
	if cfg.Engine.ChartConcurrency == 0 {
		cfg.Engine.ChartConcurrency = 4
	}
	if cfg.Engine.NotifyDebounce == 0 {
		cfg.Engine.NotifyDebounce = 300 * time.Millisecond
	}
	if cfg.Engine.QueueCapacity == 0 {
		cfg.Engine.QueueCapacity = 64
	}
	if cfg.Engine.EventLogSize == 0 {
		cfg.Engine.EventLogSize = 100
	}
	if cfg.Engine.PreparationTimeout == 0 {
		cfg.Engine.PreparationTimeout = 30 * time.Second
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 5 * time.Minute
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}
	if cfg.Cache.MaxMemoryMB == 0 {
		cfg.Cache.MaxMemoryMB = 64
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = time.Minute
	}
	if cfg.WebSocket.ReadBufferSize == 0 {
		cfg.WebSocket.ReadBufferSize = 1024
	}
	if cfg.WebSocket.WriteBufferSize == 0 {
		cfg.WebSocket.WriteBufferSize = 1024
	}
	if cfg.WebSocket.PingPeriod == 0 {
		cfg.WebSocket.PingPeriod = 30 * time.Second
	}
	if cfg.WebSocket.PongWait == 0 {
		cfg.WebSocket.PongWait = 60 * time.Second
	}
	if cfg.WebSocket.SendBuffer == 0 {
		cfg.WebSocket.SendBuffer = 16
	}
}

// validate checks configuration invariants
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Engine.MaxConcurrentCalculations < 1 {
		return fmt.Errorf("max_concurrent_calculations must be at least 1, got %d", c.Engine.MaxConcurrentCalculations)
	}
	if c.Engine.ChartConcurrency < 1 {
		return fmt.Errorf("chart_concurrency must be at least 1, got %d", c.Engine.ChartConcurrency)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max_entries must be at least 1, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxMemoryMB < 1 {
		return fmt.Errorf("cache max_memory_mb must be at least 1, got %d", c.Cache.MaxMemoryMB)
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %s", c.Logging.Output)
	}
	return nil
}
