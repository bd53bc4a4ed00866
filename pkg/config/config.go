package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/cuemby/shutter/pkg/log"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Handler identities
const (
	HandlerBroadcast = "broadcast"
	HandlerCache     = "cache"
	HandlerPersist   = "persist"
	HandlerPoll      = "poll"
	HandlerUpload    = "upload"
	HandlerMotion    = "motion"
)

// DefaultHandlers is the default event handler chain, in dispatch order
var DefaultHandlers = []string{
	HandlerBroadcast,
	HandlerCache,
	HandlerPersist,
	HandlerPoll,
	HandlerUpload,
	HandlerMotion,
}

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all configuration for shutter
type Config struct {
	DataDir   string `yaml:"data_dir" env:"SHUTTER_DATA_DIR"`
	SecretKey string `yaml:"secret_key" env:"SHUTTER_SECRET_KEY"`

	Log        log.Config       `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Worker     WorkerConfig     `yaml:"worker"`
	Handlers   []string         `yaml:"handlers" env:"SHUTTER_HANDLERS" envSeparator:","`
	Cache      CacheConfig      `yaml:"cache"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Motion     MotionConfig     `yaml:"motion"`
}

// HTTPConfig configures the operational HTTP server
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"SHUTTER_HTTP_ADDR"`
}

// SupervisorConfig configures the worker supervisor
type SupervisorConfig struct {
	SkipBootstrap         bool          `yaml:"skip_bootstrap" env:"SHUTTER_SKIP_WORKERS"`
	BootstrapTimeout      time.Duration `yaml:"bootstrap_timeout" env:"SHUTTER_BOOTSTRAP_TIMEOUT"`
	BootstrapConcurrency  int           `yaml:"bootstrap_concurrency" env:"SHUTTER_BOOTSTRAP_CONCURRENCY"`
	RestartBackoffInitial time.Duration `yaml:"restart_backoff_initial" env:"SHUTTER_RESTART_BACKOFF_INITIAL"`
	RestartBackoffMax     time.Duration `yaml:"restart_backoff_max" env:"SHUTTER_RESTART_BACKOFF_MAX"`
	RestartResetAfter     time.Duration `yaml:"restart_reset_after" env:"SHUTTER_RESTART_RESET_AFTER"`
	RetryRejectedInterval time.Duration `yaml:"retry_rejected_interval" env:"SHUTTER_RETRY_REJECTED_INTERVAL"`
}

// WorkerConfig configures every polling worker
type WorkerConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SHUTTER_REQUEST_TIMEOUT"`
	OfflineAfter   int           `yaml:"offline_after" env:"SHUTTER_OFFLINE_AFTER"`
	MaxSleep       time.Duration `yaml:"max_sleep" env:"SHUTTER_MAX_SLEEP"`
	QueueSize      int           `yaml:"queue_size" env:"SHUTTER_QUEUE_SIZE"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"SHUTTER_HANDLER_TIMEOUT"`
	DrainTimeout   time.Duration `yaml:"drain_timeout" env:"SHUTTER_DRAIN_TIMEOUT"`
}

// CacheConfig configures the latest-snapshot cache
type CacheConfig struct {
	Backend       string        `yaml:"backend" env:"SHUTTER_CACHE_BACKEND"`
	RedisAddr     string        `yaml:"redis_addr" env:"SHUTTER_REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"SHUTTER_REDIS_PASS"`
	RedisDB       int           `yaml:"redis_db" env:"SHUTTER_REDIS_DB"`
	TTL           time.Duration `yaml:"ttl" env:"SHUTTER_CACHE_TTL"`
}

// ArchiveConfig configures long-term snapshot storage
type ArchiveConfig struct {
	Path string `yaml:"path" env:"SHUTTER_ARCHIVE_PATH"`
}

// MotionConfig configures motion analysis
type MotionConfig struct {
	Threshold int `yaml:"threshold" env:"SHUTTER_MOTION_THRESHOLD"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		DataDir: "/var/lib/shutter",
		Log: log.Config{
			Level: log.InfoLevel,
		},
		HTTP: HTTPConfig{
			Addr: ":9090",
		},
		Supervisor: SupervisorConfig{
			BootstrapTimeout:      15 * time.Second,
			BootstrapConcurrency:  16,
			RestartBackoffInitial: time.Second,
			RestartBackoffMax:     30 * time.Second,
			RestartResetAfter:     time.Minute,
		},
		Worker: WorkerConfig{
			RequestTimeout: 10 * time.Second,
			OfflineAfter:   3,
			MaxSleep:       5 * time.Minute,
			QueueSize:      64,
			HandlerTimeout: 10 * time.Second,
			DrainTimeout:   5 * time.Second,
		},
		Handlers: slices.Clone(DefaultHandlers),
		Cache: CacheConfig{
			Backend:   CacheMemory,
			RedisAddr: "localhost:6379",
			TTL:       10 * time.Minute,
		},
		Archive: ArchiveConfig{
			Path: "/var/lib/shutter/archive",
		},
		Motion: MotionConfig{
			Threshold: 20,
		},
	}
}

// Load reads the YAML file at path (optional), applies environment overrides
// and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if !log.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if err := c.Supervisor.validate(); err != nil {
		return err
	}

	if err := c.Worker.validate(); err != nil {
		return err
	}

	// handlers may be left out but never reordered: cache and persist must see
	// a snapshot before upload and motion do
	seen := make(map[string]bool, len(c.Handlers))
	last := -1
	for _, name := range c.Handlers {
		pos := slices.Index(DefaultHandlers, name)
		if pos < 0 {
			return fmt.Errorf("unknown handler %q", name)
		}
		if seen[name] {
			return fmt.Errorf("handler %q listed twice", name)
		}
		if pos < last {
			return fmt.Errorf("handler %q must come before %q (order: %s)",
				name, DefaultHandlers[last], strings.Join(DefaultHandlers, ", "))
		}
		seen[name] = true
		last = pos
	}

	if seen[HandlerCache] {
		if err := c.Cache.validate(); err != nil {
			return err
		}
	}

	if seen[HandlerUpload] && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when the upload handler is enabled")
	}

	if c.Motion.Threshold < 0 || c.Motion.Threshold > 100 {
		return fmt.Errorf("motion.threshold must be between 0 and 100")
	}

	return nil
}

func (s *SupervisorConfig) validate() error {
	if s.BootstrapTimeout <= 0 {
		return fmt.Errorf("supervisor.bootstrap_timeout must be positive")
	}
	if s.BootstrapConcurrency <= 0 {
		return fmt.Errorf("supervisor.bootstrap_concurrency must be positive")
	}
	if s.RestartBackoffInitial <= 0 {
		return fmt.Errorf("supervisor.restart_backoff_initial must be positive")
	}
	if s.RestartBackoffMax < s.RestartBackoffInitial {
		return fmt.Errorf("supervisor.restart_backoff_max must not be below restart_backoff_initial")
	}
	if s.RestartResetAfter < 0 {
		return fmt.Errorf("supervisor.restart_reset_after must be non-negative")
	}
	if s.RetryRejectedInterval < 0 {
		return fmt.Errorf("supervisor.retry_rejected_interval must be non-negative")
	}
	return nil
}

func (w *WorkerConfig) validate() error {
	if w.RequestTimeout <= 0 {
		return fmt.Errorf("worker.request_timeout must be positive")
	}
	if w.OfflineAfter < 1 {
		return fmt.Errorf("worker.offline_after must be at least 1")
	}
	if w.MaxSleep <= 0 {
		return fmt.Errorf("worker.max_sleep must be positive")
	}
	if w.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive")
	}
	if w.HandlerTimeout < 0 {
		return fmt.Errorf("worker.handler_timeout must be non-negative")
	}
	if w.DrainTimeout <= 0 {
		return fmt.Errorf("worker.drain_timeout must be positive")
	}
	return nil
}

func (c *CacheConfig) validate() error {
	switch c.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, redis")
	}
	if c.TTL < 0 {
		return fmt.Errorf("cache.ttl must be non-negative")
	}
	return nil
}

// RedisOptions returns Redis client options
func (c *CacheConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// String returns a string representation of the config (without sensitive data)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir=%s, HTTPAddr=%s, SkipBootstrap=%v, Handlers=%v, CacheBackend=%s, "+
			"ArchivePath=%s, Encrypted=%v, LogLevel=%s}",
		c.DataDir,
		c.HTTP.Addr,
		c.Supervisor.SkipBootstrap,
		c.Handlers,
		c.Cache.Backend,
		c.Archive.Path,
		c.SecretKey != "",
		c.Log.Level,
	)
}
