// Package config loads and validates media-scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by queue.backend and db.backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Detector DetectorConfig `mapstructure:"detector"`
	Render   RenderConfig   `mapstructure:"render"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Redis    RedisConfig    `mapstructure:"redis"`
	DB       DBConfig       `mapstructure:"db"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	CORSOrigins            []string `mapstructure:"cors_origins"`
	RequestTimeoutSeconds  int      `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig enables HTTP basic auth on /api when both values are set.
type AuthConfig struct {
	BasicUser string `mapstructure:"basic_user"`
	BasicPass string `mapstructure:"basic_pass"`
}

// Enabled reports whether basic auth should be enforced.
func (a AuthConfig) Enabled() bool {
	return a.BasicUser != "" || a.BasicPass != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScrapeConfig governs the static fetch step.
type ScrapeConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
}

// DetectorConfig tunes the render decision rules.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	RootIDs      []string `mapstructure:"root_ids"`
	Markers      []string `mapstructure:"markers"`
}

// RenderConfig configures the headless browser renderer.
type RenderConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ExecPath         string  `mapstructure:"exec_path"`
	MaxParallel      int     `mapstructure:"max_parallel"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	BodyWaitSeconds  int     `mapstructure:"body_wait_seconds"`
	SettleMillis     int     `mapstructure:"settle_ms"`
	ScrollStepPx     int     `mapstructure:"scroll_step_px"`
	ScrollIntervalMs int     `mapstructure:"scroll_interval_ms"`
	ScrollMaxPx      int     `mapstructure:"scroll_max_px"`
	ViewportWidth    int64   `mapstructure:"viewport_width"`
	ViewportHeight   int64   `mapstructure:"viewport_height"`
	UserAgent        string  `mapstructure:"user_agent"`
	DomainQPS        float64 `mapstructure:"domain_qps"`
}

// WorkerConfig sets job concurrency and per-job chunking.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	ChunkSize   int `mapstructure:"chunk_size"`
}

// QueueConfig selects the queue backend and the default job policy.
type QueueConfig struct {
	Backend                string `mapstructure:"backend"`
	Name                   string `mapstructure:"name"`
	Attempts               int    `mapstructure:"attempts"`
	BackoffMs              int    `mapstructure:"backoff_ms"`
	CompletedAgeSeconds    int    `mapstructure:"completed_age_seconds"`
	CompletedMax           int    `mapstructure:"completed_max"`
	FailedAgeSeconds       int    `mapstructure:"failed_age_seconds"`
	JobTimeoutSeconds      int    `mapstructure:"job_timeout_seconds"`
	JanitorIntervalSeconds int    `mapstructure:"janitor_interval_seconds"`
}

// RedisConfig holds the broker connection and reconnect policy.
type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	MaxReconnects   int    `mapstructure:"max_reconnects"`
	ReconnectStepMs int    `mapstructure:"reconnect_step_ms"`
	ReconnectMaxMs  int    `mapstructure:"reconnect_max_ms"`
	EventsChannel   string `mapstructure:"events_channel"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Backend                string `mapstructure:"backend"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate                bool   `mapstructure:"migrate"`
}

// ProgressConfig sizes the progress event hub.
type ProgressConfig struct {
	Buffer          int `mapstructure:"buffer"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIASCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.basic_user", "")
	v.SetDefault("auth.basic_pass", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; MediaScraper/1.0)")
	v.SetDefault("scrape.fetch_timeout_seconds", 10)
	v.SetDefault("scrape.respect_robots", false)
	v.SetDefault("detector.min_html_bytes", 5000)
	v.SetDefault("detector.root_ids", []string{"root", "app", "__next"})
	v.SetDefault("detector.markers", []string{
		"data-reactroot", "ng-version", "__NEXT_DATA__", "data-v-app",
		"data-server-rendered", `id="___gatsby"`, "__NUXT__",
	})
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.timeout_seconds", 40)
	v.SetDefault("render.body_wait_seconds", 10)
	v.SetDefault("render.settle_ms", 3000)
	v.SetDefault("render.scroll_step_px", 300)
	v.SetDefault("render.scroll_interval_ms", 100)
	v.SetDefault("render.scroll_max_px", 8000)
	v.SetDefault("render.viewport_width", 1920)
	v.SetDefault("render.viewport_height", 1080)
	v.SetDefault("render.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("render.domain_qps", 0)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.chunk_size", 2)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.name", "scrape")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_ms", 2000)
	v.SetDefault("queue.completed_age_seconds", 3600)
	v.SetDefault("queue.completed_max", 100)
	v.SetDefault("queue.failed_age_seconds", 86400)
	v.SetDefault("queue.job_timeout_seconds", 900)
	v.SetDefault("queue.janitor_interval_seconds", 60)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_reconnects", 10)
	v.SetDefault("redis.reconnect_step_ms", 500)
	v.SetDefault("redis.reconnect_max_ms", 5000)
	v.SetDefault("redis.events_channel", "mediascraper:events")
	v.SetDefault("db.backend", BackendMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.migrate", true)
	v.SetDefault("progress.buffer", 1024)
	v.SetDefault("progress.flush_interval_ms", 250)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.fetch_timeout_seconds must be > 0")
	}
	if c.Detector.MinHTMLBytes < 0 {
		return fmt.Errorf("detector.min_html_bytes must be >= 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when render is enabled")
	}
	if c.Render.Enabled && c.Render.TimeoutSeconds <= 0 {
		return fmt.Errorf("render.timeout_seconds must be > 0 when render is enabled")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.ChunkSize <= 0 {
		return fmt.Errorf("worker.chunk_size must be > 0")
	}
	if c.Queue.Attempts <= 0 {
		return fmt.Errorf("queue.attempts must be > 0")
	}
	if c.Progress.Buffer < 0 || c.Progress.FlushIntervalMs < 0 {
		return fmt.Errorf("progress.buffer and progress.flush_interval_ms must be >= 0")
	}
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when queue.backend is redis")
		}
	default:
		return fmt.Errorf("queue.backend must be %q or %q", BackendMemory, BackendRedis)
	}
	switch c.DB.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.backend is postgres")
		}
	default:
		return fmt.Errorf("db.backend must be %q or %q", BackendMemory, BackendPostgres)
	}
	return nil
}

// FetchTimeout returns the static fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scrape.FetchTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// JobBackoff returns the base retry delay.
func (c Config) JobBackoff() time.Duration {
	return time.Duration(c.Queue.BackoffMs) * time.Millisecond
}

// JanitorInterval returns how often queue retention is enforced.
func (c Config) JanitorInterval() time.Duration {
	return time.Duration(c.Queue.JanitorIntervalSeconds) * time.Second
}

// ProgressFlushInterval returns how long progress events may wait for sinks.
func (c Config) ProgressFlushInterval() time.Duration {
	return time.Duration(c.Progress.FlushIntervalMs) * time.Millisecond
}
