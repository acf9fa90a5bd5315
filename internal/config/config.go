// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode mirrors the original bgworker's RunOpts: whether jobs run in a
// background pool, inline on the calling goroutine, or fire-and-forget
// on a detached goroutine.
type Mode string

const (
	ModeBackgroundQueue    Mode = "background_queue"
	ModeForegroundBlocking Mode = "foreground_blocking"
	ModeBackgroundAsync    Mode = "background_async"
)

// Driver selects which queue.Backend implementation the worker pool and
// admin surface connect to.
type Driver string

const (
	DriverRedis    Driver = "redis"
	DriverPostgres Driver = "postgres"
	DriverSqlite   Driver = "sqlite"
	DriverMemory   Driver = "memory"
	DriverNull     Driver = "null"
)

type RedisConfig struct {
	URI          string        `mapstructure:"uri"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type PostgresConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	EnableSkipLocked bool  `mapstructure:"enable_skip_locked"`
}

type SqliteConfig struct {
	Path string `mapstructure:"path"`
}

type Backend struct {
	Driver           Driver         `mapstructure:"driver"`
	Redis            RedisConfig    `mapstructure:"redis"`
	Postgres         PostgresConfig `mapstructure:"postgres"`
	Sqlite           SqliteConfig   `mapstructure:"sqlite"`
	// DangerouslyFlush, when true, makes Converge wipe all existing
	// backend state on startup. Intended for ephemeral test/dev
	// environments only; never set from an env override by accident
	// since it has no corresponding JOBQUEUE_ env default.
	DangerouslyFlush bool `mapstructure:"dangerously_flush"`
}

type Worker struct {
	Mode             Mode          `mapstructure:"mode"`
	Count            int           `mapstructure:"count"`
	Tags             []string      `mapstructure:"tags"`
	Queues           []string      `mapstructure:"queues"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	StalledAfter     time.Duration `mapstructure:"stalled_after"`
	ReaperInterval   time.Duration `mapstructure:"reaper_interval"`
}

type Cron struct {
	Enabled bool           `mapstructure:"enabled"`
	Jobs    []CronJobEntry `mapstructure:"jobs"`
}

// CronJobEntry schedules a recurring enqueue; Spec is a standard
// five-field cron expression consumed by robfig/cron.
type CronJobEntry struct {
	Name     string   `mapstructure:"name"`
	Queue    string   `mapstructure:"queue"`
	Class    string   `mapstructure:"class"`
	Spec     string   `mapstructure:"spec"`
	Tags     []string `mapstructure:"tags"`
	TaskData string   `mapstructure:"task_data"`
}

type AdminAPI struct {
	Enabled           bool   `mapstructure:"enabled"`
	Addr              string `mapstructure:"addr"`
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFile     string        `mapstructure:"log_file"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

type Config struct {
	Backend       Backend             `mapstructure:"backend"`
	Worker        Worker              `mapstructure:"worker"`
	Cron          Cron                `mapstructure:"cron"`
	AdminAPI      AdminAPI            `mapstructure:"admin_api"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Backend: Backend{
			Driver: DriverRedis,
			Redis: RedisConfig{
				URI:          "redis://localhost:6379/0",
				PoolSize:     10,
				MinIdleConns: 2,
				DialTimeout:  5 * time.Second,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:     10,
				MaxIdleConns:     5,
				EnableSkipLocked: true,
			},
			Sqlite: SqliteConfig{Path: "./jobqueue.db"},
		},
		Worker: Worker{
			Mode:            ModeBackgroundQueue,
			Count:           8,
			Queues:          []string{"default", "mailer"},
			PollInterval:    250 * time.Millisecond,
			ShutdownTimeout: 10 * time.Second,
			StalledAfter:    5 * time.Minute,
			ReaperInterval:  1 * time.Minute,
		},
		Cron: Cron{Enabled: false},
		AdminAPI: AdminAPI{
			Enabled:           false,
			Addr:              ":8089",
			RequestsPerSecond: 20,
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false},
		},
	}
}

// Load reads configuration from a YAML file, applying env overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JOBQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("backend.driver", def.Backend.Driver)
	v.SetDefault("backend.redis.uri", def.Backend.Redis.URI)
	v.SetDefault("backend.redis.pool_size", def.Backend.Redis.PoolSize)
	v.SetDefault("backend.redis.min_idle_conns", def.Backend.Redis.MinIdleConns)
	v.SetDefault("backend.redis.dial_timeout", def.Backend.Redis.DialTimeout)
	v.SetDefault("backend.postgres.max_open_conns", def.Backend.Postgres.MaxOpenConns)
	v.SetDefault("backend.postgres.max_idle_conns", def.Backend.Postgres.MaxIdleConns)
	v.SetDefault("backend.postgres.enable_skip_locked", def.Backend.Postgres.EnableSkipLocked)
	v.SetDefault("backend.sqlite.path", def.Backend.Sqlite.Path)

	v.SetDefault("worker.mode", def.Worker.Mode)
	v.SetDefault("worker.count", def.Worker.Count)
	v.SetDefault("worker.queues", def.Worker.Queues)
	v.SetDefault("worker.poll_interval", def.Worker.PollInterval)
	v.SetDefault("worker.shutdown_timeout", def.Worker.ShutdownTimeout)
	v.SetDefault("worker.stalled_after", def.Worker.StalledAfter)
	v.SetDefault("worker.reaper_interval", def.Worker.ReaperInterval)

	v.SetDefault("cron.enabled", def.Cron.Enabled)

	v.SetDefault("admin_api.enabled", def.AdminAPI.Enabled)
	v.SetDefault("admin_api.addr", def.AdminAPI.Addr)
	v.SetDefault("admin_api.requests_per_second", def.AdminAPI.RequestsPerSecond)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	switch cfg.Backend.Driver {
	case DriverRedis, DriverPostgres, DriverSqlite, DriverMemory, DriverNull:
	default:
		return fmt.Errorf("backend.driver %q is not one of redis|postgres|sqlite|memory|null", cfg.Backend.Driver)
	}
	if cfg.Backend.Driver == DriverRedis && cfg.Backend.Redis.URI == "" {
		return fmt.Errorf("backend.redis.uri is required when backend.driver is redis")
	}
	if cfg.Backend.Driver == DriverPostgres && cfg.Backend.Postgres.DSN == "" {
		return fmt.Errorf("backend.postgres.dsn is required when backend.driver is postgres")
	}
	if cfg.Backend.Driver == DriverSqlite && cfg.Backend.Sqlite.Path == "" {
		return fmt.Errorf("backend.sqlite.path is required when backend.driver is sqlite")
	}

	switch cfg.Worker.Mode {
	case ModeBackgroundQueue, ModeForegroundBlocking, ModeBackgroundAsync:
	default:
		return fmt.Errorf("worker.mode %q is not one of background_queue|foreground_blocking|background_async", cfg.Worker.Mode)
	}
	if cfg.Worker.Mode == ModeBackgroundQueue && cfg.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be >= 1 in background_queue mode")
	}
	if len(cfg.Worker.Queues) == 0 {
		return fmt.Errorf("worker.queues must be non-empty")
	}
	if cfg.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be > 0")
	}
	if cfg.Worker.StalledAfter <= 0 {
		return fmt.Errorf("worker.stalled_after must be > 0")
	}

	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}

	for _, j := range cfg.Cron.Jobs {
		if j.Spec == "" {
			return fmt.Errorf("cron job %q missing spec", j.Name)
		}
	}
	return nil
}
