// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // optional bearer key for the jobs API
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Stream         string        `yaml:"stream"`
	Group          string        `yaml:"group"`
	ReclaimTimeout time.Duration `yaml:"reclaim_timeout"` // idle time before a claim is redeliverable
	MaxAttempts    int           `yaml:"max_attempts"`    // deliveries before MaxRetriesExceeded
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

type IngestConfig struct {
	// Secret is the HMAC key webhook signatures are verified against.
	// Empty disables verification.
	Secret     string        `yaml:"secret"`
	RateLimit  int           `yaml:"rate_limit"` // requests per window per source
	RateWindow time.Duration `yaml:"rate_window"`
}

type ScalerConfig struct {
	PoolID           string        `yaml:"pool_id"`
	WorkerBin        string        `yaml:"worker_bin"` // worker binary the process substrate spawns
	Interval         time.Duration `yaml:"interval"`
	MaxReplicas      int           `yaml:"max_replicas"`
	EntriesPerWorker int           `yaml:"entries_per_worker"`
	IdleWindow       time.Duration `yaml:"idle_window"` // empty-backlog time before scale-to-zero
}

type WorkerConfig struct {
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// Command is the shell command a worker runs per job. The job's source,
	// branch and commit are exported as BUILD_* environment variables.
	Command string `yaml:"command"`
}

type RegistryConfig struct {
	HistoryLimit int `yaml:"history_limit"` // terminal jobs retained by pruning
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Scaler   ScalerConfig   `yaml:"scaler"`
	Worker   WorkerConfig   `yaml:"worker"`
	Registry RegistryConfig `yaml:"registry"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the documented safe defaults. The
// reclaim timeout and max attempts trade recovery latency against duplicate
// execution risk; both are deliberately configuration, not constants.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = "buildforge:jobs"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "builders"
	}
	if cfg.Queue.ReclaimTimeout <= 0 {
		cfg.Queue.ReclaimTimeout = 90 * time.Second
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.SweepInterval <= 0 {
		cfg.Queue.SweepInterval = 30 * time.Second
	}
	if cfg.Ingest.RateLimit <= 0 {
		cfg.Ingest.RateLimit = 60
	}
	if cfg.Ingest.RateWindow <= 0 {
		cfg.Ingest.RateWindow = time.Minute
	}
	if cfg.Scaler.PoolID == "" {
		cfg.Scaler.PoolID = "default"
	}
	if cfg.Scaler.WorkerBin == "" {
		cfg.Scaler.WorkerBin = "./buildforge-worker"
	}
	if cfg.Scaler.Interval <= 0 {
		cfg.Scaler.Interval = 5 * time.Second
	}
	if cfg.Scaler.MaxReplicas <= 0 {
		cfg.Scaler.MaxReplicas = 8
	}
	if cfg.Scaler.EntriesPerWorker <= 0 {
		cfg.Scaler.EntriesPerWorker = 4
	}
	if cfg.Scaler.IdleWindow <= 0 {
		cfg.Scaler.IdleWindow = 30 * time.Second
	}
	if cfg.Worker.PollTimeout <= 0 {
		cfg.Worker.PollTimeout = 5 * time.Second
	}
	if cfg.Worker.Command == "" {
		cfg.Worker.Command = `echo "building $BUILD_SOURCE@$BUILD_COMMIT"`
	}
	if cfg.Registry.HistoryLimit <= 0 {
		cfg.Registry.HistoryLimit = 1000
	}
}
