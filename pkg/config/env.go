// Package config loads process settings from the environment (optionally
// seeded from a .env file) and crawl targets from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Checkpoint backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Env holds process-wide settings.
type Env struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// RedisAddr enables the payload cache and allows the redis checkpoint
	// backend. Empty disables both.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	CheckpointBackend string        `env:"CHECKPOINT_BACKEND" envDefault:"file"`
	CheckpointDir     string        `env:"CHECKPOINT_DIR" envDefault:".checkpoints"`
	CheckpointTTL     time.Duration `env:"CHECKPOINT_TTL" envDefault:"168h"`

	MetricsAddr string `env:"METRICS_ADDR"`

	ListQPS       int `env:"LIST_QPS" envDefault:"8"`
	DetailQPS     int `env:"DETAIL_QPS" envDefault:"8"`
	ListWorkers   int `env:"LIST_WORKERS" envDefault:"4"`
	PageWorkers   int `env:"PAGE_WORKERS" envDefault:"1"`
	DetailWorkers int `env:"DETAIL_WORKERS" envDefault:"8"`

	Retries   int           `env:"RETRIES" envDefault:"4"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"20s"`
	UserAgent string        `env:"USER_AGENT"`

	// SessionCookie is a raw Cookie header sent with every request.
	SessionCookie string `env:"SESSION_COOKIE"`

	OutputDir string `env:"OUTPUT_DIR" envDefault:"output"`
}

// LoadDotEnv loads .env files into the environment. Missing files are not
// an error; variables already set are kept.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// ParseEnv reads Env from the environment and validates it.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Validate checks value ranges and cross-field constraints.
func (e Env) Validate() error {
	switch e.CheckpointBackend {
	case BackendFile:
		if e.CheckpointDir == "" {
			return fmt.Errorf("CHECKPOINT_DIR is required for the file backend")
		}
	case BackendRedis:
		if e.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis checkpoint backend")
		}
	default:
		return fmt.Errorf("unknown CHECKPOINT_BACKEND %q (want %s or %s)", e.CheckpointBackend, BackendFile, BackendRedis)
	}
	for name, v := range map[string]int{
		"LIST_QPS":       e.ListQPS,
		"DETAIL_QPS":     e.DetailQPS,
		"LIST_WORKERS":   e.ListWorkers,
		"PAGE_WORKERS":   e.PageWorkers,
		"DETAIL_WORKERS": e.DetailWorkers,
		"RETRIES":        e.Retries,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be >= 1 (got %d)", name, v)
		}
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("TIMEOUT must be positive (got %s)", e.Timeout)
	}
	return nil
}
