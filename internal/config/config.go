// Package config loads campfees settings from CAMPFEES_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration.
type Config struct {
	Storage       Storage       `envPrefix:"CAMPFEES_"`
	Source        Source        `envPrefix:"CAMPFEES_"`
	Log           Log           `envPrefix:"CAMPFEES_LOG_"`
	Observability Observability `envPrefix:"CAMPFEES_"`
}

// Storage selects the persistent store backend.
type Storage struct {
	Driver      string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"campfees.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

// Source selects where ruleset documents are read from.
type Source struct {
	Driver string `env:"SOURCE_DRIVER" envDefault:"fs"`
	Root   string `env:"SOURCE_ROOT" envDefault:"rulesets"`
	S3     S3     `envPrefix:"S3_"`
}

// S3 configures the S3 ruleset source.
type S3 struct {
	Bucket       string `env:"BUCKET"`
	Prefix       string `env:"PREFIX"`
	Region       string `env:"REGION" envDefault:"us-east-1"`
	Endpoint     string `env:"ENDPOINT"`
	AccessKey    string `env:"ACCESS_KEY"`
	SecretKey    string `env:"SECRET_KEY"`
	UsePathStyle bool   `env:"USE_PATH_STYLE"`
}

// Log configures the process logger.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Observability selects where service spans and metrics are written. Empty
// paths disable the exporter.
type Observability struct {
	TraceFile   string `env:"TRACE_FILE"`
	MetricsFile string `env:"METRICS_FILE"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the full configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom reads the configuration from the supplied variables only.
func LoadFrom(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// NewLogger builds a slog logger writing to w according to cfg.
func NewLogger(cfg Log, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
