package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	StoreBackend  string `yaml:"store_backend"`
	DatabaseURL   string `yaml:"database_url"`
	MongoURL      string `yaml:"mongo_url"`
	MongoDatabase string `yaml:"mongo_database"`
	SQLitePath    string `yaml:"sqlite_path"`

	NatsURL string `yaml:"nats_url"`

	DiarizerURL          string        `yaml:"diarizer_url"`
	TranscriberURL       string        `yaml:"transcriber_url"`
	TranscriberModel     string        `yaml:"transcriber_model"`
	InferenceTimeout     time.Duration `yaml:"inference_timeout"`
	InferenceConcurrency int           `yaml:"inference_concurrency"`

	RequestConcurrency int   `yaml:"request_concurrency"`
	MaxChunkBytes      int64 `yaml:"max_chunk_bytes"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepMaxAge   time.Duration `yaml:"sweep_max_age"`

	SlackBotToken     string `yaml:"slack_bot_token"`
	SlackAlertChannel string `yaml:"slack_alert_channel"`
}

// Load reads configuration from the environment. When DIARIST_CONFIG names
// a YAML file, values present in that file override the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:     envInt("DIARIST_PORT", 8710),
		LogLevel: envStr("LOG_LEVEL", "info"),
		LogFile:  envStr("LOG_FILE", ""),

		StoreBackend:  envStr("STORE_BACKEND", "postgres"),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		MongoURL:      envStr("MONGO_URL", "mongodb://localhost:27017"),
		MongoDatabase: envStr("MONGO_DATABASE", "diarist"),
		SQLitePath:    envStr("SQLITE_PATH", "diarist.sqlite"),

		NatsURL: envStr("NATS_URL", ""),

		DiarizerURL:          envStr("DIARIZER_URL", "http://diarizer:8000"),
		TranscriberURL:       envStr("TRANSCRIBER_URL", "http://whisper:8000"),
		TranscriberModel:     envStr("TRANSCRIBER_MODEL", "base"),
		InferenceTimeout:     time.Duration(envInt("INFERENCE_TIMEOUT_MS", 120000)) * time.Millisecond,
		InferenceConcurrency: envInt("INFERENCE_CONCURRENCY", 4),

		RequestConcurrency: envInt("REQUEST_CONCURRENCY", 32),
		MaxChunkBytes:      int64(envInt("MAX_CHUNK_BYTES", 50<<20)),

		SweepInterval: time.Duration(envInt("SWEEP_INTERVAL_MS", 3600000)) * time.Millisecond,
		SweepMaxAge:   time.Duration(envInt("SWEEP_MAX_AGE_HOURS", 24)) * time.Hour,

		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),
	}

	if path := os.Getenv("DIARIST_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks that the selected backend has what it needs and that
// numeric limits are usable.
func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	switch c.StoreBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "mongo":
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required for the mongo backend")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	if c.InferenceConcurrency < 1 {
		return fmt.Errorf("inference concurrency must be positive, got %d", c.InferenceConcurrency)
	}
	if c.RequestConcurrency < 1 {
		return fmt.Errorf("request concurrency must be positive, got %d", c.RequestConcurrency)
	}
	if c.MaxChunkBytes < 1 {
		return fmt.Errorf("max chunk bytes must be positive, got %d", c.MaxChunkBytes)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
