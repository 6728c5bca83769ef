package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// AppConfig holds every runtime setting of the arena server. Values come
// from an optional YAML file (CONFIG_FILE) overridden by environment
// variables.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// Base URL of the external game record service. Empty disables archiving.
	ArchiveBaseURL string `yaml:"archive_base_url"`

	// Optional backing services. Empty disables the corresponding feature.
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	MaxConcurrentGames int `yaml:"max_concurrent_games"`

	FinishedGraceSec   int `yaml:"finished_grace_sec"`
	DisconnectGraceSec int `yaml:"disconnect_grace_sec"`

	ArchiveMaxAttempts int `yaml:"archive_max_attempts"`
}

func (c *AppConfig) FinishedGrace() time.Duration {
	return time.Duration(c.FinishedGraceSec) * time.Second
}

func (c *AppConfig) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSec) * time.Second
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":3001",
		MaxConcurrentGames: 200,
		FinishedGraceSec:   60,
		DisconnectGraceSec: 300,
		ArchiveMaxAttempts: 5,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_BASE_URL")); v != "" {
		cfg.ArchiveBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_GAMES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentGames = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FINISHED_GRACE_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FinishedGraceSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DISCONNECT_GRACE_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DisconnectGraceSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ArchiveMaxAttempts = n
		}
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return nil, errors.New("LISTEN_ADDR is required")
	}

	return cfg, nil
}
