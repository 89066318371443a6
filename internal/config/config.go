package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all storywalk configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Recall   RecallConfig   `yaml:"recall"`
}

type ServerConfig struct {
	Bind        string          `yaml:"bind"`
	Port        int             `yaml:"port"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds recall requests. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// RecallConfig holds the defaults applied to recall requests that leave a
// field unset. It is the only section hot-reloaded by Watch.
type RecallConfig struct {
	SeedCount   int                `yaml:"seed_count"`
	MaxBeats    int                `yaml:"max_beats"`
	MaxBeatsCap int                `yaml:"max_beats_cap"`
	LayerOrder  []string           `yaml:"layer_order"`
	Blend       map[string]float64 `yaml:"blend"`
	RandSeed    int64              `yaml:"rand_seed"` // 0 = time-seeded per request
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
			RateLimit: RateLimitConfig{
				RPS:   20,
				Burst: 40,
			},
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Log: LogConfig{
			Level: "info",
		},
		Recall: RecallConfig{
			SeedCount:   3,
			MaxBeats:    10,
			MaxBeatsCap: 25,
			LayerOrder:  []string{"Pathos", "Chronos", "Logos", "Context"},
			Blend: map[string]float64{
				"content": 0.3,
				"emotion": 0.4,
				"context": 0.2,
				"motif":   0.1,
			},
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if path is
// non-empty) and STORYWALK_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		// yaml.v3 merges into non-nil maps; a file's blend replaces the default.
		cfg.Recall.Blend = nil
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Recall.Blend == nil {
			cfg.Recall.Blend = Default().Recall.Blend
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("STORYWALK_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("STORYWALK_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v := os.Getenv("STORYWALK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STORYWALK_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("STORYWALK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	r := c.Recall
	if r.MaxBeatsCap <= 0 {
		return fmt.Errorf("recall.max_beats_cap must be positive")
	}
	if r.MaxBeats <= 0 || r.MaxBeats > r.MaxBeatsCap {
		return fmt.Errorf("recall.max_beats %d must be in 1..%d", r.MaxBeats, r.MaxBeatsCap)
	}
	if r.SeedCount <= 0 {
		return fmt.Errorf("recall.seed_count must be positive")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
