package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/solroute/internal/adapter"
	"github.com/sawpanic/solroute/internal/circuit"
	"github.com/sawpanic/solroute/internal/engine"
	"github.com/sawpanic/solroute/internal/infrastructure/db"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RedisConfig selects the external cache backend. When disabled the router
// runs on the in-process store.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// ProviderConfig configures one upstream adapter.
type ProviderConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	Client      adapter.ClientConfig `yaml:"client"`
	Credentials adapter.Credentials  `yaml:"credentials"`
}

// SweeperConfig bounds the background maintenance loops.
type SweeperConfig struct {
	CoalescerInterval   time.Duration `yaml:"coalescer_interval"`
	CoalescerStaleAfter time.Duration `yaml:"coalescer_stale_after"`
	SwapExpiryInterval  time.Duration `yaml:"swap_expiry_interval"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig               `yaml:"server"`
	Database  db.Config                  `yaml:"database"`
	Redis     RedisConfig                `yaml:"redis"`
	Providers map[string]ProviderConfig  `yaml:"providers"`
	Engine    engine.Config              `yaml:"engine"`
	Scoring   engine.ScoringConfig       `yaml:"scoring"`
	Breaker   circuit.Config             `yaml:"circuit_breaker"`
	Sweepers  SweeperConfig              `yaml:"sweepers"`
	LogLevel  string                     `yaml:"log_level"`
}

// DefaultConfig returns a runnable configuration: both public providers
// enabled, in-process cache, persistence off.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Database: db.DefaultConfig(),
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Providers: map[string]ProviderConfig{
			"jupiter": {Enabled: true},
			"okx-dex": {Enabled: true},
		},
		Engine:  engine.DefaultConfig(),
		Scoring: engine.DefaultScoringConfig(),
		Breaker: circuit.DefaultConfig(),
		Sweepers: SweeperConfig{
			CoalescerInterval:   30 * time.Second,
			CoalescerStaleAfter: 10 * time.Minute,
			SwapExpiryInterval:  10 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants at startup.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit breaker failure threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("circuit breaker success threshold must be at least 1")
	}
	if c.Engine.QuoteCoalesceTimeout <= 0 || c.Engine.RouteCoalesceTimeout <= 0 || c.Engine.ProviderCoalesceTimeout <= 0 {
		return fmt.Errorf("coalesce timeouts must be positive")
	}
	enabled := 0
	for _, p := range c.Providers {
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	return nil
}

// ListenAddr renders the server bind address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
