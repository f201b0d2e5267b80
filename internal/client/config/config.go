package config

import (
	"fmt"
	"time"
)

// Config holds runtime settings for the sync client.
type Config struct {
	ServerAddr     string
	AccessToken    string
	RequestTimeout time.Duration

	DatabasePath string
	LogFile      string
	LogLevel     string

	BatchSize    int
	Concurrency  int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	DrainOnWrite bool

	// PeriodicInterval is the timer trigger; zero disables it.
	PeriodicInterval time.Duration
	// OnlineCheckInterval is how often the server is pinged to detect
	// connectivity changes.
	OnlineCheckInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:50051"
	c.RequestTimeout = 10 * time.Second
	c.DatabasePath = "motiumsync.db"
	c.LogLevel = "info"
	c.BatchSize = 20
	c.Concurrency = 4
	c.MaxAttempts = 8
	c.BackoffBase = time.Second
	c.BackoffCap = 5 * time.Minute
	c.PeriodicInterval = 5 * time.Minute
	c.OnlineCheckInterval = 3 * time.Second
}

// Load applies defaults and then the optional config file at path.
// Flags are applied by the caller afterwards (see Flags.Apply).
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		return cfg, nil
	}
	if err := parseFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ServerAddr == "":
		return fmt.Errorf("server address is required")
	case c.DatabasePath == "":
		return fmt.Errorf("database path is required")
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.Concurrency < 1:
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	case c.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	case c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase:
		return fmt.Errorf("backoff must satisfy 0 < base <= cap, got %s/%s", c.BackoffBase, c.BackoffCap)
	case c.OnlineCheckInterval <= 0:
		return fmt.Errorf("online check interval must be positive")
	}
	return nil
}
