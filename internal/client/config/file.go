package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape. Pointer fields tell "absent" from zero,
// so a file only overrides what it names. Durations use timex.Duration and
// accept "3s" or integer nanoseconds.
type fileConfig struct {
	ServerAddr          *string         `json:"server_addr" yaml:"server_addr"`
	AccessToken         *string         `json:"access_token" yaml:"access_token"`
	RequestTimeout      *timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	DatabasePath        *string         `json:"database_path" yaml:"database_path"`
	LogFile             *string         `json:"log_file" yaml:"log_file"`
	LogLevel            *string         `json:"log_level" yaml:"log_level"`
	BatchSize           *int            `json:"batch_size" yaml:"batch_size"`
	Concurrency         *int            `json:"concurrency" yaml:"concurrency"`
	MaxAttempts         *int            `json:"max_attempts" yaml:"max_attempts"`
	BackoffBase         *timex.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffCap          *timex.Duration `json:"backoff_cap" yaml:"backoff_cap"`
	DrainOnWrite        *bool           `json:"drain_on_write" yaml:"drain_on_write"`
	PeriodicInterval    *timex.Duration `json:"periodic_interval" yaml:"periodic_interval"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
}

// parseFile overlays cfg with the file at path. ".yaml" and ".yml" are read
// as YAML, anything else as JSON.
func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.ServerAddr, fc.ServerAddr)
	setString(&cfg.AccessToken, fc.AccessToken)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.LogLevel, fc.LogLevel)
	setInt(&cfg.BatchSize, fc.BatchSize)
	setInt(&cfg.Concurrency, fc.Concurrency)
	setInt(&cfg.MaxAttempts, fc.MaxAttempts)
	setDuration(&cfg.BackoffBase, fc.BackoffBase)
	setDuration(&cfg.BackoffCap, fc.BackoffCap)
	if fc.DrainOnWrite != nil {
		cfg.DrainOnWrite = *fc.DrainOnWrite
	}
	setDuration(&cfg.PeriodicInterval, fc.PeriodicInterval)
	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
}

func setString(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
