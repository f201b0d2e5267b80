// Package config loads runtime configuration for the sync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file given with -c/--config. Files ending in .yaml or
//     .yml are read as YAML, everything else as JSON.
//  3. Command-line flags bound with BindFlags; only flags that were set
//     override earlier values.
//
// # File schema
//
// Durations use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	server_addr: 127.0.0.1:50051
//	access_token: eyJhbGciOi...
//	database_path: /var/lib/motiumsync/client.db
//	log_file: /var/log/motiumsync/client.log
//	batch_size: 20
//	concurrency: 4
//	max_attempts: 8
//	backoff_base: 1s
//	backoff_cap: 5m
//	periodic_interval: 5m
//	online_check_interval: 3s
//
// Note: This package does not read environment variables directly.
package config
