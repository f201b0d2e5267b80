package config

import (
	"github.com/spf13/pflag"
)

// Flags are command-line overrides bound to a cobra/pflag flag set.
// Only flags the user actually set override file and default values.
type Flags struct {
	fs   *pflag.FlagSet
	file string
	v    Config
}

// BindFlags registers the client flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	var d Config
	d.LoadDefaults()

	fs.StringVarP(&f.file, "config", "c", "", "path to a JSON or YAML config file")
	fs.StringVarP(&f.v.ServerAddr, "server", "a", d.ServerAddr, "address and port of the sync server")
	fs.StringVar(&f.v.AccessToken, "token", "", "access token presented to the server")
	fs.DurationVar(&f.v.RequestTimeout, "timeout", d.RequestTimeout, "per-request timeout")
	fs.StringVar(&f.v.DatabasePath, "db", d.DatabasePath, "path to the local SQLite database")
	fs.StringVar(&f.v.LogFile, "log-file", "", "write logs to this file (rotated) instead of stdout")
	fs.StringVar(&f.v.LogLevel, "log-level", d.LogLevel, "log level (debug|info|warn|error)")
	fs.IntVar(&f.v.BatchSize, "batch", d.BatchSize, "operations taken per drain batch")
	fs.IntVar(&f.v.Concurrency, "concurrency", d.Concurrency, "parallel remote calls per drain")
	fs.IntVar(&f.v.MaxAttempts, "max-attempts", d.MaxAttempts, "attempts before an operation is parked")
	fs.DurationVar(&f.v.BackoffBase, "backoff-base", d.BackoffBase, "retry backoff base")
	fs.DurationVar(&f.v.BackoffCap, "backoff-cap", d.BackoffCap, "retry backoff cap")
	fs.BoolVar(&f.v.DrainOnWrite, "drain-on-write", false, "drain right after each local write")
	fs.DurationVar(&f.v.PeriodicInterval, "interval", d.PeriodicInterval, "periodic drain interval (0 disables)")
	fs.DurationVarP(&f.v.OnlineCheckInterval, "online-check", "i", d.OnlineCheckInterval, "connectivity check interval")
	return f
}

// ConfigFile is the path given with --config, if any.
func (f *Flags) ConfigFile() string {
	return f.file
}

// Apply copies the flags that were set on the command line into cfg.
func (f *Flags) Apply(cfg *Config) {
	set := map[string]func(){
		"server":         func() { cfg.ServerAddr = f.v.ServerAddr },
		"token":          func() { cfg.AccessToken = f.v.AccessToken },
		"timeout":        func() { cfg.RequestTimeout = f.v.RequestTimeout },
		"db":             func() { cfg.DatabasePath = f.v.DatabasePath },
		"log-file":       func() { cfg.LogFile = f.v.LogFile },
		"log-level":      func() { cfg.LogLevel = f.v.LogLevel },
		"batch":          func() { cfg.BatchSize = f.v.BatchSize },
		"concurrency":    func() { cfg.Concurrency = f.v.Concurrency },
		"max-attempts":   func() { cfg.MaxAttempts = f.v.MaxAttempts },
		"backoff-base":   func() { cfg.BackoffBase = f.v.BackoffBase },
		"backoff-cap":    func() { cfg.BackoffCap = f.v.BackoffCap },
		"drain-on-write": func() { cfg.DrainOnWrite = f.v.DrainOnWrite },
		"interval":       func() { cfg.PeriodicInterval = f.v.PeriodicInterval },
		"online-check":   func() { cfg.OnlineCheckInterval = f.v.OnlineCheckInterval },
	}
	f.fs.Visit(func(fl *pflag.Flag) {
		if apply, ok := set[fl.Name]; ok {
			apply()
		}
	})
}

// Resolve loads the config file named by --config and applies the flags.
func (f *Flags) Resolve() (*Config, error) {
	cfg, err := Load(f.ConfigFile())
	if err != nil {
		return nil, err
	}
	f.Apply(cfg)
	return cfg, cfg.Validate()
}
