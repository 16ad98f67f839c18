package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Flags are the command-line overrides. Only flags the user actually set
// replace file values.
type Flags struct {
	ConfigDir           string
	MaxConcurrentParses int
	Pooling             bool
	LogLevel            string
	LogFormat           string
	Watch               []string

	fs *pflag.FlagSet
}

// RegisterFlags adds the config flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigDir, "config-dir", ".", "directory holding "+FileName)
	fs.IntVar(&f.MaxConcurrentParses, "max-concurrent-parses", 0, "maximum BEP parses running at once")
	fs.BoolVar(&f.Pooling, "pooling", true, "bound concurrent parses")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "", "log format: text or json")
	fs.StringSliceVar(&f.Watch, "watch", nil, "directories to poll for BEP files (repeatable)")
	return f
}

// Load reads the config file from --config-dir and applies the flags the
// user set on top of it.
func (f *Flags) Load() (*Config, error) {
	cfg, err := LoadConfig(f.ConfigDir)
	if err != nil {
		return nil, err
	}
	if err := f.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overwrites cfg fields with every flag that was set explicitly.
func (f *Flags) Apply(cfg *Config) error {
	if f.fs.Changed("max-concurrent-parses") {
		if f.MaxConcurrentParses <= 0 {
			return fmt.Errorf("--max-concurrent-parses must be positive, got %d", f.MaxConcurrentParses)
		}
		n := f.MaxConcurrentParses
		cfg.Parsing.MaxConcurrentParses = &n
	}
	if f.fs.Changed("pooling") {
		p := f.Pooling
		cfg.Parsing.PoolingEnabled = &p
	}
	if f.fs.Changed("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if f.fs.Changed("log-format") {
		cfg.Log.Format = f.LogFormat
	}
	if f.fs.Changed("watch") {
		cfg.Watch.Dirs = append(cfg.Watch.Dirs, f.Watch...)
	}
	return nil
}
