// Package config loads .bepconfig and applies command-line overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/DeusData/bep-artifacts-mcp/internal/throttle"
)

// FileName is the config file looked up in the config directory.
const FileName = ".bepconfig"

// Config holds user-overridable settings. Unset fields fall back to the
// defaults returned by the Effective* accessors.
type Config struct {
	Parsing ParsingConfig `yaml:"parsing"`
	Watch   WatchConfig   `yaml:"watch"`
	Log     LogConfig     `yaml:"log"`
}

// ParsingConfig controls the BEP parser.
type ParsingConfig struct {
	// PoolingEnabled bounds concurrent parses. Default: true.
	PoolingEnabled *bool `yaml:"pooling_enabled"`

	// MaxConcurrentParses is the parse permit count when pooling is on.
	// Default: 5.
	MaxConcurrentParses *int `yaml:"max_concurrent_parses"`

	// InternStrings shares one string interner across all parses.
	// Default: true.
	InternStrings *bool `yaml:"intern_strings"`
}

// WatchConfig lists directories polled for new BEP files.
type WatchConfig struct {
	Dirs []string `yaml:"dirs"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{}
}

// LoadConfig reads .bepconfig from dir. A missing file yields the defaults;
// an unreadable or invalid file is an error.
func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()
	if dir == "" {
		return cfg, nil
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// EffectivePoolingEnabled returns the configured pooling setting, or true.
func (c *Config) EffectivePoolingEnabled() bool {
	if c.Parsing.PoolingEnabled != nil {
		return *c.Parsing.PoolingEnabled
	}
	return true
}

// EffectiveMaxConcurrentParses returns the configured permit count, or the
// throttle default when unset or not positive.
func (c *Config) EffectiveMaxConcurrentParses() int {
	if c.Parsing.MaxConcurrentParses != nil && *c.Parsing.MaxConcurrentParses > 0 {
		return *c.Parsing.MaxConcurrentParses
	}
	return throttle.DefaultMaxConcurrent
}

// EffectiveInternStrings returns the configured interning setting, or true.
func (c *Config) EffectiveInternStrings() bool {
	if c.Parsing.InternStrings != nil {
		return *c.Parsing.InternStrings
	}
	return true
}

func (c *Config) EffectiveLogLevel() string {
	if c.Log.Level != "" {
		return c.Log.Level
	}
	return "info"
}

func (c *Config) EffectiveLogFormat() string {
	if c.Log.Format != "" {
		return c.Log.Format
	}
	return "text"
}

// Throttle builds the parse throttle the settings describe.
func (c *Config) Throttle() *throttle.Throttle {
	return throttle.FromConfig(c.EffectivePoolingEnabled(), c.EffectiveMaxConcurrentParses())
}
