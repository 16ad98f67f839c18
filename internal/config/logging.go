package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the slog logger described by the log settings, writing
// to w.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.EffectiveLogLevel())); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.EffectiveLogFormat()) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}
}
