package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadConfigDefault(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path")
	if err != nil {
		t.Fatalf("missing config should not fail: %v", err)
	}
	if !cfg.EffectivePoolingEnabled() {
		t.Error("expected default pooling_enabled true")
	}
	if cfg.EffectiveMaxConcurrentParses() != 5 {
		t.Errorf("expected default max_concurrent_parses 5, got %d", cfg.EffectiveMaxConcurrentParses())
	}
	if !cfg.EffectiveInternStrings() {
		t.Error("expected default intern_strings true")
	}
	if cfg.EffectiveLogLevel() != "info" || cfg.EffectiveLogFormat() != "text" {
		t.Errorf("unexpected log defaults %q/%q", cfg.EffectiveLogLevel(), cfg.EffectiveLogFormat())
	}
	if cfg.Throttle().Capacity() != 5 {
		t.Errorf("default throttle capacity = %d, want 5", cfg.Throttle().Capacity())
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := writeConfig(t, `
parsing:
  pooling_enabled: true
  max_concurrent_parses: 2
  intern_strings: false
watch:
  dirs:
    - /tmp/bep
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EffectiveMaxConcurrentParses() != 2 {
		t.Errorf("expected max_concurrent_parses 2, got %d", cfg.EffectiveMaxConcurrentParses())
	}
	if cfg.EffectiveInternStrings() {
		t.Error("expected intern_strings false")
	}
	if diff := cmp.Diff([]string{"/tmp/bep"}, cfg.Watch.Dirs); diff != "" {
		t.Errorf("watch dirs (-want +got):\n%s", diff)
	}
	if cfg.EffectiveLogLevel() != "debug" || cfg.EffectiveLogFormat() != "json" {
		t.Errorf("unexpected log settings %q/%q", cfg.EffectiveLogLevel(), cfg.EffectiveLogFormat())
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "parsing: [valid: yaml")
	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("expected an error for invalid yaml")
	}
}

func TestPoolingDisabledIsUnbounded(t *testing.T) {
	dir := writeConfig(t, "parsing:\n  pooling_enabled: false\n  max_concurrent_parses: 3\n")
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Throttle().Capacity(); got != 0 {
		t.Errorf("capacity = %d, want 0 (unbounded)", got)
	}
}

func TestNonPositiveMaxFallsBack(t *testing.T) {
	dir := writeConfig(t, "parsing:\n  max_concurrent_parses: 0\n")
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EffectiveMaxConcurrentParses() != 5 {
		t.Errorf("expected fallback to 5, got %d", cfg.EffectiveMaxConcurrentParses())
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := writeConfig(t, "parsing:\n  max_concurrent_parses: 2\nlog:\n  level: warn\nwatch:\n  dirs: [/a]\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"--config-dir", dir, "--max-concurrent-parses=7", "--watch", "/b", "--watch", "/c"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := flags.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EffectiveMaxConcurrentParses() != 7 {
		t.Errorf("expected flag override 7, got %d", cfg.EffectiveMaxConcurrentParses())
	}
	if cfg.EffectiveLogLevel() != "warn" {
		t.Errorf("unset flag must keep file value, got %q", cfg.EffectiveLogLevel())
	}
	if diff := cmp.Diff([]string{"/a", "/b", "/c"}, cfg.Watch.Dirs); diff != "" {
		t.Errorf("watch dirs (-want +got):\n%s", diff)
	}
}

func TestFlagsRejectNonPositiveMax(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"--config-dir", t.TempDir(), "--max-concurrent-parses=0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := flags.Load(); err == nil {
		t.Fatal("expected an error for --max-concurrent-parses=0")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
		wantSubstr    string
	}{
		{"info", "text", false, "msg=hello"},
		{"debug", "json", false, `"msg":"hello"`},
		{"loud", "text", true, ""},
		{"info", "xml", true, ""},
	}
	for _, tt := range tests {
		cfg := &Config{Log: LogConfig{Level: tt.level, Format: tt.format}}
		var buf bytes.Buffer
		logger, err := cfg.NewLogger(&buf)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s/%s: err = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		logger.Info("hello")
		if !strings.Contains(buf.String(), tt.wantSubstr) {
			t.Errorf("%s/%s: output %q missing %q", tt.level, tt.format, buf.String(), tt.wantSubstr)
		}
	}
}
