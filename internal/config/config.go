// Package config loads Lumen's VM and provider configuration from a
// TOML file: providers, per-provider settings, and MCP mount points,
// with secrets referenced by environment variable name rather than
// stored inline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration, loaded once at VM start;
// subsequent changes require a restart.
type Config struct {
	VM        VMConfig        `toml:"vm"`
	Logging   LoggingConfig   `toml:"logging"`
	Providers ProvidersConfig `toml:"providers"`
	Watch     WatchConfig     `toml:"watch"`
}

// VMConfig controls interpreter resource limits and scheduling defaults.
type VMConfig struct {
	FuelBudget      int64  `toml:"fuel_budget"`
	MaxFrameDepth   int    `toml:"max_frame_depth"`
	Deterministic   bool   `toml:"deterministic"`
	DefaultSchedule string `toml:"default_schedule"` // "eager" | "deferred_fifo"
}

// LoggingConfig controls the structured-log writers.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"` // "text" | "json"
	Output     []string `toml:"output"` // "stdout", "file", "memory"
	TimeFormat string   `toml:"time_format"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
	DataDir    string   `toml:"data_dir"`
}

// ProvidersConfig is the [providers] table tree.
type ProvidersConfig struct {
	// Bindings maps a tool alias to a provider type name, e.g.
	// "HttpGet" -> "http", "Gemini" -> "genai".
	Bindings map[string]string `toml:"bindings"`

	// Config holds provider-type-specific settings, keyed by provider
	// type ([providers.config.<provider_type>]).
	Config map[string]ProviderTypeConfig `toml:"config"`

	// MCP holds external tool-server mount points
	// ([providers.mcp.<server>]).
	MCP map[string]MCPMount `toml:"mcp"`
}

// ProviderTypeConfig is one [providers.config.<provider_type>] table.
// Values that look like "env:NAME" are resolved from the environment at
// VM start and never logged.
type ProviderTypeConfig struct {
	Settings map[string]string `toml:"-"`
}

// UnmarshalTOML accepts an arbitrary string-keyed table for a provider's
// settings, keeping the TOML shape tolerant.
func (p *ProviderTypeConfig) UnmarshalTOML(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("provider config: expected table, got %T", data)
	}
	p.Settings = make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("provider config key %q: expected string, got %T", k, v)
		}
		p.Settings[k] = s
	}
	return nil
}

// Resolve returns the concrete value of a setting, dereferencing
// "env:VAR_NAME" references against the process environment.
func (p ProviderTypeConfig) Resolve(key string) (string, error) {
	raw, ok := p.Settings[key]
	if !ok {
		return "", fmt.Errorf("provider config: missing key %q", key)
	}
	if name, isEnv := strings.CutPrefix(raw, "env:"); isEnv {
		val, present := os.LookupEnv(name)
		if !present {
			return "", fmt.Errorf("provider config: environment variable %q is not set", name)
		}
		return val, nil
	}
	return raw, nil
}

// MCPMount describes one external MCP tool-server mount point.
type MCPMount struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Tools   []string `toml:"tools"`
}

// WatchConfig controls the fsnotify-backed recompile-on-change mode.
type WatchConfig struct {
	Enabled    bool `toml:"enabled"`
	DebounceMs int  `toml:"debounce_ms"`
}

// Default returns the built-in defaults, overridable by LUMEN_* env
// vars.
func Default() *Config {
	fuel := int64(1 << 20)
	if v := os.Getenv("LUMEN_FUEL_BUDGET"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			fuel = n
		}
	}

	return &Config{
		VM: VMConfig{
			FuelBudget:      fuel,
			MaxFrameDepth:   256,
			Deterministic:   false,
			DefaultSchedule: "deferred_fifo",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			DataDir:    ".lumen",
		},
		Providers: ProvidersConfig{
			Bindings: map[string]string{},
			Config:   map[string]ProviderTypeConfig{},
			MCP:      map[string]MCPMount{},
		},
		Watch: WatchConfig{
			Enabled:    false,
			DebounceMs: 500,
		},
	}
}

// Load reads and merges a TOML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
