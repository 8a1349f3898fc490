// Package config loads loomd configuration from defaults, an optional
// YAML file, and LOOM_-prefixed environment variables, in that order.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Engine    EngineConfig    `koanf:"engine"`
	Store     StoreConfig     `koanf:"store"`
	Dashboard DashboardConfig `koanf:"dashboard"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type CatalogConfig struct {
	SkillsDir string `koanf:"skills_dir"`
	LoopsDir  string `koanf:"loops_dir"`
}

type EngineConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	RetryInitialDelay time.Duration `koanf:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `koanf:"retry_max_delay"`
	SkillTimeout      time.Duration `koanf:"skill_timeout"`
	GateTimeout       time.Duration `koanf:"gate_timeout"` // 0 disables human gate expiry
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	StrictMemory      bool          `koanf:"strict_memory"`
}

type StoreConfig struct {
	Path string `koanf:"path"` // sqlite database file
}

type DashboardConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("catalog.skills_dir", "skills")
	k.Set("catalog.loops_dir", "loops")

	k.Set("engine.max_attempts", 3)
	k.Set("engine.retry_initial_delay", "200ms")
	k.Set("engine.retry_max_delay", "30s")
	k.Set("engine.skill_timeout", "0")
	k.Set("engine.gate_timeout", "0")
	k.Set("engine.sweep_interval", "30s")
	k.Set("engine.strict_memory", false)

	k.Set("store.path", "loom.db")

	k.Set("dashboard.enabled", true)
	k.Set("dashboard.addr", ":8088")

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (LOOM_ENGINE_MAX_ATTEMPTS -> engine.max_attempts)
	if err := k.Load(env.Provider("LOOM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LOOM_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
