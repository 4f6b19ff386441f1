package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"profiled/internal/backend"
	"profiled/internal/profile"
)

type Config struct {
	LogLevel      string              `yaml:"log_level"`
	MetricsListen string              `yaml:"metrics_listen"`
	BaseProfile   profile.Profile     `yaml:"base_profile"`
	BusName       string              `yaml:"bus_name"`
	ObjectPath    string              `yaml:"object_path"`
	Backend       backend.TunedConfig `yaml:"backend"`
	Profiles      map[string]string   `yaml:"profiles"` // profile → backend profile overrides
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.BaseProfile == "" {
		cfg.BaseProfile = profile.Balanced
	}
	if cfg.BusName == "" {
		cfg.BusName = "net.hadess.PowerProfiles"
	}
	if cfg.ObjectPath == "" {
		cfg.ObjectPath = "/net/hadess/PowerProfiles"
	}

	def := backend.DefaultTunedConfig()
	if cfg.Backend.BusName == "" {
		cfg.Backend.BusName = def.BusName
	}
	if cfg.Backend.ObjectPath == "" {
		cfg.Backend.ObjectPath = def.ObjectPath
	}
	if cfg.Backend.Interface == "" {
		cfg.Backend.Interface = def.Interface
	}
	if cfg.Backend.CallTimeout == 0 {
		cfg.Backend.CallTimeout = def.CallTimeout
	}
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mapping returns the profile translation table: the stock mapping with
// any configured overrides applied.
func (c *Config) Mapping() map[profile.Profile]string {
	m := profile.DefaultMapping()
	for name, native := range c.Profiles {
		p, _ := profile.Parse(name)
		m[p] = native
	}
	return m
}
