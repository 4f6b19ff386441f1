package config

import (
	"fmt"

	"profiled/internal/profile"
)

func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", cfg.LogLevel)
	}

	if !cfg.BaseProfile.Valid() {
		return fmt.Errorf("config: unknown base_profile %q", cfg.BaseProfile)
	}
	if cfg.BusName == "" {
		return fmt.Errorf("config: bus_name must not be empty")
	}
	if cfg.ObjectPath == "" {
		return fmt.Errorf("config: object_path must not be empty")
	}
	if cfg.Backend.BusName == "" || cfg.Backend.Interface == "" {
		return fmt.Errorf("config: backend bus_name and interface must not be empty")
	}
	if cfg.Backend.CallTimeout <= 0 {
		return fmt.Errorf("config: backend call_timeout must be > 0")
	}

	seen := make(map[string]profile.Profile) // backend profile → profile
	for name, native := range cfg.Profiles {
		p, ok := profile.Parse(name)
		if !ok {
			return fmt.Errorf("config: profiles: unknown profile %q", name)
		}
		if native == "" {
			return fmt.Errorf("config: profiles: empty backend profile for %q", name)
		}
		if prev, dup := seen[native]; dup {
			return fmt.Errorf("config: profiles: backend profile %q mapped to both %q and %q", native, prev, p)
		}
		seen[native] = p
	}

	return nil
}
