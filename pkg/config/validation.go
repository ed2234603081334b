package config

import "fmt"

// Validate checks the configuration for consistency before startup.
func Validate(cfg *Config) error {
	if cfg.Policy.MinConfidence < 0 || cfg.Policy.MinConfidence > 1 {
		return fmt.Errorf("%w: got %f", ErrInvalidMinConfidence, cfg.Policy.MinConfidence)
	}
	if cfg.Policy.MaxPriceAge.ToDuration() <= 0 {
		return fmt.Errorf("%w", ErrInvalidMaxPriceAge)
	}
	if cfg.Policy.CacheTTL.ToDuration() <= 0 {
		return fmt.Errorf("%w", ErrInvalidCacheTTL)
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("%w", ErrRedisAddrRequired)
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidCacheBackend, cfg.Cache.Backend)
	}

	if err := validateSourceList("sources", cfg.Sources); err != nil {
		return err
	}
	if err := validateSourceList("quoters", cfg.Quoters); err != nil {
		return err
	}

	enabled := 0
	for _, src := range cfg.Sources {
		if src.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w", ErrNoSourcesConfigured)
	}

	return nil
}

func validateSourceList(section string, list []SourceConfig) error {
	seen := make(map[string]bool, len(list))
	for i, src := range list {
		if src.Type == "" {
			return fmt.Errorf("%w: %s[%d]", ErrSourceTypeRequired, section, i)
		}
		if src.Name == "" {
			return fmt.Errorf("%w: %s[%d]", ErrSourceNameRequired, section, i)
		}
		if src.Priority < 0 {
			return fmt.Errorf("%w: %s %q", ErrNegativePriority, section, src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("%w: %s %q", ErrDuplicateSourceName, section, src.Name)
		}
		seen[src.Name] = true
	}
	return nil
}
