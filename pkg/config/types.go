package config

import "time"

// Config is the root configuration structure
type Config struct {
	Policy  PolicyConfig   `yaml:"policy"`
	Cache   CacheConfig    `yaml:"cache"`
	Sources []SourceConfig `yaml:"sources"`
	Quoters []SourceConfig `yaml:"quoters"`
	HTTP    HTTPConfig     `yaml:"http"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging LoggingConfig  `yaml:"logging"`
}

// PolicyConfig carries the acceptance and caching thresholds applied by the aggregator.
type PolicyConfig struct {
	CacheTTL      Duration `yaml:"cache_ttl"`       // TTL for cached reference prices
	QuoteCacheTTL Duration `yaml:"quote_cache_ttl"` // TTL for cached quotes (0 disables quote caching)
	MaxPriceAge   Duration `yaml:"max_price_age"`   // Results older than this are rejected
	MinConfidence float64  `yaml:"min_confidence"`  // Results below this confidence are rejected
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend       string      `yaml:"backend"`        // "memory" (default) or "redis"
	SweepInterval Duration    `yaml:"sweep_interval"` // optional proactive expiry sweep, 0 = lazy only
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SourceConfig configures one price source or quoter
type SourceConfig struct {
	Type     string                 `yaml:"type"`
	Name     string                 `yaml:"name"`
	Enabled  bool                   `yaml:"enabled"`
	Priority int                    `yaml:"priority"`
	Config   map[string]interface{} `yaml:"config"`
}

// HTTPConfig configures the HTTP API server
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
