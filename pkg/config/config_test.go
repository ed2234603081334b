package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfigYAML = `
policy:
  cache_ttl: 30s
  quote_cache_ttl: 10s
  max_price_age: 1m
  min_confidence: 0.6
cache:
  backend: memory
sources:
  - type: feed
    name: pyth
    enabled: true
    priority: 1
    config:
      networks:
        ethereum:
          ETH: "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
quoters:
  - type: dex
    name: openocean
    enabled: true
    priority: 1
    config:
      chains:
        ethereum: eth
http:
  enabled: true
  addr: ":8080"
logging:
  level: debug
`

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Policy.CacheTTL.ToDuration())
	assert.Equal(t, 10*time.Second, cfg.Policy.QuoteCacheTTL.ToDuration())
	assert.Equal(t, 0.6, cfg.Policy.MinConfidence)

	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "pyth", cfg.Sources[0].Name)
	require.Len(t, cfg.Quoters, 1)
	assert.Equal(t, "dex", cfg.Quoters[0].Type)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.NoError(t, Validate(cfg))
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
sources:
  - type: feed
    name: pyth
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Policy.CacheTTL.ToDuration())
	assert.Equal(t, 2*time.Minute, cfg.Policy.MaxPriceAge.ToDuration())
	assert.Equal(t, 0.5, cfg.Policy.MinConfidence)
	assert.Zero(t, cfg.Policy.QuoteCacheTTL.ToDuration(), "quote caching must default to off")
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6379")

	path := writeConfigFile(t, `
cache:
  backend: redis
  redis:
    addr: ${TEST_REDIS_ADDR}
sources:
  - type: feed
    name: pyth
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfigFile(t, "policy: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		cfg.Sources = []SourceConfig{{Type: "feed", Name: "pyth", Enabled: true}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "min_confidence above one",
			mutate:  func(c *Config) { c.Policy.MinConfidence = 1.5 },
			wantErr: ErrInvalidMinConfidence,
		},
		{
			name:    "non-positive max_price_age",
			mutate:  func(c *Config) { c.Policy.MaxPriceAge = Duration(-time.Second) },
			wantErr: ErrInvalidMaxPriceAge,
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: ErrInvalidCacheBackend,
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: ErrRedisAddrRequired,
		},
		{
			name: "duplicate source names",
			mutate: func(c *Config) {
				c.Sources = append(c.Sources, SourceConfig{Type: "market", Name: "pyth", Enabled: true})
			},
			wantErr: ErrDuplicateSourceName,
		},
		{
			name:    "source without type",
			mutate:  func(c *Config) { c.Sources[0].Type = "" },
			wantErr: ErrSourceTypeRequired,
		},
		{
			name:    "negative priority",
			mutate:  func(c *Config) { c.Sources[0].Priority = -1 },
			wantErr: ErrNegativePriority,
		},
		{
			name:    "no enabled sources",
			mutate:  func(c *Config) { c.Sources[0].Enabled = false },
			wantErr: ErrNoSourcesConfigured,
		},
		{
			name: "quoter validation applies too",
			mutate: func(c *Config) {
				c.Quoters = []SourceConfig{{Type: "dex", Name: ""}}
			},
			wantErr: ErrSourceNameRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	path := writeConfigFile(t, `
policy:
  cache_ttl: 1m30s
sources:
  - type: feed
    name: pyth
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Policy.CacheTTL.ToDuration())
}
