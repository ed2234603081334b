package config

import "errors"

var (
	// ErrNoSourcesConfigured indicates that no enabled price sources are configured.
	ErrNoSourcesConfigured = errors.New("no enabled price sources configured")
	// ErrDuplicateSourceName indicates two sources share the same name.
	ErrDuplicateSourceName = errors.New("duplicate source name")
	// ErrInvalidMinConfidence indicates min_confidence is outside [0,1].
	ErrInvalidMinConfidence = errors.New("min_confidence must be in [0,1]")
	// ErrInvalidMaxPriceAge indicates max_price_age is not positive.
	ErrInvalidMaxPriceAge = errors.New("max_price_age must be positive")
	// ErrInvalidCacheTTL indicates cache_ttl is not positive.
	ErrInvalidCacheTTL = errors.New("cache_ttl must be positive")
	// ErrInvalidCacheBackend indicates an unknown cache backend.
	ErrInvalidCacheBackend = errors.New("cache backend must be \"memory\" or \"redis\"")
	// ErrRedisAddrRequired indicates the redis backend is selected without an address.
	ErrRedisAddrRequired = errors.New("redis backend requires an addr")
	// ErrNegativePriority indicates a source has a negative priority.
	ErrNegativePriority = errors.New("source priority must be non-negative")
	// ErrSourceTypeRequired indicates a source entry is missing its type.
	ErrSourceTypeRequired = errors.New("source type is required")
	// ErrSourceNameRequired indicates a source entry is missing its name.
	ErrSourceNameRequired = errors.New("source name is required")
)
