// Package cache provides the TTL result cache used by the aggregator.
// The cache owns no policy: TTLs are always supplied by the caller.
package cache

import (
	"context"
	"time"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

// Stats describes the live contents of a cache.
type Stats struct {
	Size         int                      `json:"size"`
	RemainingTTL map[string]time.Duration `json:"remaining_ttl"`
}

// Cache is a keyed store of validated results with per-entry expiry.
// Entries past their expiry are treated as absent on read.
type Cache interface {
	// Get returns the cached result for the key, or found=false if the key
	// is missing or expired.
	Get(ctx context.Context, key sources.Key) (sources.Result, bool)

	// Put stores a result under the key with the given TTL, overwriting any
	// previous entry.
	Put(ctx context.Context, key sources.Key, result sources.Result, ttl time.Duration)

	// Invalidate removes one entry.
	Invalidate(ctx context.Context, key sources.Key)

	// InvalidateAll removes every entry.
	InvalidateAll(ctx context.Context)

	// Stats reports the number of live entries and their remaining TTLs.
	Stats(ctx context.Context) Stats
}
