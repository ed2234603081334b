package sources

import (
	"context"
	"strings"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/logging"
)

// BaseSource provides the common identity and coverage plumbing shared by
// all price sources: name, priority, and the per-network asset maps that
// back SupportsNetwork/SupportsAsset. Construction fixes all of it; nothing
// here is mutated afterwards.
type BaseSource struct {
	name       string
	sourcetype SourceType
	priority   int
	// network -> unified asset id -> source-specific id (feed address,
	// price-feed id, coin id...). All keys lowercased at construction.
	assets map[string]map[string]string
	logger *logging.Logger
}

// NewBaseSource creates a base source from per-network asset mappings.
func NewBaseSource(name string, sourcetype SourceType, priority int, assets map[string]map[string]string, logger *logging.Logger) *BaseSource {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	normalized := make(map[string]map[string]string, len(assets))
	for network, pairs := range assets {
		m := make(map[string]string, len(pairs))
		for asset, sourceID := range pairs {
			m[strings.ToLower(asset)] = sourceID
		}
		normalized[strings.ToLower(network)] = m
	}

	return &BaseSource{
		name:       name,
		sourcetype: sourcetype,
		priority:   priority,
		assets:     normalized,
		logger:     logger,
	}
}

// Name returns the source name
func (b *BaseSource) Name() string {
	return b.name
}

// Type returns the source type
func (b *BaseSource) Type() SourceType {
	return b.sourcetype
}

// Priority returns the static fallback rank
func (b *BaseSource) Priority() int {
	return b.priority
}

// SupportsNetwork reports whether any assets are mapped for the network.
func (b *BaseSource) SupportsNetwork(network string) bool {
	_, ok := b.assets[strings.ToLower(network)]
	return ok
}

// SupportsAsset reports whether the asset is mapped on the network.
// The map lookup never fails; the error return satisfies the contract for
// sources whose coverage checks require remote lookups.
func (b *BaseSource) SupportsAsset(_ context.Context, network, asset string) (bool, error) {
	pairs, ok := b.assets[strings.ToLower(network)]
	if !ok {
		return false, nil
	}
	_, ok = pairs[strings.ToLower(asset)]
	return ok, nil
}

// SourceID returns the source-specific identifier for a pair, or "" if the
// pair is not covered.
func (b *BaseSource) SourceID(network, asset string) string {
	pairs, ok := b.assets[strings.ToLower(network)]
	if !ok {
		return ""
	}
	return pairs[strings.ToLower(asset)]
}

// Networks returns the configured network names.
func (b *BaseSource) Networks() []string {
	networks := make([]string, 0, len(b.assets))
	for network := range b.assets {
		networks = append(networks, network)
	}
	return networks
}

// AssetsOn returns a copy of the asset map for one network.
func (b *BaseSource) AssetsOn(network string) map[string]string {
	pairs, ok := b.assets[strings.ToLower(network)]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	return out
}

// Logger returns the logger
func (b *BaseSource) Logger() *logging.Logger {
	return b.logger
}

// EachFetch is the default batch implementation: it calls FetchOne per key
// and omits keys that were absent or failed. Sources with a native batch
// endpoint override FetchBatch instead.
func EachFetch(ctx context.Context, s Source, keys []Key) (map[Key]Result, error) {
	out := make(map[Key]Result, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return out, NewTransportFailure(s.Name(), err)
		}
		result, found, err := s.FetchOne(ctx, key.Network, key.Asset)
		if err != nil || !found {
			continue
		}
		out[key] = result
	}
	return out, nil
}
