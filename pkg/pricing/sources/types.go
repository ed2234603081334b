package sources

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceType groups sources by upstream family.
type SourceType string

const (
	SourceTypeOnchain SourceType = "onchain"
	SourceTypeFeed    SourceType = "feed"
	SourceTypeMarket  SourceType = "market"
	SourceTypeDEX     SourceType = "dex"
)

// Key identifies one (network, asset) pair. Both parts are case-normalized
// so hand-rolled and aggregator-driven lookups never diverge.
type Key struct {
	Network string
	Asset   string
}

// NewKey builds a normalized key from raw identifiers.
func NewKey(network, asset string) Key {
	return Key{
		Network: strings.ToLower(strings.TrimSpace(network)),
		Asset:   strings.ToLower(strings.TrimSpace(asset)),
	}
}

// String returns the canonical cache-key form "network:asset".
func (k Key) String() string {
	return k.Network + ":" + k.Asset
}

// Result is one source's answer for one (network, asset) pair at one instant.
type Result struct {
	Network    string                 `json:"network"`
	Asset      string                 `json:"asset"`
	Value      decimal.Decimal        `json:"value"`
	Confidence float64                `json:"confidence"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Key returns the normalized key for this result.
func (r Result) Key() Key {
	return NewKey(r.Network, r.Asset)
}

// QuoteRequest asks for the output amount of swapping Amount of FromAsset
// into ToAsset on Network.
type QuoteRequest struct {
	Network   string
	FromAsset string
	ToAsset   string
	Amount    decimal.Decimal
}

// Key returns the normalized cache key for this request. The pair and amount
// are folded into the asset part so distinct requests never collide.
func (q QuoteRequest) Key() Key {
	return NewKey(q.Network, q.FromAsset+"->"+q.ToAsset+"@"+q.Amount.String())
}

// PairID returns the canonical pair identifier used as Result.Asset for quotes.
func (q QuoteRequest) PairID() string {
	return strings.ToLower(q.FromAsset) + "->" + strings.ToLower(q.ToAsset)
}

// Source is the capability contract every price source implements.
//
// FetchOne returns found=false when the source legitimately has no data for
// the pair; errors are reserved for transport, parse and rate-limit problems
// (see Failure). A source applies its own timeout and never blocks past it.
type Source interface {
	// Name returns the unique name of this source
	Name() string

	// Priority returns the static rank; lower is tried first in fallback mode
	Priority() int

	// SupportsNetwork reports whether the source covers the network. Cheap,
	// side-effect free; used to skip a source before any round trip.
	SupportsNetwork(network string) bool

	// SupportsAsset reports whether the source covers the asset on the
	// network. It may require a lookup and is therefore fallible.
	SupportsAsset(ctx context.Context, network, asset string) (bool, error)

	// FetchOne attempts to produce one Result for the pair.
	FetchOne(ctx context.Context, network, asset string) (Result, bool, error)

	// FetchBatch answers as many of the requested keys as it can; keys it
	// cannot answer are simply omitted from the returned map.
	FetchBatch(ctx context.Context, keys []Key) (map[Key]Result, error)
}

// Quoter is the capability contract for swap-quote sources.
type Quoter interface {
	// Name returns the unique name of this quoter
	Name() string

	// Priority returns the static rank used only for tie-breaking
	Priority() int

	// SupportsNetwork reports whether the quoter covers the network
	SupportsNetwork(network string) bool

	// SupportsPair reports whether the quoter can route the requested pair
	SupportsPair(ctx context.Context, req QuoteRequest) (bool, error)

	// Quote attempts to produce a quote; found=false means no route
	Quote(ctx context.Context, req QuoteRequest) (Result, bool, error)
}

// Streamer is implemented by sources that keep a live feed open in the
// background. The aggregator never depends on it; main wires it at startup.
type Streamer interface {
	StartStream(ctx context.Context) error
	StopStream() error
}

// Factory creates a new Source instance from static configuration.
type Factory func(config map[string]interface{}) (Source, error)

// QuoterFactory creates a new Quoter instance from static configuration.
type QuoterFactory func(config map[string]interface{}) (Quoter, error)
