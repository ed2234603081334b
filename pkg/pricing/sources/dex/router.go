// Package dex provides swap-quote sources backed by DEX routing APIs.
package dex

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/logging"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

const (
	routerDefaultTimeout    = 10 * time.Second
	routerDefaultConfidence = 0.9
)

// routerBase carries the identity and chain mapping shared by routing APIs:
// a name, a priority, and a map from network id to the router's chain slug.
type routerBase struct {
	name       string
	priority   int
	chains     map[string]string // network -> router chain slug
	confidence float64
	client     *http.Client
	logger     *logging.Logger
}

// newRouterBase parses the shared quoter config.
//
// Config:
//
//	chains:     map of network -> chain slug used in the router URL
//	confidence: static confidence assigned to quotes (default 0.9)
//	timeout:    per-call timeout (default 10s)
func newRouterBase(name string, config map[string]interface{}) (*routerBase, error) {
	chainsRaw, ok := config["chains"].(map[string]interface{})
	if !ok || len(chainsRaw) == 0 {
		return nil, fmt.Errorf("%w: 'chains' key", sources.ErrInvalidConfig)
	}

	chains := make(map[string]string, len(chainsRaw))
	for network, slugRaw := range chainsRaw {
		slug, ok := slugRaw.(string)
		if !ok || slug == "" {
			return nil, fmt.Errorf("%w: chain slug for %s", sources.ErrInvalidConfig, network)
		}
		chains[strings.ToLower(network)] = slug
	}

	return &routerBase{
		name:       sources.GetStringFromConfig(config, "name", name),
		priority:   sources.GetPriorityFromConfig(config),
		chains:     chains,
		confidence: sources.GetFloatFromConfig(config, "confidence", routerDefaultConfidence),
		client:     &http.Client{Timeout: sources.GetDurationFromConfig(config, "timeout", routerDefaultTimeout)},
		logger:     sources.GetLoggerFromConfig(config),
	}, nil
}

// Name returns the quoter name
func (b *routerBase) Name() string {
	return b.name
}

// Priority returns the static tie-break rank
func (b *routerBase) Priority() int {
	return b.priority
}

// SupportsNetwork reports whether a chain slug is mapped for the network.
func (b *routerBase) SupportsNetwork(network string) bool {
	_, ok := b.chains[strings.ToLower(network)]
	return ok
}

// SupportsPair reports whether the router can attempt the request. Routers
// accept arbitrary token addresses on covered chains, so this only checks
// network coverage and a positive input amount.
func (b *routerBase) SupportsPair(_ context.Context, req sources.QuoteRequest) (bool, error) {
	if !b.SupportsNetwork(req.Network) {
		return false, nil
	}
	return req.Amount.IsPositive(), nil
}

// chainSlug returns the router's slug for a network, or "".
func (b *routerBase) chainSlug(network string) string {
	return b.chains[strings.ToLower(network)]
}
