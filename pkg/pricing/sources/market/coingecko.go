package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/version"
)

const (
	coingeckoDefaultAPIURL  = "https://api.coingecko.com/api/v3"
	coingeckoDefaultTimeout = 10 * time.Second
	// Free API: ~4 calls/minute to stay under the limit.
	coingeckoFreeMinInterval = 15 * time.Second
	// Pro API: ~30 calls/minute.
	coingeckoProMinInterval = 2 * time.Second
	// Market aggregators lag behind feeds; a lower default confidence
	// keeps them behind oracles in validation-sensitive setups.
	coingeckoDefaultConfidence = 0.8
)

// CoinGeckoSource fetches reference prices from a CoinGecko-style REST API.
// Coin ids are network-agnostic upstream; the per-network maps only scope
// which pairs this source claims to cover.
type CoinGeckoSource struct {
	*sources.BaseSource
	apiURL      string
	apiKey      string
	confidence  float64
	minInterval time.Duration
	client      *http.Client

	requestMu   sync.Mutex
	lastRequest time.Time
}

// NewCoinGeckoSource creates a CoinGecko source.
//
// Config:
//
//	api_url:    REST endpoint (default api.coingecko.com/api/v3)
//	api_key:    pro API key, raises the rate limit (optional)
//	confidence: static confidence assigned to answers (default 0.8)
//	networks:   map of network -> asset -> coin id
//	timeout:    per-call timeout (default 10s)
func NewCoinGeckoSource(config map[string]interface{}) (sources.Source, error) {
	assets, err := sources.ParseNetworkAssets(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse networks: %w", err)
	}

	apiKey := sources.GetStringFromConfig(config, "api_key", "")
	minInterval := coingeckoFreeMinInterval
	if apiKey != "" {
		minInterval = coingeckoProMinInterval
	}

	logger := sources.GetLoggerFromConfig(config)
	name := sources.GetStringFromConfig(config, "name", "coingecko")
	base := sources.NewBaseSource(name, sources.SourceTypeMarket, sources.GetPriorityFromConfig(config), assets, logger)

	return &CoinGeckoSource{
		BaseSource:  base,
		apiURL:      strings.TrimRight(sources.GetStringFromConfig(config, "api_url", coingeckoDefaultAPIURL), "/"),
		apiKey:      apiKey,
		confidence:  sources.GetFloatFromConfig(config, "confidence", coingeckoDefaultConfidence),
		minInterval: minInterval,
		client:      &http.Client{Timeout: sources.GetDurationFromConfig(config, "timeout", coingeckoDefaultTimeout)},
	}, nil
}

// FetchOne fetches the price for a single pair.
func (s *CoinGeckoSource) FetchOne(ctx context.Context, network, asset string) (sources.Result, bool, error) {
	id := s.SourceID(network, asset)
	if id == "" {
		return sources.Result{}, false, nil
	}

	prices, err := s.fetchSimplePrice(ctx, []string{id})
	if err != nil {
		return sources.Result{}, false, err
	}

	entry, ok := prices[id]
	if !ok {
		return sources.Result{}, false, nil
	}

	return s.toResult(network, asset, entry), true, nil
}

// FetchBatch uses the endpoint's native multi-id query. The same coin id may
// back several keys; one upstream answer serves all of them.
func (s *CoinGeckoSource) FetchBatch(ctx context.Context, keys []sources.Key) (map[sources.Key]sources.Result, error) {
	idsByKey := make(map[sources.Key]string, len(keys))
	ids := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))

	for _, key := range keys {
		id := s.SourceID(key.Network, key.Asset)
		if id == "" {
			continue
		}
		idsByKey[key] = id
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return map[sources.Key]sources.Result{}, nil
	}

	prices, err := s.fetchSimplePrice(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[sources.Key]sources.Result, len(idsByKey))
	for key, id := range idsByKey {
		entry, ok := prices[id]
		if !ok {
			continue
		}
		out[key] = s.toResult(key.Network, key.Asset, entry)
	}

	return out, nil
}

// simplePriceEntry is one coin's answer from /simple/price.
type simplePriceEntry struct {
	USD           float64 `json:"usd"`
	LastUpdatedAt int64   `json:"last_updated_at"`
}

// fetchSimplePrice queries /simple/price for the given coin ids, enforcing
// the minimum request interval bounded by ctx.
func (s *CoinGeckoSource) fetchSimplePrice(ctx context.Context, ids []string) (map[string]simplePriceEntry, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, sources.NewTransportFailure(s.Name(), err)
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_last_updated_at=true",
		s.apiURL, strings.Join(ids, ","))
	if s.apiKey != "" {
		endpoint += "&x_cg_pro_api_key=" + s.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, sources.NewTransportFailure(s.Name(), err)
	}
	req.Header.Set("User-Agent", version.AgentString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, sources.NewTransportFailure(s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.Logger().Warn("Market API rate limit exceeded",
			"has_api_key", s.apiKey != "",
			"min_interval", s.minInterval)
		return nil, sources.NewRateLimitFailure(s.Name(), sources.ErrRateLimitExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, sources.NewTransportFailure(s.Name(), fmt.Errorf("%w: %d", sources.ErrUnexpectedStatus, resp.StatusCode))
	}

	var data map[string]simplePriceEntry
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, sources.NewParseFailure(s.Name(), err)
	}

	return data, nil
}

// throttle enforces the minimum interval between upstream requests.
func (s *CoinGeckoSource) throttle(ctx context.Context) error {
	s.requestMu.Lock()
	wait := time.Duration(0)
	if !s.lastRequest.IsZero() {
		if elapsed := time.Since(s.lastRequest); elapsed < s.minInterval {
			wait = s.minInterval - elapsed
		}
	}
	s.lastRequest = time.Now().Add(wait)
	s.requestMu.Unlock()

	if wait == 0 {
		return nil
	}

	s.Logger().Debug("Rate limiting: waiting before next request", "wait", wait)
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CoinGeckoSource) toResult(network, asset string, entry simplePriceEntry) sources.Result {
	observed := time.Now()
	if entry.LastUpdatedAt > 0 {
		observed = time.Unix(entry.LastUpdatedAt, 0)
	}

	return sources.Result{
		Network:    strings.ToLower(network),
		Asset:      strings.ToLower(asset),
		Value:      decimal.NewFromFloat(entry.USD),
		Confidence: s.confidence,
		Source:     s.Name(),
		Timestamp:  observed,
	}
}
