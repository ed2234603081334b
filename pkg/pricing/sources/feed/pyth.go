package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources/stream"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/version"
)

const (
	pythDefaultAPIURL  = "https://hermes.pyth.network"
	pythDefaultWSURL   = "wss://hermes.pyth.network/ws"
	pythDefaultTimeout = 10 * time.Second
	// A streamed value older than this falls back to the REST endpoint.
	pythDefaultStaleAfter = 15 * time.Second
)

// PythSource fetches prices from a Pyth Hermes-style endpoint. The feed
// reports a confidence interval with every price; confidence is derived from
// it. With streaming enabled the source keeps a live table of the latest
// published values and serves lookups from it while fresh.
type PythSource struct {
	*sources.BaseSource
	apiURL     string
	wsURL      string
	useStream  bool
	staleAfter time.Duration
	client     *http.Client
	wsClient   *stream.Client

	latestMu sync.RWMutex
	latest   map[string]pythPrice // normalized price id -> last streamed value
}

// pythPrice is the price object shared by the REST and stream payloads.
type pythPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// pythFeed is one entry of the latest_price_feeds response.
type pythFeed struct {
	ID    string    `json:"id"`
	Price pythPrice `json:"price"`
}

// pythStreamMessage is the streamed price update envelope.
type pythStreamMessage struct {
	Type      string   `json:"type"`
	PriceFeed pythFeed `json:"price_feed"`
}

// NewPythSource creates a Pyth feed source.
//
// Config:
//
//	api_url:     REST endpoint (default hermes.pyth.network)
//	ws_url:      stream endpoint (default hermes.pyth.network/ws)
//	stream:      keep a live websocket feed open (default false)
//	stale_after: streamed value age that forces a REST fallback (default 15s)
//	networks:    map of network -> asset -> price feed id
//	timeout:     per-call timeout (default 10s)
func NewPythSource(config map[string]interface{}) (sources.Source, error) {
	assets, err := sources.ParseNetworkAssets(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse networks: %w", err)
	}

	logger := sources.GetLoggerFromConfig(config)
	name := sources.GetStringFromConfig(config, "name", "pyth")
	base := sources.NewBaseSource(name, sources.SourceTypeFeed, sources.GetPriorityFromConfig(config), assets, logger)

	timeout := sources.GetDurationFromConfig(config, "timeout", pythDefaultTimeout)

	source := &PythSource{
		BaseSource: base,
		apiURL:     strings.TrimRight(sources.GetStringFromConfig(config, "api_url", pythDefaultAPIURL), "/"),
		wsURL:      sources.GetStringFromConfig(config, "ws_url", pythDefaultWSURL),
		useStream:  sources.GetBoolFromConfig(config, "stream", false),
		staleAfter: sources.GetDurationFromConfig(config, "stale_after", pythDefaultStaleAfter),
		client:     &http.Client{Timeout: timeout},
		latest:     make(map[string]pythPrice),
	}

	if source.useStream {
		source.wsClient = stream.NewClient(stream.Config{
			URL:    source.wsURL,
			Logger: logger.ZerologLogger(),
		})
		source.wsClient.SetHandlers(
			source.handleStreamMessage,
			source.handleStreamConnect,
			source.handleStreamDisconnect,
		)
	}

	return source, nil
}

// FetchOne resolves the pair to a price feed id and fetches it, preferring a
// fresh streamed value over a REST round trip.
func (s *PythSource) FetchOne(ctx context.Context, network, asset string) (sources.Result, bool, error) {
	id := s.SourceID(network, asset)
	if id == "" {
		return sources.Result{}, false, nil
	}

	if price, ok := s.streamedPrice(id); ok {
		result, err := s.toResult(network, asset, price)
		if err == nil {
			return result, true, nil
		}
		// Fall through to REST on a malformed streamed value.
	}

	feeds, err := s.fetchFeeds(ctx, []string{id})
	if err != nil {
		return sources.Result{}, false, err
	}

	price, ok := feeds[normalizeFeedID(id)]
	if !ok {
		return sources.Result{}, false, nil
	}

	result, err := s.toResult(network, asset, price)
	if err != nil {
		return sources.Result{}, false, err
	}
	return result, true, nil
}

// FetchBatch uses the endpoint's native multi-id query: one round trip for
// all requested keys, unanswered keys omitted.
func (s *PythSource) FetchBatch(ctx context.Context, keys []sources.Key) (map[sources.Key]sources.Result, error) {
	idsByKey := make(map[sources.Key]string, len(keys))
	ids := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))

	for _, key := range keys {
		id := s.SourceID(key.Network, key.Asset)
		if id == "" {
			continue
		}
		idsByKey[key] = normalizeFeedID(id)
		if !seen[normalizeFeedID(id)] {
			seen[normalizeFeedID(id)] = true
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return map[sources.Key]sources.Result{}, nil
	}

	feeds, err := s.fetchFeeds(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[sources.Key]sources.Result, len(idsByKey))
	for key, id := range idsByKey {
		price, ok := feeds[id]
		if !ok {
			continue
		}
		result, err := s.toResult(key.Network, key.Asset, price)
		if err != nil {
			s.Logger().Warn("Skipping malformed feed price", "id", id, "error", err)
			continue
		}
		out[key] = result
	}

	return out, nil
}

// fetchFeeds queries latest_price_feeds for the given ids.
func (s *PythSource) fetchFeeds(ctx context.Context, ids []string) (map[string]pythPrice, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids[]", id)
	}
	endpoint := s.apiURL + "/api/latest_price_feeds?" + q.Encode()

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
		return nil, sources.NewRateLimitFailure(s.Name(), sources.ErrRateLimitExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, sources.NewTransportFailure(s.Name(), fmt.Errorf("%w: %d", sources.ErrUnexpectedStatus, resp.StatusCode))
	}

	var feeds []pythFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return nil, sources.NewParseFailure(s.Name(), err)
	}

	out := make(map[string]pythPrice, len(feeds))
	for _, feed := range feeds {
		out[normalizeFeedID(feed.ID)] = feed.Price
	}
	return out, nil
}

// toResult converts a feed price into a Result. Confidence is derived from
// the reported confidence interval: 1 - conf/price, clamped to [0,1].
func (s *PythSource) toResult(network, asset string, p pythPrice) (sources.Result, error) {
	raw, err := decimal.NewFromString(p.Price)
	if err != nil {
		return sources.Result{}, sources.NewParseFailure(s.Name(), fmt.Errorf("%w: price %q", sources.ErrInvalidResponse, p.Price))
	}
	value := raw.Shift(p.Expo)

	confidence := 0.0
	conf, err := decimal.NewFromString(p.Conf)
	if err == nil && raw.IsPositive() {
		ratio, _ := conf.Div(raw).Float64()
		confidence = 1 - ratio
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
	}

	return sources.Result{
		Network:    strings.ToLower(network),
		Asset:      strings.ToLower(asset),
		Value:      value,
		Confidence: confidence,
		Source:     s.Name(),
		Timestamp:  time.Unix(p.PublishTime, 0),
		Meta: map[string]interface{}{
			"conf_interval": p.Conf,
			"expo":          p.Expo,
		},
	}, nil
}

// Streaming mode

// StartStream connects the websocket feed and subscribes to all configured ids.
func (s *PythSource) StartStream(ctx context.Context) error {
	if s.wsClient == nil {
		return nil
	}
	if err := s.wsClient.ConnectWithRetry(ctx); err != nil {
		return fmt.Errorf("failed to connect feed stream: %w", err)
	}
	return nil
}

// StopStream closes the websocket feed.
func (s *PythSource) StopStream() error {
	if s.wsClient == nil {
		return nil
	}
	return s.wsClient.Close()
}

// streamedPrice returns the last streamed value for an id if it is fresh.
func (s *PythSource) streamedPrice(id string) (pythPrice, bool) {
	if !s.useStream {
		return pythPrice{}, false
	}

	s.latestMu.RLock()
	price, ok := s.latest[normalizeFeedID(id)]
	s.latestMu.RUnlock()
	if !ok {
		return pythPrice{}, false
	}

	if time.Since(time.Unix(price.PublishTime, 0)) > s.staleAfter {
		return pythPrice{}, false
	}
	return price, true
}

func (s *PythSource) handleStreamMessage(message []byte) {
	var msg pythStreamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.Logger().Warn("Failed to unmarshal stream message", "error", err)
		return
	}
	if msg.Type != "price_update" {
		return
	}

	s.latestMu.Lock()
	s.latest[normalizeFeedID(msg.PriceFeed.ID)] = msg.PriceFeed.Price
	s.latestMu.Unlock()
}

func (s *PythSource) handleStreamConnect() {
	ids := make([]string, 0)
	for _, network := range s.Networks() {
		for _, id := range s.AssetsOn(network) {
			ids = append(ids, id)
		}
	}

	sub := map[string]interface{}{
		"type": "subscribe",
		"ids":  ids,
	}
	if err := s.wsClient.SendJSON(sub); err != nil {
		s.Logger().Error("Failed to subscribe to feed stream", "error", err)
	}
}

func (s *PythSource) handleStreamDisconnect(err error) {
	s.Logger().Warn("Feed stream disconnected", "error", err)
}

// normalizeFeedID strips the 0x prefix and lowercases a price feed id so
// config, REST and stream forms all compare equal.
func normalizeFeedID(id string) string {
	return strings.TrimPrefix(strings.ToLower(id), "0x")
}
