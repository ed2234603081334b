// Package api exposes the pricing aggregator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/logging"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/metrics"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/aggregator"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

// Server represents the HTTP API server.
type Server struct {
	addr       string
	aggregator *aggregator.Aggregator
	server     *http.Server
	logger     *logging.Logger
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, agg *aggregator.Aggregator, logger *logging.Logger) *Server {
	return &Server{
		addr:       addr,
		aggregator: agg,
		logger:     logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/price", s.handlePrice)
	mux.HandleFunc("/v1/prices", s.handlePrices)
	mux.HandleFunc("/v1/quote", s.handleQuote)
	mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/v1/cache", s.handleCacheInvalidate)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/health", "200", time.Since(start))
	}()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// priceResponse is the JSON shape for a single resolved price or quote.
type priceResponse struct {
	Found    bool                 `json:"found"`
	Result   *sources.Result      `json:"result,omitempty"`
	Attempts []aggregator.Attempt `json:"attempts,omitempty"`
}

// handlePrice handles GET /v1/price?network=&asset=[&detailed=true].
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/price", status, time.Since(start))
	}()

	if r.Method != http.MethodGet {
		status = "405"
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	network := r.URL.Query().Get("network")
	asset := r.URL.Query().Get("asset")
	if network == "" || asset == "" {
		status = "400"
		http.Error(w, "network and asset are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	resp := priceResponse{}
	if r.URL.Query().Get("detailed") == "true" {
		result, found, attempts := s.aggregator.GetPriceDetailed(ctx, network, asset)
		resp.Found = found
		resp.Attempts = attempts
		if found {
			resp.Result = &result
		}
	} else {
		result, found := s.aggregator.GetPrice(ctx, network, asset)
		resp.Found = found
		if found {
			resp.Result = &result
		}
	}

	if !resp.Found {
		status = "404"
		w.WriteHeader(http.StatusNotFound)
	}
	s.sendJSON(w, resp)
}

// batchRequest is the JSON body for POST /v1/prices.
type batchRequest struct {
	Keys []struct {
		Network string `json:"network"`
		Asset   string `json:"asset"`
	} `json:"keys"`
}

// handlePrices handles POST /v1/prices with a JSON list of keys.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/prices", status, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		status = "405"
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "400"
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Keys) == 0 {
		status = "400"
		http.Error(w, "keys are required", http.StatusBadRequest)
		return
	}

	keys := make([]sources.Key, 0, len(req.Keys))
	for _, k := range req.Keys {
		if k.Network == "" || k.Asset == "" {
			status = "400"
			http.Error(w, "every key needs network and asset", http.StatusBadRequest)
			return
		}
		keys = append(keys, sources.NewKey(k.Network, k.Asset))
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	results := s.aggregator.GetPrices(ctx, keys)

	// Keyed by the canonical "network:asset" string so absent keys are
	// visible to the caller by omission.
	out := make(map[string]sources.Result, len(results))
	for key, result := range results {
		out[key.String()] = result
	}
	s.sendJSON(w, out)
}

// handleQuote handles GET /v1/quote?network=&from=&to=&amount=[&detailed=true].
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/quote", status, time.Since(start))
	}()

	if r.Method != http.MethodGet {
		status = "405"
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	network := q.Get("network")
	from := q.Get("from")
	to := q.Get("to")
	rawAmount := q.Get("amount")
	if network == "" || from == "" || to == "" || rawAmount == "" {
		status = "400"
		http.Error(w, "network, from, to and amount are required", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil || !amount.IsPositive() {
		status = "400"
		http.Error(w, "amount must be a positive number", http.StatusBadRequest)
		return
	}

	req := sources.QuoteRequest{
		Network:   network,
		FromAsset: from,
		ToAsset:   to,
		Amount:    amount,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	resp := priceResponse{}
	if q.Get("detailed") == "true" {
		result, found, attempts := s.aggregator.GetQuoteDetailed(ctx, req)
		resp.Found = found
		resp.Attempts = attempts
		if found {
			resp.Result = &result
		}
	} else {
		result, found := s.aggregator.GetQuote(ctx, req)
		resp.Found = found
		if found {
			resp.Result = &result
		}
	}

	if !resp.Found {
		status = "404"
		w.WriteHeader(http.StatusNotFound)
	}
	s.sendJSON(w, resp)
}

// handleCacheStats handles GET /v1/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/cache/stats", status, time.Since(start))
	}()

	if r.Method != http.MethodGet {
		status = "405"
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.aggregator.CacheStats(r.Context())

	out := map[string]interface{}{
		"size": stats.Size,
	}
	ttls := make(map[string]string, len(stats.RemainingTTL))
	for key, ttl := range stats.RemainingTTL {
		ttls[key] = ttl.String()
	}
	out["remaining_ttl"] = ttls
	s.sendJSON(w, out)
}

// handleCacheInvalidate handles DELETE /v1/cache[?network=&asset=].
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/cache", status, time.Since(start))
	}()

	if r.Method != http.MethodDelete {
		status = "405"
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	network := r.URL.Query().Get("network")
	asset := r.URL.Query().Get("asset")
	switch {
	case network != "" && asset != "":
		s.aggregator.Invalidate(r.Context(), network, asset)
		s.logger.Info("Cache entry invalidated", "network", network, "asset", asset)
	case network == "" && asset == "":
		s.aggregator.InvalidateAll(r.Context())
		s.logger.Info("Cache cleared")
	default:
		status = "400"
		http.Error(w, "network and asset must be given together", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}
