package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/version"
)

const kyberswapDefaultAPIURL = "https://aggregator-api.kyberswap.com"

// KyberSwapQuoter fetches swap quotes from a KyberSwap-style routing API.
type KyberSwapQuoter struct {
	*routerBase
	apiURL string
}

// NewKyberSwapQuoter creates a KyberSwap quoter.
func NewKyberSwapQuoter(config map[string]interface{}) (sources.Quoter, error) {
	base, err := newRouterBase("kyberswap", config)
	if err != nil {
		return nil, err
	}

	return &KyberSwapQuoter{
		routerBase: base,
		apiURL:     strings.TrimRight(sources.GetStringFromConfig(config, "api_url", kyberswapDefaultAPIURL), "/"),
	}, nil
}

// kyberswapResponse is the route endpoint envelope.
type kyberswapResponse struct {
	Code int `json:"code"`
	Data struct {
		RouteSummary struct {
			AmountOut string          `json:"amountOut"`
			Gas       string          `json:"gas"`
			Route     json.RawMessage `json:"route"`
		} `json:"routeSummary"`
	} `json:"data"`
}

// Quote asks the aggregator for its best route. "No route" is absent, not an
// error.
func (q *KyberSwapQuoter) Quote(ctx context.Context, req sources.QuoteRequest) (sources.Result, bool, error) {
	slug := q.chainSlug(req.Network)
	if slug == "" {
		return sources.Result{}, false, nil
	}

	params := url.Values{}
	params.Set("tokenIn", req.FromAsset)
	params.Set("tokenOut", req.ToAsset)
	params.Set("amountIn", req.Amount.String())

	endpoint := fmt.Sprintf("%s/%s/api/v1/routes?%s", q.apiURL, slug, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sources.Result{}, false, sources.NewTransportFailure(q.Name(), err)
	}
	httpReq.Header.Set("User-Agent", version.AgentString())

	resp, err := q.client.Do(httpReq)
	if err != nil {
		return sources.Result{}, false, sources.NewTransportFailure(q.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return sources.Result{}, false, sources.NewRateLimitFailure(q.Name(), sources.ErrRateLimitExceeded)
	}
	if resp.StatusCode == http.StatusNotFound {
		// Kyber answers 404 for unroutable pairs.
		return sources.Result{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return sources.Result{}, false, sources.NewTransportFailure(q.Name(), fmt.Errorf("%w: %d", sources.ErrUnexpectedStatus, resp.StatusCode))
	}

	var payload kyberswapResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return sources.Result{}, false, sources.NewParseFailure(q.Name(), err)
	}

	if payload.Data.RouteSummary.AmountOut == "" {
		return sources.Result{}, false, nil
	}

	amountOut, err := decimal.NewFromString(payload.Data.RouteSummary.AmountOut)
	if err != nil {
		return sources.Result{}, false, sources.NewParseFailure(q.Name(), fmt.Errorf("%w: amountOut %q", sources.ErrInvalidResponse, payload.Data.RouteSummary.AmountOut))
	}
	if !amountOut.IsPositive() {
		return sources.Result{}, false, nil
	}

	meta := map[string]interface{}{}
	if payload.Data.RouteSummary.Gas != "" {
		meta["gas"] = payload.Data.RouteSummary.Gas
	}
	if len(payload.Data.RouteSummary.Route) > 0 {
		meta["route"] = json.RawMessage(payload.Data.RouteSummary.Route)
	}

	return sources.Result{
		Network:    strings.ToLower(req.Network),
		Asset:      req.PairID(),
		Value:      amountOut,
		Confidence: q.confidence,
		Source:     q.Name(),
		Timestamp:  time.Now(),
		Meta:       meta,
	}, true, nil
}
