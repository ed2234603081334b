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

const openoceanDefaultAPIURL = "https://open-api.openocean.finance/v4"

// OpenOceanQuoter fetches swap quotes from an OpenOcean-style routing API.
type OpenOceanQuoter struct {
	*routerBase
	apiURL string
}

// NewOpenOceanQuoter creates an OpenOcean quoter.
func NewOpenOceanQuoter(config map[string]interface{}) (sources.Quoter, error) {
	base, err := newRouterBase("openocean", config)
	if err != nil {
		return nil, err
	}

	return &OpenOceanQuoter{
		routerBase: base,
		apiURL:     strings.TrimRight(sources.GetStringFromConfig(config, "api_url", openoceanDefaultAPIURL), "/"),
	}, nil
}

// openoceanResponse is the quote endpoint envelope.
type openoceanResponse struct {
	Code int `json:"code"`
	Data struct {
		OutAmount    string          `json:"outAmount"`
		EstimatedGas json.RawMessage `json:"estimatedGas"`
		Path         json.RawMessage `json:"path"`
	} `json:"data"`
}

// Quote asks the router for the best output amount. "No route" is absent,
// not an error.
func (q *OpenOceanQuoter) Quote(ctx context.Context, req sources.QuoteRequest) (sources.Result, bool, error) {
	slug := q.chainSlug(req.Network)
	if slug == "" {
		return sources.Result{}, false, nil
	}

	params := url.Values{}
	params.Set("inTokenAddress", req.FromAsset)
	params.Set("outTokenAddress", req.ToAsset)
	params.Set("amount", req.Amount.String())

	endpoint := fmt.Sprintf("%s/%s/quote?%s", q.apiURL, slug, params.Encode())

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
	if resp.StatusCode != http.StatusOK {
		return sources.Result{}, false, sources.NewTransportFailure(q.Name(), fmt.Errorf("%w: %d", sources.ErrUnexpectedStatus, resp.StatusCode))
	}

	var payload openoceanResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return sources.Result{}, false, sources.NewParseFailure(q.Name(), err)
	}

	if payload.Code != 200 || payload.Data.OutAmount == "" {
		// The router answered but found no route.
		return sources.Result{}, false, nil
	}

	outAmount, err := decimal.NewFromString(payload.Data.OutAmount)
	if err != nil {
		return sources.Result{}, false, sources.NewParseFailure(q.Name(), fmt.Errorf("%w: outAmount %q", sources.ErrInvalidResponse, payload.Data.OutAmount))
	}
	if !outAmount.IsPositive() {
		return sources.Result{}, false, nil
	}

	meta := map[string]interface{}{}
	if len(payload.Data.EstimatedGas) > 0 {
		meta["estimated_gas"] = string(payload.Data.EstimatedGas)
	}
	if len(payload.Data.Path) > 0 {
		meta["route"] = json.RawMessage(payload.Data.Path)
	}

	return sources.Result{
		Network:    strings.ToLower(req.Network),
		Asset:      req.PairID(),
		Value:      outAmount,
		Confidence: q.confidence,
		Source:     q.Name(),
		Timestamp:  time.Now(),
		Meta:       meta,
	}, true, nil
}
