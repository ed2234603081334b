// Package aggregator orchestrates cache lookup, source fan-out, validation
// and deterministic best-result selection.
package aggregator

import (
	"time"
)

// Policy carries the acceptance and caching thresholds applied to every
// result, in both aggregation modes.
type Policy struct {
	MinConfidence float64       // results below this confidence are rejected
	MaxAge        time.Duration // results observed longer ago than this are rejected
	CacheTTL      time.Duration // TTL for cached reference prices
	QuoteCacheTTL time.Duration // TTL for cached quotes; 0 disables quote caching
}

// Outcome classifies what happened to one source during a lookup.
type Outcome string

const (
	// OutcomeOK means the source produced the winning result.
	OutcomeOK Outcome = "ok"
	// OutcomeUnsupported means the source was skipped before any round trip.
	OutcomeUnsupported Outcome = "unsupported"
	// OutcomeNoData means the source answered but had no data for the pair.
	OutcomeNoData Outcome = "no_data"
	// OutcomeTransport means the fetch failed on the network or timed out.
	OutcomeTransport Outcome = "transport"
	// OutcomeParse means the upstream payload was malformed.
	OutcomeParse Outcome = "parse"
	// OutcomeRateLimit means the upstream throttled the request.
	OutcomeRateLimit Outcome = "rate_limit"
	// OutcomeRejected means the result failed validation.
	OutcomeRejected Outcome = "rejected"
	// OutcomeNotTried means an earlier source already won.
	OutcomeNotTried Outcome = "not_tried"
	// OutcomeLost means the result was valid but another source's was better.
	OutcomeLost Outcome = "lost"
)

// Attempt reports what one source contributed to a lookup. Diagnostic
// variants return one Attempt per configured source; assembling them never
// changes selection or caching.
type Attempt struct {
	Source  string        `json:"source"`
	Tried   bool          `json:"tried"`
	Outcome Outcome       `json:"outcome"`
	Err     string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}
