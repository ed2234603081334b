package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/logging"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/metrics"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/cache"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

// Aggregator owns the source list and the cache and answers price and quote
// lookups. Reference prices use priority fallback (first acceptable answer
// wins); quotes fan out to every eligible quoter and keep the best value.
// Per-source failures never surface to callers; an exhausted lookup is an
// absent result, not an error.
type Aggregator struct {
	sources []sources.Source // ascending priority, name-ordered within a rank
	quoters []sources.Quoter
	cache   cache.Cache
	policy  Policy
	logger  *logging.Logger
	now     func() time.Time
	flight  singleflight.Group
}

// New creates an aggregator over explicit, constructor-injected source and
// quoter lists. The lists are copied and sorted; nothing ambient feeds the
// core afterwards.
func New(srcs []sources.Source, quoters []sources.Quoter, c cache.Cache, policy Policy, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	sortedSources := make([]sources.Source, len(srcs))
	copy(sortedSources, srcs)
	sort.SliceStable(sortedSources, func(i, j int) bool {
		if sortedSources[i].Priority() != sortedSources[j].Priority() {
			return sortedSources[i].Priority() < sortedSources[j].Priority()
		}
		return sortedSources[i].Name() < sortedSources[j].Name()
	})

	sortedQuoters := make([]sources.Quoter, len(quoters))
	copy(sortedQuoters, quoters)
	sort.SliceStable(sortedQuoters, func(i, j int) bool {
		if sortedQuoters[i].Priority() != sortedQuoters[j].Priority() {
			return sortedQuoters[i].Priority() < sortedQuoters[j].Priority()
		}
		return sortedQuoters[i].Name() < sortedQuoters[j].Name()
	})

	return &Aggregator{
		sources: sortedSources,
		quoters: sortedQuoters,
		cache:   c,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

// flightResult carries a lookup outcome through the single-flight group.
type flightResult struct {
	result sources.Result
	found  bool
}

// GetPrice returns the best available reference price for (network, asset),
// or found=false when no source produced an acceptable answer. Concurrent
// lookups for the same cold key coalesce into one fetch.
func (a *Aggregator) GetPrice(ctx context.Context, network, asset string) (sources.Result, bool) {
	key := sources.NewKey(network, asset)

	if result, ok := a.cache.Get(ctx, key); ok {
		metrics.RecordCacheHit("price")
		metrics.RecordLookup("price", "hit")
		return result, true
	}
	metrics.RecordCacheMiss("price")

	v, _, shared := a.flight.Do(key.String(), func() (interface{}, error) {
		// A concurrent caller may have populated the cache while this call
		// waited on the flight lock.
		if result, ok := a.cache.Get(ctx, key); ok {
			return flightResult{result: result, found: true}, nil
		}
		result, found := a.lookupPrice(ctx, key, nil)
		return flightResult{result: result, found: found}, nil
	})
	if shared {
		metrics.RecordSingleflightShared()
	}

	fr := v.(flightResult)
	if fr.found {
		metrics.RecordLookup("price", "ok")
	} else {
		metrics.RecordLookup("price", "none")
	}
	return fr.result, fr.found
}

// GetPriceDetailed behaves exactly like GetPrice but additionally reports,
// per configured source, whether it was tried and why it contributed
// nothing. It runs outside the single-flight group so the report describes
// this very call.
func (a *Aggregator) GetPriceDetailed(ctx context.Context, network, asset string) (sources.Result, bool, []Attempt) {
	key := sources.NewKey(network, asset)

	if result, ok := a.cache.Get(ctx, key); ok {
		metrics.RecordCacheHit("price")
		metrics.RecordLookup("price", "hit")
		attempts := make([]Attempt, 0, len(a.sources))
		for _, s := range a.sources {
			attempts = append(attempts, Attempt{Source: s.Name(), Tried: false, Outcome: OutcomeNotTried})
		}
		return result, true, attempts
	}
	metrics.RecordCacheMiss("price")

	attempts := make([]Attempt, 0, len(a.sources))
	result, found := a.lookupPrice(ctx, key, &attempts)
	if found {
		metrics.RecordLookup("price", "ok")
	} else {
		metrics.RecordLookup("price", "none")
	}
	return result, found, attempts
}

// lookupPrice is the sequential priority-fallback core. The first result
// that passes validation wins and is cached; every failure is classified,
// logged, and skipped. When attempts is non-nil the remaining sources are
// still listed, untried, so the diagnostic report covers the full roster.
func (a *Aggregator) lookupPrice(ctx context.Context, key sources.Key, attempts *[]Attempt) (sources.Result, bool) {
	record := func(att Attempt) {
		if attempts != nil {
			*attempts = append(*attempts, att)
		}
	}

	for i, s := range a.sources {
		if skip, att := a.skipSource(ctx, s, key); skip {
			record(att)
			continue
		}

		start := a.now()
		result, found, err := s.FetchOne(ctx, key.Network, key.Asset)
		elapsed := a.now().Sub(start)

		if err != nil {
			kind := sources.ClassifyFailure(err)
			a.logger.Warn("Source fetch failed",
				"source", s.Name(),
				"key", key.String(),
				"kind", string(kind),
				"error", err.Error())
			metrics.RecordSourceAttempt(s.Name(), string(kind), elapsed)
			record(Attempt{Source: s.Name(), Tried: true, Outcome: Outcome(kind), Err: err.Error(), Elapsed: elapsed})
			continue
		}

		if !found {
			metrics.RecordSourceAttempt(s.Name(), string(OutcomeNoData), elapsed)
			record(Attempt{Source: s.Name(), Tried: true, Outcome: OutcomeNoData, Elapsed: elapsed})
			continue
		}

		if verr := Validate(result, a.policy, a.now()); verr != nil {
			a.logger.Debug("Result rejected",
				"source", s.Name(),
				"key", key.String(),
				"reason", verr.Error())
			metrics.RecordValidationRejection(s.Name(), rejectReason(verr))
			metrics.RecordSourceAttempt(s.Name(), string(OutcomeRejected), elapsed)
			record(Attempt{Source: s.Name(), Tried: true, Outcome: OutcomeRejected, Err: verr.Error(), Elapsed: elapsed})
			continue
		}

		metrics.RecordSourceAttempt(s.Name(), string(OutcomeOK), elapsed)
		record(Attempt{Source: s.Name(), Tried: true, Outcome: OutcomeOK, Elapsed: elapsed})
		for _, rest := range a.sources[i+1:] {
			record(Attempt{Source: rest.Name(), Tried: false, Outcome: OutcomeNotTried})
		}

		a.cache.Put(ctx, key, result, a.policy.CacheTTL)
		return result, true
	}

	return sources.Result{}, false
}

// skipSource applies the cheap coverage checks ahead of any round trip. A
// failing support probe counts as unsupported, not as a fetch failure.
func (a *Aggregator) skipSource(ctx context.Context, s sources.Source, key sources.Key) (bool, Attempt) {
	if !s.SupportsNetwork(key.Network) {
		return true, Attempt{Source: s.Name(), Tried: false, Outcome: OutcomeUnsupported}
	}

	ok, err := s.SupportsAsset(ctx, key.Network, key.Asset)
	if err != nil {
		a.logger.Warn("Support check failed",
			"source", s.Name(),
			"key", key.String(),
			"error", err.Error())
		return true, Attempt{Source: s.Name(), Tried: false, Outcome: OutcomeUnsupported, Err: err.Error()}
	}
	if !ok {
		return true, Attempt{Source: s.Name(), Tried: false, Outcome: OutcomeUnsupported}
	}

	return false, Attempt{}
}

// GetPrices resolves a batch of keys in one pass. Cached entries are served
// directly; the cold remainder goes to each source's batch fetch in priority
// order, so a single round trip can fill many keys. Keys nobody answered are
// simply absent from the returned map.
func (a *Aggregator) GetPrices(ctx context.Context, keys []sources.Key) map[sources.Key]sources.Result {
	results := make(map[sources.Key]sources.Result, len(keys))

	var missing []sources.Key
	seen := make(map[sources.Key]struct{}, len(keys))
	for _, raw := range keys {
		key := sources.NewKey(raw.Network, raw.Asset)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if result, ok := a.cache.Get(ctx, key); ok {
			metrics.RecordCacheHit("batch")
			results[key] = result
			continue
		}
		metrics.RecordCacheMiss("batch")
		missing = append(missing, key)
	}

	for _, s := range a.sources {
		if len(missing) == 0 {
			break
		}

		var eligible []sources.Key
		for _, key := range missing {
			if skip, _ := a.skipSource(ctx, s, key); !skip {
				eligible = append(eligible, key)
			}
		}
		if len(eligible) == 0 {
			continue
		}

		start := a.now()
		fetched, err := s.FetchBatch(ctx, eligible)
		elapsed := a.now().Sub(start)
		if err != nil {
			kind := sources.ClassifyFailure(err)
			a.logger.Warn("Batch fetch failed",
				"source", s.Name(),
				"keys", len(eligible),
				"kind", string(kind),
				"error", err.Error())
			metrics.RecordSourceAttempt(s.Name(), string(kind), elapsed)
			continue
		}
		metrics.RecordSourceAttempt(s.Name(), string(OutcomeOK), elapsed)

		var still []sources.Key
		for _, key := range missing {
			result, ok := fetched[key]
			if !ok {
				still = append(still, key)
				continue
			}
			if verr := Validate(result, a.policy, a.now()); verr != nil {
				metrics.RecordValidationRejection(s.Name(), rejectReason(verr))
				still = append(still, key)
				continue
			}
			a.cache.Put(ctx, key, result, a.policy.CacheTTL)
			results[key] = result
		}
		missing = still
	}

	if len(missing) == 0 {
		metrics.RecordLookup("batch", "ok")
	} else {
		metrics.RecordLookup("batch", "partial")
	}
	return results
}

// quoteOutcome pairs one quoter's answer with its identity for selection.
type quoteOutcome struct {
	quoter  sources.Quoter
	result  sources.Result
	found   bool
	attempt Attempt
}

// GetQuote asks every eligible quoter for (req) concurrently and returns the
// quote with the highest output value, or found=false when nobody answered.
// Ties break toward the lower-priority-number quoter, then the
// lexicographically smaller name, so repeated calls pick the same winner.
func (a *Aggregator) GetQuote(ctx context.Context, req sources.QuoteRequest) (sources.Result, bool) {
	result, found, _ := a.getQuote(ctx, req, false)
	return result, found
}

// GetQuoteDetailed is GetQuote plus the per-quoter attempt report.
func (a *Aggregator) GetQuoteDetailed(ctx context.Context, req sources.QuoteRequest) (sources.Result, bool, []Attempt) {
	return a.getQuote(ctx, req, true)
}

func (a *Aggregator) getQuote(ctx context.Context, req sources.QuoteRequest, detailed bool) (sources.Result, bool, []Attempt) {
	key := req.Key()

	if a.policy.QuoteCacheTTL > 0 {
		if result, ok := a.cache.Get(ctx, key); ok {
			metrics.RecordCacheHit("quote")
			metrics.RecordLookup("quote", "hit")
			var attempts []Attempt
			if detailed {
				for _, q := range a.quoters {
					attempts = append(attempts, Attempt{Source: q.Name(), Tried: false, Outcome: OutcomeNotTried})
				}
			}
			return result, true, attempts
		}
		metrics.RecordCacheMiss("quote")
	}

	outcomes := make([]quoteOutcome, len(a.quoters))
	var wg sync.WaitGroup
	for i, q := range a.quoters {
		if skip, att := a.skipQuoter(ctx, q, req); skip {
			outcomes[i] = quoteOutcome{quoter: q, attempt: att}
			continue
		}

		wg.Add(1)
		go func(i int, q sources.Quoter) {
			defer wg.Done()
			outcomes[i] = a.askQuoter(ctx, q, req)
		}(i, q)
	}
	wg.Wait()

	// All quoters have finished; nothing races on outcomes past this point.
	winner := -1
	for i := range outcomes {
		if !outcomes[i].found {
			continue
		}
		if winner < 0 || betterQuote(outcomes[i], outcomes[winner]) {
			winner = i
		}
	}

	var attempts []Attempt
	if detailed {
		attempts = make([]Attempt, 0, len(outcomes))
		for i := range outcomes {
			att := outcomes[i].attempt
			if outcomes[i].found && i != winner {
				att.Outcome = OutcomeLost
			}
			attempts = append(attempts, att)
		}
	}

	if winner < 0 {
		metrics.RecordLookup("quote", "none")
		return sources.Result{}, false, attempts
	}

	best := outcomes[winner].result
	if a.policy.QuoteCacheTTL > 0 {
		a.cache.Put(ctx, key, best, a.policy.QuoteCacheTTL)
	}
	metrics.RecordLookup("quote", "ok")
	return best, true, attempts
}

// skipQuoter mirrors skipSource for the quote path.
func (a *Aggregator) skipQuoter(ctx context.Context, q sources.Quoter, req sources.QuoteRequest) (bool, Attempt) {
	if !q.SupportsNetwork(req.Network) {
		return true, Attempt{Source: q.Name(), Tried: false, Outcome: OutcomeUnsupported}
	}

	ok, err := q.SupportsPair(ctx, req)
	if err != nil {
		a.logger.Warn("Pair support check failed",
			"quoter", q.Name(),
			"pair", req.PairID(),
			"error", err.Error())
		return true, Attempt{Source: q.Name(), Tried: false, Outcome: OutcomeUnsupported, Err: err.Error()}
	}
	if !ok {
		return true, Attempt{Source: q.Name(), Tried: false, Outcome: OutcomeUnsupported}
	}

	return false, Attempt{}
}

func (a *Aggregator) askQuoter(ctx context.Context, q sources.Quoter, req sources.QuoteRequest) quoteOutcome {
	start := a.now()
	result, found, err := q.Quote(ctx, req)
	elapsed := a.now().Sub(start)

	switch {
	case err != nil:
		kind := sources.ClassifyFailure(err)
		a.logger.Warn("Quote fetch failed",
			"quoter", q.Name(),
			"pair", req.PairID(),
			"network", req.Network,
			"kind", string(kind),
			"error", err.Error())
		metrics.RecordSourceAttempt(q.Name(), string(kind), elapsed)
		return quoteOutcome{
			quoter:  q,
			attempt: Attempt{Source: q.Name(), Tried: true, Outcome: Outcome(kind), Err: err.Error(), Elapsed: elapsed},
		}

	case !found:
		metrics.RecordSourceAttempt(q.Name(), string(OutcomeNoData), elapsed)
		return quoteOutcome{
			quoter:  q,
			attempt: Attempt{Source: q.Name(), Tried: true, Outcome: OutcomeNoData, Elapsed: elapsed},
		}
	}

	if verr := Validate(result, a.policy, a.now()); verr != nil {
		a.logger.Debug("Quote rejected",
			"quoter", q.Name(),
			"pair", req.PairID(),
			"reason", verr.Error())
		metrics.RecordValidationRejection(q.Name(), rejectReason(verr))
		metrics.RecordSourceAttempt(q.Name(), string(OutcomeRejected), elapsed)
		return quoteOutcome{
			quoter:  q,
			attempt: Attempt{Source: q.Name(), Tried: true, Outcome: OutcomeRejected, Err: verr.Error(), Elapsed: elapsed},
		}
	}

	metrics.RecordSourceAttempt(q.Name(), string(OutcomeOK), elapsed)
	return quoteOutcome{
		quoter:  q,
		result:  result,
		found:   true,
		attempt: Attempt{Source: q.Name(), Tried: true, Outcome: OutcomeOK, Elapsed: elapsed},
	}
}

// betterQuote reports whether candidate beats incumbent: higher value first,
// then the lower priority number, then the smaller name.
func betterQuote(candidate, incumbent quoteOutcome) bool {
	switch candidate.result.Value.Cmp(incumbent.result.Value) {
	case 1:
		return true
	case -1:
		return false
	}
	if candidate.quoter.Priority() != incumbent.quoter.Priority() {
		return candidate.quoter.Priority() < incumbent.quoter.Priority()
	}
	return candidate.quoter.Name() < incumbent.quoter.Name()
}

// Invalidate removes one cached entry.
func (a *Aggregator) Invalidate(ctx context.Context, network, asset string) {
	a.cache.Invalidate(ctx, sources.NewKey(network, asset))
}

// InvalidateAll removes every cached entry.
func (a *Aggregator) InvalidateAll(ctx context.Context) {
	a.cache.InvalidateAll(ctx)
}

// CacheStats reports the live cache contents.
func (a *Aggregator) CacheStats(ctx context.Context) cache.Stats {
	stats := a.cache.Stats(ctx)
	metrics.SetCacheSize(stats.Size)
	return stats
}
