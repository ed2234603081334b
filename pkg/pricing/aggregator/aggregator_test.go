package aggregator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/metrics"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/cache"
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

// fakeSource is a scriptable source for exercising the fallback loop.
type fakeSource struct {
	name     string
	priority int
	networks map[string]bool
	assets   map[string]bool

	result sources.Result
	found  bool
	err    error

	fetchCalls   int32
	supportCalls int32
	fetchDelay   time.Duration
	supportErr   error
}

func (f *fakeSource) Name() string  { return f.name }
func (f *fakeSource) Priority() int { return f.priority }

func (f *fakeSource) SupportsNetwork(network string) bool {
	if f.networks == nil {
		return true
	}
	return f.networks[network]
}

func (f *fakeSource) SupportsAsset(_ context.Context, _, asset string) (bool, error) {
	atomic.AddInt32(&f.supportCalls, 1)
	if f.supportErr != nil {
		return false, f.supportErr
	}
	if f.assets == nil {
		return true, nil
	}
	return f.assets[asset], nil
}

func (f *fakeSource) FetchOne(ctx context.Context, _, _ string) (sources.Result, bool, error) {
	atomic.AddInt32(&f.fetchCalls, 1)
	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return sources.Result{}, false, sources.NewTransportFailure(f.name, ctx.Err())
		}
	}
	return f.result, f.found, f.err
}

func (f *fakeSource) FetchBatch(ctx context.Context, keys []sources.Key) (map[sources.Key]sources.Result, error) {
	return sources.EachFetch(ctx, f, keys)
}

// fakeQuoter is a scriptable quoter for the fan-out path.
type fakeQuoter struct {
	name     string
	priority int
	networks map[string]bool

	result sources.Result
	found  bool
	err    error

	quoteCalls int32
}

func (f *fakeQuoter) Name() string  { return f.name }
func (f *fakeQuoter) Priority() int { return f.priority }

func (f *fakeQuoter) SupportsNetwork(network string) bool {
	if f.networks == nil {
		return true
	}
	return f.networks[network]
}

func (f *fakeQuoter) SupportsPair(_ context.Context, req sources.QuoteRequest) (bool, error) {
	return req.Amount.IsPositive(), nil
}

func (f *fakeQuoter) Quote(_ context.Context, _ sources.QuoteRequest) (sources.Result, bool, error) {
	atomic.AddInt32(&f.quoteCalls, 1)
	return f.result, f.found, f.err
}

func goodResult(source, value string, ts time.Time) sources.Result {
	return sources.Result{
		Network:    "ethereum",
		Asset:      "eth",
		Value:      decimal.RequireFromString(value),
		Confidence: 0.95,
		Source:     source,
		Timestamp:  ts,
	}
}

func newTestAggregator(t *testing.T, srcs []sources.Source, quoters []sources.Quoter, policy Policy) (*Aggregator, time.Time) {
	t.Helper()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	agg := New(srcs, quoters, cache.NewMemory(), policy, nil)
	agg.now = func() time.Time { return now }
	return agg, now
}

func defaultPolicy() Policy {
	return Policy{
		MinConfidence: 0.5,
		MaxAge:        2 * time.Minute,
		CacheTTL:      time.Minute,
		QuoteCacheTTL: 0,
	}
}

func TestGetPrice_FirstValidWins(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	first := &fakeSource{name: "alpha", priority: 1, result: goodResult("alpha", "2500", now), found: true}
	second := &fakeSource{name: "beta", priority: 2, result: goodResult("beta", "9999", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{second, first}, nil, defaultPolicy())

	result, found := agg.GetPrice(context.Background(), "ethereum", "ETH")
	if !found {
		t.Fatal("expected a result")
	}
	if result.Source != "alpha" {
		t.Errorf("expected priority 1 source to win, got %q", result.Source)
	}
	if atomic.LoadInt32(&second.fetchCalls) != 0 {
		t.Error("lower-priority source must not be fetched once an earlier one succeeded")
	}
}

func TestGetPrice_FallbackOnFailure(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	failing := &fakeSource{name: "alpha", priority: 1, err: sources.NewTransportFailure("alpha", errors.New("connection refused"))}
	backup := &fakeSource{name: "beta", priority: 2, result: goodResult("beta", "2490", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{failing, backup}, nil, defaultPolicy())

	result, found := agg.GetPrice(context.Background(), "ethereum", "eth")
	if !found {
		t.Fatal("expected fallback to produce a result")
	}
	if result.Source != "beta" {
		t.Errorf("expected fallback source, got %q", result.Source)
	}
}

func TestGetPrice_UnsupportedNeverFetched(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	wrongNetwork := &fakeSource{name: "alpha", priority: 1, networks: map[string]bool{"bsc": true}}
	wrongAsset := &fakeSource{name: "beta", priority: 2, assets: map[string]bool{"btc": true}}
	right := &fakeSource{name: "gamma", priority: 3, result: goodResult("gamma", "2500", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{wrongNetwork, wrongAsset, right}, nil, defaultPolicy())

	_, found := agg.GetPrice(context.Background(), "ethereum", "eth")
	if !found {
		t.Fatal("expected a result")
	}
	if atomic.LoadInt32(&wrongNetwork.fetchCalls) != 0 {
		t.Error("source without network coverage must not be fetched")
	}
	if atomic.LoadInt32(&wrongNetwork.supportCalls) != 0 {
		t.Error("asset probe must not run when the network is not covered")
	}
	if atomic.LoadInt32(&wrongAsset.fetchCalls) != 0 {
		t.Error("source without asset coverage must not be fetched")
	}
}

func TestGetPrice_SupportProbeErrorCountsAsSkip(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	flaky := &fakeSource{name: "alpha", priority: 1, supportErr: errors.New("probe failed")}
	backup := &fakeSource{name: "beta", priority: 2, result: goodResult("beta", "2500", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{flaky, backup}, nil, defaultPolicy())

	result, found := agg.GetPrice(context.Background(), "ethereum", "eth")
	if !found || result.Source != "beta" {
		t.Fatalf("expected beta to answer, found=%v source=%q", found, result.Source)
	}
	if atomic.LoadInt32(&flaky.fetchCalls) != 0 {
		t.Error("source with failing support probe must not be fetched")
	}
}

func TestGetPrice_RejectedNeverCached(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	lowConf := goodResult("alpha", "2500", now)
	lowConf.Confidence = 0.2
	stale := goodResult("beta", "2400", now.Add(-10*time.Minute))

	first := &fakeSource{name: "alpha", priority: 1, result: lowConf, found: true}
	second := &fakeSource{name: "beta", priority: 2, result: stale, found: true}

	agg, _ := newTestAggregator(t, []sources.Source{first, second}, nil, defaultPolicy())

	if _, found := agg.GetPrice(context.Background(), "ethereum", "eth"); found {
		t.Fatal("expected no result when every source is rejected")
	}

	// A second lookup must re-fetch; nothing rejected may have been cached.
	agg.GetPrice(context.Background(), "ethereum", "eth")
	if atomic.LoadInt32(&first.fetchCalls) != 2 {
		t.Errorf("expected 2 fetches from alpha, got %d", first.fetchCalls)
	}
}

func TestGetPrice_CacheHitSkipsSources(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{name: "alpha", priority: 1, result: goodResult("alpha", "2500", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{src}, nil, defaultPolicy())

	ctx := context.Background()
	agg.GetPrice(ctx, "ethereum", "ETH")
	result, found := agg.GetPrice(ctx, "Ethereum", "eth")
	if !found {
		t.Fatal("expected cached result")
	}
	if !result.Value.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("unexpected cached value %s", result.Value)
	}
	if atomic.LoadInt32(&src.fetchCalls) != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", src.fetchCalls)
	}
}

func TestGetPrice_AbsenceNotCached(t *testing.T) {
	empty := &fakeSource{name: "alpha", priority: 1, found: false}

	agg, _ := newTestAggregator(t, []sources.Source{empty}, nil, defaultPolicy())

	ctx := context.Background()
	agg.GetPrice(ctx, "ethereum", "eth")
	agg.GetPrice(ctx, "ethereum", "eth")
	if atomic.LoadInt32(&empty.fetchCalls) != 2 {
		t.Errorf("absent outcomes must not be cached, got %d fetches", empty.fetchCalls)
	}
}

func TestGetPriceDetailed_Attempts(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	unsupported := &fakeSource{name: "alpha", priority: 1, networks: map[string]bool{"bsc": true}}
	failing := &fakeSource{name: "beta", priority: 2, err: sources.NewRateLimitFailure("beta", errors.New("429"))}
	winner := &fakeSource{name: "gamma", priority: 3, result: goodResult("gamma", "2500", now), found: true}
	skipped := &fakeSource{name: "delta", priority: 4, result: goodResult("delta", "2400", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{unsupported, failing, winner, skipped}, nil, defaultPolicy())

	result, found, attempts := agg.GetPriceDetailed(context.Background(), "ethereum", "eth")
	if !found || result.Source != "gamma" {
		t.Fatalf("expected gamma to win, found=%v source=%q", found, result.Source)
	}

	want := map[string]Outcome{
		"alpha": OutcomeUnsupported,
		"beta":  OutcomeRateLimit,
		"gamma": OutcomeOK,
		"delta": OutcomeNotTried,
	}
	if len(attempts) != len(want) {
		t.Fatalf("expected %d attempts, got %d", len(want), len(attempts))
	}
	for _, att := range attempts {
		if att.Outcome != want[att.Source] {
			t.Errorf("source %s: outcome %q, want %q", att.Source, att.Outcome, want[att.Source])
		}
	}
	if atomic.LoadInt32(&skipped.fetchCalls) != 0 {
		t.Error("diagnostics must not change which sources are fetched")
	}
}

func TestGetPrice_Singleflight(t *testing.T) {
	slow := &fakeSource{
		name:       "alpha",
		priority:   1,
		result:     goodResult("alpha", "2500", time.Now()),
		found:      true,
		fetchDelay: 50 * time.Millisecond,
	}

	policy := defaultPolicy()
	agg := New([]sources.Source{slow}, nil, cache.NewMemory(), policy, nil)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, found := agg.GetPrice(context.Background(), "ethereum", "eth"); !found {
				t.Error("expected a result")
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&slow.fetchCalls); n != 1 {
		t.Errorf("expected concurrent lookups to coalesce into 1 fetch, got %d", n)
	}
}

func TestGetPrices_Batch(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	eth := goodResult("alpha", "2500", now)
	bnb := sources.Result{
		Network: "bsc", Asset: "bnb",
		Value: decimal.RequireFromString("300"), Confidence: 0.9,
		Source: "beta", Timestamp: now,
	}

	first := &fakeSource{name: "alpha", priority: 1, networks: map[string]bool{"ethereum": true}, result: eth, found: true}
	second := &fakeSource{name: "beta", priority: 2, networks: map[string]bool{"bsc": true}, result: bnb, found: true}

	agg, _ := newTestAggregator(t, []sources.Source{first, second}, nil, defaultPolicy())

	keys := []sources.Key{
		sources.NewKey("ethereum", "eth"),
		sources.NewKey("bsc", "bnb"),
		sources.NewKey("solana", "sol"), // nobody covers this
	}
	results := agg.GetPrices(context.Background(), keys)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if _, ok := results[sources.NewKey("solana", "sol")]; ok {
		t.Error("uncovered key must be absent, not present with zero value")
	}
	if got := results[sources.NewKey("ethereum", "eth")]; got.Source != "alpha" {
		t.Errorf("expected alpha for eth, got %q", got.Source)
	}
}

func TestGetPrices_ServesCachedEntries(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{name: "alpha", priority: 1, result: goodResult("alpha", "2500", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{src}, nil, defaultPolicy())

	ctx := context.Background()
	agg.GetPrice(ctx, "ethereum", "eth")
	calls := atomic.LoadInt32(&src.fetchCalls)

	results := agg.GetPrices(ctx, []sources.Key{sources.NewKey("ethereum", "eth")})
	if len(results) != 1 {
		t.Fatalf("expected cached key to resolve, got %d results", len(results))
	}
	if atomic.LoadInt32(&src.fetchCalls) != calls {
		t.Error("cached keys must not trigger fetches")
	}
}

func TestGetQuote_MaxValueWins(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	quote := func(name, value string) sources.Result {
		return sources.Result{
			Network: "ethereum", Asset: "eth->usdc",
			Value: decimal.RequireFromString(value), Confidence: 0.9,
			Source: name, Timestamp: now,
		}
	}

	low := &fakeQuoter{name: "openocean", priority: 1, result: quote("openocean", "2480"), found: true}
	high := &fakeQuoter{name: "kyberswap", priority: 2, result: quote("kyberswap", "2510"), found: true}
	failing := &fakeQuoter{name: "broken", priority: 3, err: sources.NewTransportFailure("broken", errors.New("timeout"))}

	agg, _ := newTestAggregator(t, nil, []sources.Quoter{low, high, failing}, defaultPolicy())

	req := sources.QuoteRequest{
		Network: "ethereum", FromAsset: "ETH", ToAsset: "USDC",
		Amount: decimal.RequireFromString("1"),
	}
	result, found := agg.GetQuote(context.Background(), req)
	if !found {
		t.Fatal("expected a quote")
	}
	if result.Source != "kyberswap" {
		t.Errorf("expected highest output to win, got %q", result.Source)
	}

	// Every eligible quoter is asked even though one fails.
	if atomic.LoadInt32(&low.quoteCalls) != 1 || atomic.LoadInt32(&high.quoteCalls) != 1 || atomic.LoadInt32(&failing.quoteCalls) != 1 {
		t.Error("expected all eligible quoters to be asked")
	}
}

func TestGetQuote_TieBreaksDeterministic(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	quote := func(name string) sources.Result {
		return sources.Result{
			Network: "ethereum", Asset: "eth->usdc",
			Value: decimal.RequireFromString("2500"), Confidence: 0.9,
			Source: name, Timestamp: now,
		}
	}

	req := sources.QuoteRequest{
		Network: "ethereum", FromAsset: "eth", ToAsset: "usdc",
		Amount: decimal.RequireFromString("1"),
	}

	// Equal values: lower priority number wins.
	a := &fakeQuoter{name: "alpha", priority: 2, result: quote("alpha"), found: true}
	b := &fakeQuoter{name: "beta", priority: 1, result: quote("beta"), found: true}
	agg, _ := newTestAggregator(t, nil, []sources.Quoter{a, b}, defaultPolicy())

	for i := 0; i < 10; i++ {
		result, found := agg.GetQuote(context.Background(), req)
		if !found || result.Source != "beta" {
			t.Fatalf("iteration %d: expected beta (lower priority rank), got %q", i, result.Source)
		}
	}

	// Equal values and priorities: lexicographically smaller name wins.
	c := &fakeQuoter{name: "zeta", priority: 1, result: quote("zeta"), found: true}
	d := &fakeQuoter{name: "alpha", priority: 1, result: quote("alpha"), found: true}
	agg2, _ := newTestAggregator(t, nil, []sources.Quoter{c, d}, defaultPolicy())

	for i := 0; i < 10; i++ {
		result, found := agg2.GetQuote(context.Background(), req)
		if !found || result.Source != "alpha" {
			t.Fatalf("iteration %d: expected alpha (smaller name), got %q", i, result.Source)
		}
	}
}

func TestGetQuote_NoEligibleQuoters(t *testing.T) {
	wrongNetwork := &fakeQuoter{name: "alpha", priority: 1, networks: map[string]bool{"bsc": true}}

	agg, _ := newTestAggregator(t, nil, []sources.Quoter{wrongNetwork}, defaultPolicy())

	req := sources.QuoteRequest{
		Network: "ethereum", FromAsset: "eth", ToAsset: "usdc",
		Amount: decimal.RequireFromString("1"),
	}
	if _, found := agg.GetQuote(context.Background(), req); found {
		t.Fatal("expected no quote")
	}
	if atomic.LoadInt32(&wrongNetwork.quoteCalls) != 0 {
		t.Error("quoter without network coverage must not be asked")
	}
}

func TestGetQuote_CachedWhenTTLSet(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	q := &fakeQuoter{
		name: "alpha", priority: 1, found: true,
		result: sources.Result{
			Network: "ethereum", Asset: "eth->usdc",
			Value: decimal.RequireFromString("2500"), Confidence: 0.9,
			Source: "alpha", Timestamp: now,
		},
	}

	policy := defaultPolicy()
	policy.QuoteCacheTTL = 10 * time.Second
	agg, _ := newTestAggregator(t, nil, []sources.Quoter{q}, policy)

	req := sources.QuoteRequest{
		Network: "ethereum", FromAsset: "eth", ToAsset: "usdc",
		Amount: decimal.RequireFromString("1"),
	}
	otherAmount := req
	otherAmount.Amount = decimal.RequireFromString("2")

	ctx := context.Background()
	agg.GetQuote(ctx, req)
	agg.GetQuote(ctx, req)
	if atomic.LoadInt32(&q.quoteCalls) != 1 {
		t.Errorf("expected repeated request to hit cache, got %d calls", q.quoteCalls)
	}

	// A different amount is a different key.
	agg.GetQuote(ctx, otherAmount)
	if atomic.LoadInt32(&q.quoteCalls) != 2 {
		t.Errorf("expected distinct amount to miss cache, got %d calls", q.quoteCalls)
	}
}

func TestGetQuoteDetailed_LoserMarked(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	quote := func(name, value string) sources.Result {
		return sources.Result{
			Network: "ethereum", Asset: "eth->usdc",
			Value: decimal.RequireFromString(value), Confidence: 0.9,
			Source: name, Timestamp: now,
		}
	}

	winner := &fakeQuoter{name: "alpha", priority: 1, result: quote("alpha", "2510"), found: true}
	loser := &fakeQuoter{name: "beta", priority: 2, result: quote("beta", "2480"), found: true}

	agg, _ := newTestAggregator(t, nil, []sources.Quoter{winner, loser}, defaultPolicy())

	req := sources.QuoteRequest{
		Network: "ethereum", FromAsset: "eth", ToAsset: "usdc",
		Amount: decimal.RequireFromString("1"),
	}
	result, found, attempts := agg.GetQuoteDetailed(context.Background(), req)
	if !found || result.Source != "alpha" {
		t.Fatalf("expected alpha to win, got %q", result.Source)
	}

	outcomes := map[string]Outcome{}
	for _, att := range attempts {
		outcomes[att.Source] = att.Outcome
	}
	if outcomes["alpha"] != OutcomeOK {
		t.Errorf("winner outcome %q, want %q", outcomes["alpha"], OutcomeOK)
	}
	if outcomes["beta"] != OutcomeLost {
		t.Errorf("loser outcome %q, want %q", outcomes["beta"], OutcomeLost)
	}
}

func TestInvalidate(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{name: "alpha", priority: 1, result: goodResult("alpha", "2500", now), found: true}

	agg, _ := newTestAggregator(t, []sources.Source{src}, nil, defaultPolicy())

	ctx := context.Background()
	agg.GetPrice(ctx, "ethereum", "eth")
	agg.Invalidate(ctx, "ethereum", "ETH")
	agg.GetPrice(ctx, "ethereum", "eth")

	if atomic.LoadInt32(&src.fetchCalls) != 2 {
		t.Errorf("expected refetch after invalidation, got %d fetches", src.fetchCalls)
	}

	stats := agg.CacheStats(ctx)
	if stats.Size != 1 {
		t.Errorf("expected 1 cached entry, got %d", stats.Size)
	}

	agg.InvalidateAll(ctx)
	if stats := agg.CacheStats(ctx); stats.Size != 0 {
		t.Errorf("expected empty cache, got %d", stats.Size)
	}
}

func TestGetPriceDetailed_CacheHitCountsAsLookup(t *testing.T) {
	ts := time.Date(2026, 1, 10, 11, 59, 30, 0, time.UTC)
	alpha := &fakeSource{name: "alpha", priority: 1, result: goodResult("alpha", "2500", ts), found: true}
	agg, _ := newTestAggregator(t, []sources.Source{alpha}, nil, Policy{MinConfidence: 0.5, MaxAge: time.Minute, CacheTTL: time.Minute})

	ctx := context.Background()
	if _, found := agg.GetPrice(ctx, "ethereum", "eth"); !found {
		t.Fatal("expected warm-up lookup to succeed")
	}

	hits := testutil.ToFloat64(metrics.LookupsTotal.WithLabelValues("price", "hit"))
	_, found, attempts := agg.GetPriceDetailed(ctx, "ethereum", "eth")
	if !found {
		t.Fatal("expected cached result")
	}
	for _, att := range attempts {
		if att.Tried {
			t.Errorf("source %s should not be tried on a cache hit", att.Source)
		}
	}

	if got := testutil.ToFloat64(metrics.LookupsTotal.WithLabelValues("price", "hit")); got != hits+1 {
		t.Errorf("hit lookups = %v, want %v", got, hits+1)
	}
}
