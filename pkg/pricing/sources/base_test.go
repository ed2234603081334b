package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestBase() *BaseSource {
	return NewBaseSource("test", SourceTypeMarket, 2, map[string]map[string]string{
		"Ethereum": {
			"ETH": "ethereum",
			"btc": "bitcoin",
		},
	}, nil)
}

func TestBaseSource_Coverage(t *testing.T) {
	b := newTestBase()
	ctx := context.Background()

	if b.Name() != "test" || b.Priority() != 2 || b.Type() != SourceTypeMarket {
		t.Error("identity not carried through")
	}

	// Construction lowercases both network and asset keys.
	if !b.SupportsNetwork("ethereum") || !b.SupportsNetwork("ETHEREUM") {
		t.Error("expected case-insensitive network coverage")
	}
	if ok, err := b.SupportsAsset(ctx, "ethereum", "Eth"); err != nil || !ok {
		t.Errorf("expected eth covered, ok=%v err=%v", ok, err)
	}
	if ok, _ := b.SupportsAsset(ctx, "ethereum", "doge"); ok {
		t.Error("unexpected coverage for unmapped asset")
	}
	if ok, _ := b.SupportsAsset(ctx, "solana", "eth"); ok {
		t.Error("unexpected coverage for unmapped network")
	}

	if id := b.SourceID("ETHEREUM", "BTC"); id != "bitcoin" {
		t.Errorf("SourceID = %q, want bitcoin", id)
	}
	if id := b.SourceID("ethereum", "doge"); id != "" {
		t.Errorf("expected empty id for unmapped pair, got %q", id)
	}
}

func TestBaseSource_AssetsOnReturnsCopy(t *testing.T) {
	b := newTestBase()

	assets := b.AssetsOn("ethereum")
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}

	assets["eth"] = "tampered"
	if b.SourceID("ethereum", "eth") != "ethereum" {
		t.Error("mutating the returned map must not affect the source")
	}
}

// singleFetcher serves exactly one key and fails on another, for EachFetch.
type singleFetcher struct {
	*BaseSource
	failAsset string
}

func (s *singleFetcher) FetchOne(_ context.Context, network, asset string) (Result, bool, error) {
	if asset == s.failAsset {
		return Result{}, false, NewTransportFailure(s.Name(), errors.New("boom"))
	}
	if s.SourceID(network, asset) == "" {
		return Result{}, false, nil
	}
	return Result{
		Network: network,
		Asset:   asset,
		Value:   decimal.RequireFromString("1"),
		Source:  s.Name(),
	}, true, nil
}

func (s *singleFetcher) FetchBatch(ctx context.Context, keys []Key) (map[Key]Result, error) {
	return EachFetch(ctx, s, keys)
}

func TestEachFetch_SkipsAbsentAndFailed(t *testing.T) {
	s := &singleFetcher{BaseSource: newTestBase(), failAsset: "btc"}

	keys := []Key{
		NewKey("ethereum", "eth"),
		NewKey("ethereum", "btc"),  // fails
		NewKey("ethereum", "doge"), // absent
	}
	results, err := s.FetchBatch(context.Background(), keys)
	if err != nil {
		t.Fatalf("EachFetch failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if _, ok := results[NewKey("ethereum", "eth")]; !ok {
		t.Error("expected eth to be answered")
	}
}

func TestEachFetch_StopsOnCancel(t *testing.T) {
	s := &singleFetcher{BaseSource: newTestBase()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FetchBatch(ctx, []Key{NewKey("ethereum", "eth")})
	if err == nil {
		t.Fatal("expected an error on cancelled context")
	}
	if kind := ClassifyFailure(err); kind != FailureTransport {
		t.Errorf("expected transport failure, got %s", kind)
	}
}
