package market

import (
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

func init() {
	// Register all market-data sources
	sources.Register("market.coingecko", NewCoinGeckoSource)
}
