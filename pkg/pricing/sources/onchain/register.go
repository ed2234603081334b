package onchain

import (
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

func init() {
	// Register all on-chain oracle sources
	sources.Register("onchain.chainlink", NewChainlinkSource)
}
