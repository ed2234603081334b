package dex

import (
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

func init() {
	// Register all DEX routing quoters
	sources.RegisterQuoter("dex.openocean", NewOpenOceanQuoter)
	sources.RegisterQuoter("dex.kyberswap", NewKyberSwapQuoter)
}
