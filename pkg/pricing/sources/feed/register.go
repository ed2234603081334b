package feed

import (
	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

func init() {
	// Register all fast-feed sources
	sources.Register("feed.pyth", NewPythSource)
}
