package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

const (
	chainlinkDefaultTimeout    = 10 * time.Second
	chainlinkDefaultConfidence = 0.99
)

// Chainlink aggregator ABI (latestRoundData and decimals only).
const feedABIJSON = `[{
	"constant": true,
	"inputs": [],
	"name": "latestRoundData",
	"outputs": [
		{"internalType": "uint80", "name": "roundId", "type": "uint80"},
		{"internalType": "int256", "name": "answer", "type": "int256"},
		{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
		{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
		{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
	],
	"stateMutability": "view",
	"type": "function"
}, {
	"constant": true,
	"inputs": [],
	"name": "decimals",
	"outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
	"stateMutability": "view",
	"type": "function"
}]`

// ChainlinkSource reads Chainlink-style price feeds via JSON-RPC.
// Feed addresses are configured per network; feed decimals are looked up once
// per feed and memoized (private per-source state, invisible to the core).
type ChainlinkSource struct {
	*sources.BaseSource
	clients    map[string]*ethclient.Client // network -> RPC client
	timeout    time.Duration
	confidence float64
	feedABI    abi.ABI

	decimalsMu sync.Mutex
	decimals   map[common.Address]int32
}

// NewChainlinkSource creates a Chainlink feed source.
//
// Config:
//
//	rpc_urls:   map of network -> JSON-RPC endpoint
//	networks:   map of network -> asset -> feed contract address
//	confidence: static confidence assigned to feed answers (default 0.99)
//	timeout:    per-call timeout (default 10s)
func NewChainlinkSource(config map[string]interface{}) (sources.Source, error) {
	assets, err := sources.ParseNetworkAssets(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse networks: %w", err)
	}

	rpcRaw, ok := config["rpc_urls"].(map[string]interface{})
	if !ok || len(rpcRaw) == 0 {
		return nil, fmt.Errorf("%w", ErrRPCURLsRequired)
	}

	clients := make(map[string]*ethclient.Client, len(rpcRaw))
	for network, urlRaw := range rpcRaw {
		url, ok := urlRaw.(string)
		if !ok || url == "" {
			return nil, fmt.Errorf("%w: network %s", ErrRPCURLsRequired, network)
		}
		// Dial is lazy for HTTP endpoints; no round trip happens here.
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s RPC: %w", network, err)
		}
		clients[strings.ToLower(network)] = client
	}

	// Every configured network needs an RPC endpoint.
	for network := range assets {
		if _, ok := clients[strings.ToLower(network)]; !ok {
			return nil, fmt.Errorf("%w: network %s", ErrRPCURLsRequired, network)
		}
	}

	feedABI, err := abi.JSON(strings.NewReader(feedABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed ABI: %w", err)
	}

	logger := sources.GetLoggerFromConfig(config)
	name := sources.GetStringFromConfig(config, "name", "chainlink")
	base := sources.NewBaseSource(name, sources.SourceTypeOnchain, sources.GetPriorityFromConfig(config), assets, logger)

	return &ChainlinkSource{
		BaseSource: base,
		clients:    clients,
		timeout:    sources.GetDurationFromConfig(config, "timeout", chainlinkDefaultTimeout),
		confidence: sources.GetFloatFromConfig(config, "confidence", chainlinkDefaultConfidence),
		feedABI:    feedABI,
		decimals:   make(map[common.Address]int32),
	}, nil
}

// FetchOne reads latestRoundData from the feed mapped to (network, asset).
func (s *ChainlinkSource) FetchOne(ctx context.Context, network, asset string) (sources.Result, bool, error) {
	feedAddr := s.SourceID(network, asset)
	if feedAddr == "" {
		return sources.Result{}, false, nil
	}

	client, ok := s.clients[strings.ToLower(network)]
	if !ok {
		return sources.Result{}, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addr := common.HexToAddress(feedAddr)

	dec, err := s.feedDecimals(ctx, client, addr)
	if err != nil {
		return sources.Result{}, false, err
	}

	round, err := s.latestRoundData(ctx, client, addr)
	if err != nil {
		return sources.Result{}, false, err
	}

	// Feeds report updatedAt == 0 before the first round completes.
	if round.UpdatedAt.Sign() == 0 {
		return sources.Result{}, false, nil
	}

	result := sources.Result{
		Network:    strings.ToLower(network),
		Asset:      strings.ToLower(asset),
		Value:      decimal.NewFromBigInt(round.Answer, -dec),
		Confidence: s.confidence,
		Source:     s.Name(),
		Timestamp:  time.Unix(round.UpdatedAt.Int64(), 0),
		Meta: map[string]interface{}{
			"feed":     feedAddr,
			"round_id": round.RoundId.String(),
		},
	}

	return result, true, nil
}

// FetchBatch has no native batch endpoint; it loops FetchOne.
func (s *ChainlinkSource) FetchBatch(ctx context.Context, keys []sources.Key) (map[sources.Key]sources.Result, error) {
	return sources.EachFetch(ctx, s, keys)
}

// roundData mirrors the latestRoundData return tuple. Field names must match
// the camel-cased ABI output names or UnpackIntoInterface cannot map them.
type roundData struct {
	RoundId         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// latestRoundData calls latestRoundData() on a feed contract.
func (s *ChainlinkSource) latestRoundData(ctx context.Context, client *ethclient.Client, feed common.Address) (*roundData, error) {
	data, err := s.feedABI.Pack("latestRoundData")
	if err != nil {
		return nil, sources.NewParseFailure(s.Name(), err)
	}

	raw, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &feed,
		Data: data,
	}, nil) // nil = latest block
	if err != nil {
		return nil, sources.NewTransportFailure(s.Name(), err)
	}

	var round roundData
	if err := s.feedABI.UnpackIntoInterface(&round, "latestRoundData", raw); err != nil {
		return nil, sources.NewParseFailure(s.Name(), err)
	}

	return &round, nil
}

// feedDecimals returns the feed's decimals, fetching it at most once per feed.
func (s *ChainlinkSource) feedDecimals(ctx context.Context, client *ethclient.Client, feed common.Address) (int32, error) {
	s.decimalsMu.Lock()
	dec, ok := s.decimals[feed]
	s.decimalsMu.Unlock()
	if ok {
		return dec, nil
	}

	data, err := s.feedABI.Pack("decimals")
	if err != nil {
		return 0, sources.NewParseFailure(s.Name(), err)
	}

	raw, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &feed,
		Data: data,
	}, nil)
	if err != nil {
		return 0, sources.NewTransportFailure(s.Name(), err)
	}

	var out uint8
	if err := s.feedABI.UnpackIntoInterface(&out, "decimals", raw); err != nil {
		return 0, sources.NewParseFailure(s.Name(), err)
	}

	dec = int32(out)
	s.decimalsMu.Lock()
	s.decimals[feed] = dec
	s.decimalsMu.Unlock()

	return dec, nil
}
