package clients

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/types"
)

var _ oracle.PriceOracle = (*ChainlinkFeed)(nil)

const aggregatorABI = `
[
  {
    "name": "decimals",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "uint8" }]
  },
  {
    "name": "latestRoundData",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [
      { "name": "roundId", "type": "uint80" },
      { "name": "answer", "type": "int256" },
      { "name": "startedAt", "type": "uint256" },
      { "name": "updatedAt", "type": "uint256" },
      { "name": "answeredInRound", "type": "uint80" }
    ]
  }
]
`

// ChainlinkFeed reads prices from an AggregatorV3 contract.
type ChainlinkFeed struct {
	feed *contract

	mu       sync.Mutex
	decimals *uint8
}

func NewChainlinkFeed(address common.Address, caller ethereum.ContractCaller) (*ChainlinkFeed, error) {
	c, err := newContract(address, aggregatorABI, caller)
	if err != nil {
		return nil, err
	}
	return &ChainlinkFeed{feed: c}, nil
}

// Decimals returns the feed precision, cached after the first read.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.decimals != nil {
		return *f.decimals, nil
	}

	out, err := f.feed.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	f.decimals = &d
	return d, nil
}

// LatestPrice implements oracle.PriceOracle. The answer is passed through
// unvalidated; the converter rejects non-positive prices.
func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (*types.ExchangeRate, error) {
	decimals, err := f.Decimals(ctx)
	if err != nil {
		return nil, err
	}

	out, err := f.feed.call(ctx, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("latestRoundData returned %d values", len(out))
	}

	roundID, err := asBig(out[0], "roundId")
	if err != nil {
		return nil, err
	}
	answer, err := asBig(out[1], "answer")
	if err != nil {
		return nil, err
	}
	updatedAt, err := asBig(out[3], "updatedAt")
	if err != nil {
		return nil, err
	}

	return &types.ExchangeRate{
		Price:     new(big.Int).Set(answer),
		Decimals:  decimals,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
		RoundID:   new(big.Int).Set(roundID),
	}, nil
}
