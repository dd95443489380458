// Package oracle defines the price source consumed by the settlement engine.
package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/vitwit/depay/types"
)

// PriceOracle supplies the current USD price of the settlement asset.
type PriceOracle interface {
	LatestPrice(ctx context.Context) (*types.ExchangeRate, error)
}

// Static is a PriceOracle returning a fixed, replaceable price.
type Static struct {
	mu   sync.RWMutex
	rate types.ExchangeRate
}

// NewStatic creates an oracle reporting price scaled by 10^decimals.
func NewStatic(price *big.Int, decimals uint8) *Static {
	s := &Static{}
	s.Set(price, decimals)
	return s
}

// Set replaces the reported price.
func (s *Static) Set(price *big.Int, decimals uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p *big.Int
	if price != nil {
		p = new(big.Int).Set(price)
	}
	s.rate = types.ExchangeRate{
		Price:     p,
		Decimals:  decimals,
		UpdatedAt: time.Now(),
	}
}

func (s *Static) LatestPrice(_ context.Context) (*types.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate := s.rate
	if rate.Price != nil {
		rate.Price = new(big.Int).Set(rate.Price)
	}
	return &rate, nil
}
