// Package settlement converts USD amounts into the settlement asset and
// settles payments exactly once per payment hash.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/types"
)

// MaxPriceDecimals bounds the precision accepted from an oracle.
const MaxPriceDecimals = 36

var usdScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(types.USDDecimals), nil)

// RequiredAmount converts a USD amount (18 decimals) into base units of an
// asset with assetDecimals, rounding up:
//
//	ceil(usd * 10^(rate.Decimals+assetDecimals) / (rate.Price * 10^18))
func RequiredAmount(rate *types.ExchangeRate, usd *uint256.Int, assetDecimals uint8) (*uint256.Int, error) {
	if !rate.IsPositive() {
		return nil, types.NewError(types.ErrCodeOraclePriceInvalid, "oracle price must be positive")
	}
	if rate.Decimals > MaxPriceDecimals {
		return nil, types.NewError(types.ErrCodeOraclePriceInvalid,
			"oracle decimals %d exceed %d", rate.Decimals, MaxPriceDecimals)
	}
	if usd == nil || usd.IsZero() {
		return new(uint256.Int), nil
	}

	exp := big.NewInt(int64(rate.Decimals) + int64(assetDecimals))
	num := new(big.Int).Exp(big.NewInt(10), exp, nil)
	num.Mul(num, usd.ToBig())

	den := new(big.Int).Mul(rate.Price, usdScale)

	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}

	out, overflow := uint256.FromBig(q)
	if overflow {
		return nil, types.NewError(types.ErrCodeAmountOverflow,
			"required amount for %s USD does not fit in 256 bits", usd.Dec())
	}
	return out, nil
}

// Converter quotes USD amounts against a live oracle.
type Converter struct {
	oracle   oracle.PriceOracle
	decimals uint8
	timeout  time.Duration
}

// NewConverter creates a converter for an asset with the given decimals.
// A zero timeout leaves oracle reads bounded only by the caller's context.
func NewConverter(o oracle.PriceOracle, assetDecimals uint8, timeout time.Duration) *Converter {
	return &Converter{
		oracle:   o,
		decimals: assetDecimals,
		timeout:  timeout,
	}
}

// Quote reads the latest price and returns the required asset amount with
// the rate it was computed from.
func (c *Converter) Quote(ctx context.Context, usd *uint256.Int) (*uint256.Int, *types.ExchangeRate, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	rate, err := c.oracle.LatestPrice(ctx)
	if err != nil {
		return nil, nil, &types.DePayError{
			Code:    types.ErrCodeOraclePriceInvalid,
			Message: fmt.Sprintf("failed to read oracle price: %v", err),
			Data:    err,
		}
	}

	amount, err := RequiredAmount(rate, usd, c.decimals)
	if err != nil {
		return nil, nil, err
	}
	return amount, rate, nil
}
