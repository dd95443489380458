// Package asset moves the settlement asset in and out of engine custody.
package asset

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/types"
)

// Asset is the settlement asset as seen by the engine.
type Asset interface {
	Kind() types.AssetKind
	// Address is the token contract, or the zero address for the native coin.
	Address() common.Address
	Symbol() string
	Decimals() uint8

	// Collect takes amount from payer into custody. attached is the native
	// value sent with the call. The returned refund is the part of attached
	// that was not taken.
	Collect(ctx context.Context, payer common.Address, amount, attached *uint256.Int) (refund *uint256.Int, err error)

	// Release pays amount out of custody to the given address.
	Release(ctx context.Context, to common.Address, amount *uint256.Int) error

	// Custody is the amount currently held by the engine.
	Custody(ctx context.Context) (*uint256.Int, error)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
