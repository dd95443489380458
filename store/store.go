// Package store provides the state stores a settlement engine is built on.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/types"
)

// Store owns the replay ledger and balances of one engine instance.
//
// ApplyPayment must be all-or-nothing: either the hash is recorded and every
// credit applied, or nothing changes.
type Store interface {
	IsSettled(ctx context.Context, hash common.Hash) (bool, error)
	ApplyPayment(ctx context.Context, hash common.Hash, credits []types.Credit) error
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Credit(ctx context.Context, owner common.Address, amount *uint256.Int) error
	DebitAll(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Total(ctx context.Context) (*uint256.Int, error)
	Close() error
}

// sumCredits folds credits by owner so overflow checks see the full increase.
func sumCredits(credits []types.Credit) (map[common.Address]*uint256.Int, error) {
	out := make(map[common.Address]*uint256.Int, len(credits))
	for _, c := range credits {
		if c.Amount == nil || c.Amount.IsZero() {
			continue
		}
		cur, ok := out[c.Owner]
		if !ok {
			out[c.Owner] = new(uint256.Int).Set(c.Amount)
			continue
		}
		if _, overflow := cur.AddOverflow(cur, c.Amount); overflow {
			return nil, types.NewError(types.ErrCodeBalanceOverflow, "balance overflow for %s", c.Owner.Hex())
		}
	}
	return out, nil
}
