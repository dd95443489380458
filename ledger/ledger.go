// Package ledger holds the in-memory replay ledger and balance accounts
// owned by a settlement engine instance.
package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/types"
)

// PaymentLedger records settled payment hashes. Entries are never removed.
type PaymentLedger struct {
	settled map[common.Hash]bool
}

func NewPaymentLedger() *PaymentLedger {
	return &PaymentLedger{settled: make(map[common.Hash]bool)}
}

// IsSettled reports whether hash has already been accepted.
func (l *PaymentLedger) IsSettled(hash common.Hash) bool {
	return l.settled[hash]
}

// MarkSettled records hash, failing if it was recorded before.
func (l *PaymentLedger) MarkSettled(hash common.Hash) error {
	if l.settled[hash] {
		return types.NewError(types.ErrCodeHashAlreadyUsed, "payment hash %s already used", hash.Hex())
	}
	l.settled[hash] = true
	return nil
}

// Len returns the number of settled hashes.
func (l *PaymentLedger) Len() int {
	return len(l.settled)
}

// Balances tracks withdrawable amounts per owner.
type Balances struct {
	amounts map[common.Address]*uint256.Int
}

func NewBalances() *Balances {
	return &Balances{amounts: make(map[common.Address]*uint256.Int)}
}

// BalanceOf returns a copy of the owner's balance.
func (b *Balances) BalanceOf(owner common.Address) *uint256.Int {
	if v, ok := b.amounts[owner]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// CanCredit checks that crediting amount to owner would not overflow.
func (b *Balances) CanCredit(owner common.Address, amount *uint256.Int) error {
	if _, overflow := new(uint256.Int).AddOverflow(b.BalanceOf(owner), amount); overflow {
		return types.NewError(types.ErrCodeBalanceOverflow, "balance overflow for %s", owner.Hex())
	}
	return nil
}

// Credit increases the owner's balance by amount.
func (b *Balances) Credit(owner common.Address, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(b.BalanceOf(owner), amount)
	if overflow {
		return types.NewError(types.ErrCodeBalanceOverflow, "balance overflow for %s", owner.Hex())
	}
	if sum.IsZero() {
		return nil
	}
	b.amounts[owner] = sum
	return nil
}

// DebitAll zeroes the owner's balance and returns what it held.
func (b *Balances) DebitAll(owner common.Address) (*uint256.Int, error) {
	v, ok := b.amounts[owner]
	if !ok || v.IsZero() {
		return nil, types.NewError(types.ErrCodeNothingToWithdraw, "nothing to withdraw for %s", owner.Hex())
	}
	delete(b.amounts, owner)
	return v, nil
}

// Total sums every balance. The result saturates at the 256-bit maximum.
func (b *Balances) Total() *uint256.Int {
	total := new(uint256.Int)
	for _, v := range b.amounts {
		if _, overflow := total.AddOverflow(total, v); overflow {
			return new(uint256.Int).SetAllOne()
		}
	}
	return total
}
