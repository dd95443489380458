package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/ledger"
	"github.com/vitwit/depay/types"
)

var _ Store = (*Memory)(nil)

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	payments *ledger.PaymentLedger
	balances *ledger.Balances
}

func NewMemory() *Memory {
	return &Memory{
		payments: ledger.NewPaymentLedger(),
		balances: ledger.NewBalances(),
	}
}

func (m *Memory) IsSettled(_ context.Context, hash common.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payments.IsSettled(hash), nil
}

// ApplyPayment validates every step before mutating anything.
func (m *Memory) ApplyPayment(_ context.Context, hash common.Hash, credits []types.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.payments.IsSettled(hash) {
		return types.NewError(types.ErrCodeHashAlreadyUsed, "payment hash %s already used", hash.Hex())
	}

	totals, err := sumCredits(credits)
	if err != nil {
		return err
	}
	for owner, amount := range totals {
		if err := m.balances.CanCredit(owner, amount); err != nil {
			return err
		}
	}

	if err := m.payments.MarkSettled(hash); err != nil {
		return err
	}
	for owner, amount := range totals {
		// checked above
		_ = m.balances.Credit(owner, amount)
	}
	return nil
}

func (m *Memory) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances.BalanceOf(owner), nil
}

func (m *Memory) Credit(_ context.Context, owner common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances.Credit(owner, amount)
}

func (m *Memory) DebitAll(_ context.Context, owner common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances.DebitAll(owner)
}

func (m *Memory) Total(_ context.Context) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances.Total(), nil
}

func (m *Memory) Close() error {
	return nil
}
