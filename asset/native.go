package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/types"
)

var _ Asset = (*Native)(nil)

// Wallets simulates native coin accounts.
type Wallets struct {
	mu        sync.Mutex
	balances  map[common.Address]*uint256.Int
	rejecting map[common.Address]bool
}

func NewWallets() *Wallets {
	return &Wallets{
		balances:  make(map[common.Address]*uint256.Int),
		rejecting: make(map[common.Address]bool),
	}
}

// Fund adds amount to the account.
func (w *Wallets) Fund(owner common.Address, amount *uint256.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := w.balanceOf(owner)
	w.balances[owner] = cur.Add(cur, amount)
}

func (w *Wallets) BalanceOf(owner common.Address) *uint256.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceOf(owner)
}

// Reject makes every transfer into owner fail, like a contract without a
// payable fallback.
func (w *Wallets) Reject(owner common.Address, reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejecting[owner] = reject
}

// Transfer moves amount between accounts.
func (w *Wallets) Transfer(from, to common.Address, amount *uint256.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rejecting[to] {
		return types.NewError(types.ErrCodeTransferFailed, "recipient %s rejected transfer", to.Hex())
	}
	src := w.balanceOf(from)
	if src.Lt(amount) {
		return types.NewError(types.ErrCodeTransferFailed, "insufficient native balance in %s", from.Hex())
	}
	w.balances[from] = new(uint256.Int).Sub(src, amount)
	dst := w.balanceOf(to)
	if _, overflow := dst.AddOverflow(dst, amount); overflow {
		w.balances[from] = src
		return types.NewError(types.ErrCodeTransferFailed, "native balance overflow in %s", to.Hex())
	}
	w.balances[to] = dst
	return nil
}

func (w *Wallets) balanceOf(owner common.Address) *uint256.Int {
	if v, ok := w.balances[owner]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// Native settles in the chain's native coin, paid as value attached to the call.
type Native struct {
	wallets  *Wallets
	custody  common.Address
	symbol   string
	decimals uint8
}

// NewNative creates a native asset whose custody account is engine.
func NewNative(wallets *Wallets, engine common.Address, symbol string, decimals uint8) *Native {
	return &Native{
		wallets:  wallets,
		custody:  engine,
		symbol:   symbol,
		decimals: decimals,
	}
}

func (n *Native) Kind() types.AssetKind   { return types.AssetNative }
func (n *Native) Address() common.Address { return types.NativeAsset }
func (n *Native) Symbol() string          { return n.symbol }
func (n *Native) Decimals() uint8         { return n.decimals }

// Collect keeps exactly amount of the attached value; the rest stays with the payer.
func (n *Native) Collect(_ context.Context, payer common.Address, amount, attached *uint256.Int) (*uint256.Int, error) {
	if payer == n.custody {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "custody account cannot pay")
	}
	attached = orZero(attached)
	if attached.Lt(amount) {
		return nil, types.NewError(types.ErrCodeInsufficientPayment,
			"attached value %s below required %s", attached.Dec(), amount.Dec())
	}
	if n.wallets.BalanceOf(payer).Lt(attached) {
		return nil, types.NewError(types.ErrCodeInsufficientPayment,
			"payer %s cannot cover attached value %s", payer.Hex(), attached.Dec())
	}
	if err := n.wallets.Transfer(payer, n.custody, amount); err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(attached, amount), nil
}

func (n *Native) Release(_ context.Context, to common.Address, amount *uint256.Int) error {
	return n.wallets.Transfer(n.custody, to, amount)
}

func (n *Native) Custody(_ context.Context) (*uint256.Int, error) {
	return n.wallets.BalanceOf(n.custody), nil
}
