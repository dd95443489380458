package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/depay/types"
)

var (
	_ Asset       = (*Token)(nil)
	_ TokenLedger = (*MemoryToken)(nil)
	_ Approver    = (*MemoryToken)(nil)
)

// TokenLedger is the ERC20 surface the engine needs.
type TokenLedger interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	// TransferFrom moves amount from -> to using spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// Approver is implemented by ledgers that accept allowance changes.
type Approver interface {
	Approve(owner, spender common.Address, amount *uint256.Int)
}

// Token settles in an ERC20 token pulled from the payer's allowance.
type Token struct {
	ledger   TokenLedger
	address  common.Address
	custody  common.Address
	symbol   string
	decimals uint8
}

func NewToken(ledger TokenLedger, address, engine common.Address, symbol string, decimals uint8) *Token {
	return &Token{
		ledger:   ledger,
		address:  address,
		custody:  engine,
		symbol:   symbol,
		decimals: decimals,
	}
}

func (t *Token) Kind() types.AssetKind   { return types.AssetERC20 }
func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// Collect pulls exactly amount. Token payments carry no native value.
func (t *Token) Collect(ctx context.Context, payer common.Address, amount, attached *uint256.Int) (*uint256.Int, error) {
	if !orZero(attached).IsZero() {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "token payments do not accept attached value")
	}
	if payer == t.custody {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "custody account cannot pay")
	}

	allowance, err := t.ledger.Allowance(ctx, payer, t.custody)
	if err != nil {
		return nil, transferErr("allowance", err)
	}
	if allowance.Lt(amount) {
		return nil, types.NewError(types.ErrCodeInsufficientAllowance,
			"allowance %s below required %s", allowance.Dec(), amount.Dec())
	}

	if err := t.ledger.TransferFrom(ctx, t.custody, payer, t.custody, amount); err != nil {
		return nil, transferErr("transferFrom", err)
	}
	return new(uint256.Int), nil
}

// Approve sets owner's allowance for the engine. Read-only ledgers report
// UNSUPPORTED_ASSET.
func (t *Token) Approve(_ context.Context, owner common.Address, amount *uint256.Int) error {
	a, ok := t.ledger.(Approver)
	if !ok {
		return types.NewError(types.ErrCodeUnsupportedAsset, "token ledger does not accept approvals")
	}
	if owner == t.custody {
		return types.NewError(types.ErrCodeInvalidRequest, "custody account cannot approve itself")
	}
	a.Approve(owner, t.custody, amount)
	return nil
}

func (t *Token) Release(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := t.ledger.Transfer(ctx, t.custody, to, amount); err != nil {
		return transferErr("transfer", err)
	}
	return nil
}

func (t *Token) Custody(ctx context.Context) (*uint256.Int, error) {
	return t.ledger.BalanceOf(ctx, t.custody)
}

func transferErr(op string, err error) error {
	if types.IsCode(err, types.ErrCodeTransferFailed) {
		return err
	}
	return &types.DePayError{
		Code:    types.ErrCodeTransferFailed,
		Message: op + ": " + err.Error(),
		Data:    err,
	}
}

// MemoryToken is an in-memory ERC20 ledger.
type MemoryToken struct {
	mu         sync.Mutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	failing    bool
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (m *MemoryToken) Mint(to common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.balanceOf(to)
	m.balances[to] = cur.Add(cur, amount)
}

// Approve sets spender's allowance over owner's tokens.
func (m *MemoryToken) Approve(owner, spender common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	m.allowances[owner][spender] = new(uint256.Int).Set(amount)
}

// FailTransfers makes every transfer return false, like a paused token.
func (m *MemoryToken) FailTransfers(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = fail
}

func (m *MemoryToken) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceOf(owner), nil
}

func (m *MemoryToken) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowance(owner, spender), nil
}

func (m *MemoryToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.allowance(from, spender)
	if allowed.Lt(amount) {
		return types.NewError(types.ErrCodeInsufficientAllowance, "allowance exceeded")
	}
	if err := m.move(from, to, amount); err != nil {
		return err
	}
	if m.allowances[from] != nil {
		m.allowances[from][spender] = allowed.Sub(allowed, amount)
	}
	return nil
}

func (m *MemoryToken) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, amount)
}

func (m *MemoryToken) move(from, to common.Address, amount *uint256.Int) error {
	if m.failing {
		return types.NewError(types.ErrCodeTransferFailed, "token transfer returned false")
	}
	src := m.balanceOf(from)
	if src.Lt(amount) {
		return types.NewError(types.ErrCodeTransferFailed, "transfer amount exceeds balance")
	}
	m.balances[from] = new(uint256.Int).Sub(src, amount)
	dst := m.balanceOf(to)
	if _, overflow := dst.AddOverflow(dst, amount); overflow {
		m.balances[from] = src
		return types.NewError(types.ErrCodeTransferFailed, "balance overflow")
	}
	m.balances[to] = dst
	return nil
}

func (m *MemoryToken) balanceOf(owner common.Address) *uint256.Int {
	if v, ok := m.balances[owner]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

func (m *MemoryToken) allowance(owner, spender common.Address) *uint256.Int {
	if v, ok := m.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}
