package clients

import (
	"context"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const erc20ABI = `
[
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]
`

// ERC20Reader reads token metadata and balances.
type ERC20Reader struct {
	token *contract
}

func NewERC20Reader(token common.Address, caller ethereum.ContractCaller) (*ERC20Reader, error) {
	c, err := newContract(token, erc20ABI, caller)
	if err != nil {
		return nil, err
	}
	return &ERC20Reader{token: c}, nil
}

func (e *ERC20Reader) Address() common.Address {
	return e.token.address
}

func (e *ERC20Reader) Decimals(ctx context.Context) (uint8, error) {
	out, err := e.token.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	return d, nil
}

func (e *ERC20Reader) Symbol(ctx context.Context) (string, error) {
	out, err := e.token.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected symbol type %T", out[0])
	}
	return s, nil
}

func (e *ERC20Reader) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return e.uintCall(ctx, "balanceOf", owner)
}

func (e *ERC20Reader) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return e.uintCall(ctx, "allowance", owner, spender)
}

func (e *ERC20Reader) uintCall(ctx context.Context, method string, args ...interface{}) (*uint256.Int, error) {
	out, err := e.token.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	b, err := asBig(out[0], method)
	if err != nil {
		return nil, err
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%s result exceeds 256 bits", method)
	}
	return v, nil
}
