// Package clients provides read-only go-ethereum adapters for the contracts
// the settlement engine depends on: price aggregators and ERC20 tokens.
package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	return client, nil
}

// contract binds a parsed ABI to an address over an eth_call backend.
type contract struct {
	address common.Address
	abi     abi.ABI
	caller  ethereum.ContractCaller
}

func newContract(address common.Address, abiJSON string, caller ethereum.ContractCaller) (*contract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &contract{address: address, abi: parsed, caller: caller}, nil
}

// call performs an eth_call at the latest block and unpacks the outputs.
func (c *contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	callData, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: callData,
	}

	out, err := c.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, c.address.Hex(), err)
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func asBig(v interface{}, field string) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s type %T", field, v)
	}
	return b, nil
}
