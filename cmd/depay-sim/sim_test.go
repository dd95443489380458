package main

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/types"
	"github.com/vitwit/depay/utils"
)

func startingBalance() *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(1000), uint256.NewInt(1e18))
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		name     string
		kind     types.AssetKind
		price    int64
		required string
	}{
		{name: "native", kind: types.AssetNative, price: 2000_00000000, required: "50000000000000000"},
		{name: "erc20", kind: types.AssetERC20, price: 15_00000000, required: "6666666666666666667"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rep, err := simulate(context.Background(), simConfig{
				Kind:        tc.kind,
				USD:         "100",
				Price:       big.NewInt(tc.price),
				PriceDec:    8,
				FeeBps:      100,
				BufferPct:   4,
				StartingBal: startingBalance(),
			}, logger.NoopLogger{})
			require.NoError(t, err)

			assert.Equal(t, tc.required, rep.Required.Dec())
			assert.True(t, errors.Is(rep.ReplayErr, types.ErrHashAlreadyUsed))
			require.Len(t, rep.Events, 1)
			assert.Equal(t, rep.Hash, rep.Events[0].Hash)

			paidOut := new(uint256.Int).Add(rep.Withdrawn, rep.TreasuryPaid)
			assert.Equal(t, rep.Required.Dec(), paidOut.Dec())
			assert.False(t, rep.TreasuryPaid.IsZero())

			// the owner pays, receives and runs the treasury, so funds round-trip
			assert.Equal(t, startingBalance().Dec(), rep.OwnerBalanceEnd.Dec())
		})
	}
}

func TestSimulate_NoFeeLeavesTreasuryEmpty(t *testing.T) {
	rep, err := simulate(context.Background(), simConfig{
		Kind:        types.AssetNative,
		USD:         "100",
		Price:       big.NewInt(2000_00000000),
		PriceDec:    8,
		BufferPct:   4,
		StartingBal: startingBalance(),
	}, logger.NoopLogger{})
	require.NoError(t, err)
	assert.True(t, rep.TreasuryPaid.IsZero())
	assert.Equal(t, rep.Required.Dec(), rep.Withdrawn.Dec())
}

func TestOptionsValidation(t *testing.T) {
	valid := options{Asset: "both", USD: "100", EthPrice: "2000", LinkPrice: "15", FeeBps: 100, LogLevel: "info"}
	require.NoError(t, utils.ValidateStruct(valid))
	assert.Equal(t, []types.AssetKind{types.AssetNative, types.AssetERC20}, valid.flows())

	bad := valid
	bad.Asset = "nft"
	assert.True(t, errors.Is(utils.ValidateStruct(bad), types.ErrInvalidRequest))

	bad = valid
	bad.FeeBps = 10001
	assert.True(t, errors.Is(utils.ValidateStruct(bad), types.ErrInvalidRequest))

	bad = valid
	bad.EthPrice = ""
	assert.True(t, errors.Is(utils.ValidateStruct(bad), types.ErrInvalidRequest))
}
