package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/depay/types"
)

func usd(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func TestPaymentHash_MatchesPackedKeccak(t *testing.T) {
	recipient := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	got := PaymentHash(recipient, usd(100), "Payment for services")
	assert.Equal(t,
		"0x5797f29a10da7d2039fa81795b429937f3c7a4a44cd7e92e585bf33800b16c9d",
		got.Hex())

	assert.NotEqual(t, got, PaymentHash(recipient, usd(100), "Payment for services."))
	assert.NotEqual(t, got, PaymentHash(recipient, usd(101), "Payment for services"))
}

func TestParseAddressAndHash(t *testing.T) {
	addr, err := ParseAddress(" 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 ")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), addr)

	_, err = ParseAddress("0x1234")
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	h, err := ParseHash("0x5797f29a10da7d2039fa81795b429937f3c7a4a44cd7e92e585bf33800b16c9d")
	require.NoError(t, err)
	assert.Equal(t, byte(0x57), h[0])

	_, err = ParseHash("0xabcd")
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))
	_, err = ParseHash("not-hex")
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))
}

func TestParseAmountWithDecimals(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     string
		code     string
	}{
		{name: "whole dollars", amount: "100", decimals: 18, want: "100000000000000000000"},
		{name: "fraction", amount: "12.5", decimals: 6, want: "12500000"},
		{name: "smallest unit", amount: "0.000001", decimals: 6, want: "1"},
		{name: "too precise", amount: "0.0000001", decimals: 6, code: types.ErrCodeInvalidRequest},
		{name: "negative", amount: "-1", decimals: 18, code: types.ErrCodeInvalidRequest},
		{name: "empty", amount: "", decimals: 18, code: types.ErrCodeInvalidRequest},
		{name: "garbage", amount: "ten", decimals: 18, code: types.ErrCodeInvalidRequest},
		{name: "too large", amount: "1" + strings.Repeat("0", 78), decimals: 0, code: types.ErrCodeAmountOverflow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmountWithDecimals(tc.amount, tc.decimals)
			if tc.code != "" {
				assert.Equal(t, tc.code, types.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Dec())
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "100", FormatUSD(usd(100)))
	assert.Equal(t, "0.5", FormatAmount(uint256.NewInt(5e17), 18))
	assert.Equal(t, "0", FormatAmount(nil, 18))
	assert.Equal(t, "1234", FormatAmount(uint256.NewInt(1234), 0))
}

func TestWithBuffer(t *testing.T) {
	got, err := WithBuffer(uint256.NewInt(1000), DefaultBufferPercent)
	require.NoError(t, err)
	assert.Equal(t, uint64(1040), got.Uint64())

	// increment rounds down
	got, err = WithBuffer(uint256.NewInt(99), DefaultBufferPercent)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), got.Uint64())

	_, err = WithBuffer(new(uint256.Int).SetAllOne(), DefaultBufferPercent)
	assert.True(t, errors.Is(err, types.ErrAmountOverflow))
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(&types.Config{TreasuryFeeBps: 10000}))

	err := ValidateConfig(&types.Config{TreasuryFeeBps: 10001})
	assert.True(t, errors.Is(err, types.ErrConfig))

	assert.True(t, errors.Is(ValidateConfig(nil), types.ErrConfig))
}
