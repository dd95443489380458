package utils

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/vitwit/depay/types"
)

// DefaultBufferPercent is the headroom clients add on top of a quote so a
// price move between quoting and paying does not fail the payment.
const DefaultBufferPercent = 4

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative")
	}

	return dec, nil
}

// ParseAmountWithDecimals parses a human decimal amount into base units.
// Digits beyond the given precision are rejected rather than truncated.
func ParseAmountWithDecimals(amount string, decimals uint8) (*uint256.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "%v", err)
	}

	scaled := dec.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, types.NewError(types.ErrCodeInvalidRequest,
			"amount %s has more than %d decimal places", amount, decimals)
	}

	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, types.NewError(types.ErrCodeAmountOverflow, "amount %s does not fit in 256 bits", amount)
	}
	return out, nil
}

// ParseUSD parses a dollar amount such as "100" or "12.5" into 18-decimal fixed point.
func ParseUSD(amount string) (*uint256.Int, error) {
	return ParseAmountWithDecimals(amount, types.USDDecimals)
}

// FormatAmount renders base units as a human decimal string.
func FormatAmount(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}

// FormatUSD renders an 18-decimal USD amount.
func FormatUSD(amount *uint256.Int) string {
	return FormatAmount(amount, types.USDDecimals)
}

// WithBuffer returns amount plus percent% of it, the increment rounded down.
func WithBuffer(amount *uint256.Int, percent uint64) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	extra, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(percent), uint256.NewInt(100))
	if overflow {
		return nil, types.NewError(types.ErrCodeAmountOverflow, "buffered amount does not fit in 256 bits")
	}
	out, overflow := new(uint256.Int).AddOverflow(amount, extra)
	if overflow {
		return nil, types.NewError(types.ErrCodeAmountOverflow, "buffered amount does not fit in 256 bits")
	}
	return out, nil
}
