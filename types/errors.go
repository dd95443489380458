package types

import (
	"errors"
	"fmt"
)

// Error types
type DePayError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *DePayError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Is matches any DePayError carrying the same code.
func (e *DePayError) Is(target error) bool {
	var t *DePayError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeOraclePriceInvalid    = "ORACLE_PRICE_INVALID"
	ErrCodeInsufficientPayment   = "INSUFFICIENT_PAYMENT"
	ErrCodeInsufficientAllowance = "INSUFFICIENT_ALLOWANCE"
	ErrCodeHashAlreadyUsed       = "HASH_ALREADY_USED"
	ErrCodeTransferFailed        = "TRANSFER_FAILED"
	ErrCodeBalanceOverflow       = "BALANCE_OVERFLOW"
	ErrCodeNothingToWithdraw     = "NOTHING_TO_WITHDRAW"
	ErrCodeAmountOverflow        = "AMOUNT_OVERFLOW"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeUnsupportedAsset      = "UNSUPPORTED_ASSET"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeInsolvent             = "INSOLVENT"
	ErrCodeConfigError           = "CONFIG_ERROR"
	ErrCodeStoreError            = "STORE_ERROR"
)

// Sentinels for errors.Is comparisons.
var (
	ErrOraclePriceInvalid    = &DePayError{Code: ErrCodeOraclePriceInvalid}
	ErrInsufficientPayment   = &DePayError{Code: ErrCodeInsufficientPayment}
	ErrInsufficientAllowance = &DePayError{Code: ErrCodeInsufficientAllowance}
	ErrHashAlreadyUsed       = &DePayError{Code: ErrCodeHashAlreadyUsed}
	ErrTransferFailed        = &DePayError{Code: ErrCodeTransferFailed}
	ErrBalanceOverflow       = &DePayError{Code: ErrCodeBalanceOverflow}
	ErrNothingToWithdraw     = &DePayError{Code: ErrCodeNothingToWithdraw}
	ErrAmountOverflow        = &DePayError{Code: ErrCodeAmountOverflow}
	ErrUnauthorized          = &DePayError{Code: ErrCodeUnauthorized}
	ErrUnsupportedAsset      = &DePayError{Code: ErrCodeUnsupportedAsset}
	ErrInvalidRequest        = &DePayError{Code: ErrCodeInvalidRequest}
	ErrInsolvent             = &DePayError{Code: ErrCodeInsolvent}
	ErrConfig                = &DePayError{Code: ErrCodeConfigError}
	ErrStore                 = &DePayError{Code: ErrCodeStoreError}
)

// NewError builds a DePayError with a formatted message.
func NewError(code string, format string, args ...interface{}) *DePayError {
	return &DePayError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode extracts the DePayError code from err, or "" if there is none.
func ErrorCode(err error) string {
	var e *DePayError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
