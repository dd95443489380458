package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/depay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Validator exposes the shared validator so transports can reuse its cache.
func Validator() *validator.Validate {
	return validate
}

// ValidateStruct runs struct-tag validation and reports failures as INVALID_REQUEST.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return &types.DePayError{
			Code:    types.ErrCodeInvalidRequest,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return nil
}

// ValidateConfig checks an engine configuration.
func ValidateConfig(cfg *types.Config) error {
	if cfg == nil {
		return types.NewError(types.ErrCodeConfigError, "config is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return &types.DePayError{
			Code:    types.ErrCodeConfigError,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	return nil
}
