package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/dns402/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("solana_address", validateSolanaAddressTag)
	_ = validate.RegisterValidation("amount", validateAmountTag)
}

// ValidateStruct checks v against its validate struct tags.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// ParseConfig parses and validates a facade Config from JSON
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, types.NewConfigError(fmt.Sprintf("failed to parse config: %v", err), err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfig validates a facade Config, including a nested auto-pay
// policy.
func ValidateConfig(config *types.Config) error {
	if config == nil {
		return types.NewConfigError("config is nil", nil)
	}
	if err := validate.Struct(config); err != nil {
		return types.NewConfigError("validation failed", err)
	}
	if config.AutoPay != nil && config.AutoPay.MaxAmount.IsNegative() {
		return types.NewConfigError("auto-pay max amount cannot be negative", nil)
	}
	return nil
}

func validateSolanaAddressTag(fl validator.FieldLevel) bool {
	return ValidateSolanaAddress(fl.Field().String()) == nil
}

func validateAmountTag(fl validator.FieldLevel) bool {
	_, err := ValidateAmount(fl.Field().String())
	return err == nil
}
