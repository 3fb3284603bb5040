package utils

import (
	"fmt"
	"regexp"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateSolanaAddress checks that address decodes to a 32-byte public key.
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if len(address) < 32 || len(address) > 44 {
		return fmt.Errorf("solana address has invalid length")
	}
	if !base58Pattern.MatchString(address) {
		return fmt.Errorf("solana address must be valid base58")
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid solana address: %w", err)
	}
	return nil
}
