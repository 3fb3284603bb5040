package types

import "time"

// Config contains global configuration for the dns402 facade
type Config struct {
	// RPCUrl of the Solana node. Empty selects the public endpoint of Cluster.
	RPCUrl  string  `json:"rpcUrl,omitempty" validate:"omitempty,url"`
	Cluster Cluster `json:"cluster" validate:"required,oneof=mainnet-beta devnet testnet localnet"`

	// PayerKey is the base58 private key used to pay. Leave empty for
	// servers that only verify.
	PayerKey string `json:"payerKey,omitempty"`

	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`

	// Commitment the sender waits for before returning a proof.
	Commitment string `json:"commitment,omitempty" validate:"omitempty,oneof=processed confirmed finalized"`

	// AutoPay enables automatic payment on 402 within these bounds.
	AutoPay *AutoPayPolicy `json:"autoPay,omitempty"`

	LogLevel      string `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics bool   `json:"enableMetrics,omitempty"`
}
