package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/vitwit/dns402/types"
	"github.com/vitwit/dns402/utils"
)

type Config struct {
	PrivateKey string `env:"SOLANA_PRIVATE_KEY,required" validate:"required"`
	RPCURL     string `env:"SOLANA_RPC_URL" validate:"omitempty,url"`
	Cluster    string `env:"SOLANA_CLUSTER" envDefault:"mainnet-beta"`
	Commitment string `env:"SOLANA_COMMITMENT" envDefault:"confirmed"`

	// MaxAmount enables auto-pay up to this price. Empty disables it.
	MaxAmount string `env:"DNS402_MAX_AMOUNT" validate:"omitempty,amount"`
	Currency  string `env:"DNS402_CURRENCY" envDefault:"USDC"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
}

func (c *Config) Policy() *types.AutoPayPolicy {
	if c.MaxAmount == "" {
		return nil
	}
	return &types.AutoPayPolicy{
		MaxAmount: decimal.RequireFromString(c.MaxAmount),
		Currency:  strings.ToUpper(c.Currency),
	}
}

func (c *Config) LedgerConfig() *types.Config {
	return &types.Config{
		RPCUrl:     c.RPCURL,
		Cluster:    types.Cluster(c.Cluster),
		PayerKey:   c.PrivateKey,
		Commitment: c.Commitment,
		AutoPay:    c.Policy(),
		LogLevel:   c.LogLevel,
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := utils.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
