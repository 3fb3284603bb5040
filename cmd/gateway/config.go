package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/vitwit/dns402/gate"
	"github.com/vitwit/dns402/types"
	"github.com/vitwit/dns402/utils"
)

const (
	serverReadTimeout     = 15 * time.Second
	serverIdleTimeout     = 60 * time.Second
	serverShutdownTimeout = 10 * time.Second
	redisPingTimeout      = 5 * time.Second
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8402" validate:"gt=0,lt=65536"`
	UpstreamURL string `env:"UPSTREAM_URL,required" validate:"required,url"`

	Wallet            string        `env:"DNS402_WALLET,required" validate:"required,solana_address"`
	Price             string        `env:"DNS402_PRICE" envDefault:"0.01" validate:"required,amount"`
	Currency          string        `env:"DNS402_CURRENCY" envDefault:"USDC" validate:"required"`
	Mint              string        `env:"DNS402_MINT" validate:"omitempty,solana_address"`
	SessionTTLSeconds int           `env:"DNS402_SESSION_TTL" envDefault:"3600" validate:"gt=0"`
	Model             string        `env:"DNS402_MODEL" envDefault:"per-request" validate:"oneof=per-request session subscription"`
	CallbackURL       string        `env:"DNS402_CALLBACK_URL" validate:"omitempty,url"`
	ExemptPaths       []string      `env:"DNS402_EXEMPT_PATHS" envSeparator:","`
	Tolerance         string        `env:"DNS402_TOLERANCE" envDefault:"0.01" validate:"required,amount"`
	ReplayWindow      time.Duration `env:"DNS402_REPLAY_WINDOW" envDefault:"24h"`

	RedisURL string `env:"REDIS_URL"`

	SolanaRPCURL string `env:"SOLANA_RPC_URL" validate:"omitempty,url"`
	Cluster      string `env:"SOLANA_CLUSTER" envDefault:"mainnet-beta"`
	Commitment   string `env:"SOLANA_COMMITMENT" envDefault:"finalized"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// GateConfig converts the environment into gate settings.
func (c *Config) GateConfig() (gate.Config, error) {
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return gate.Config{}, fmt.Errorf("DNS402_PRICE: %w", err)
	}

	var exempt []string
	for _, p := range c.ExemptPaths {
		if p = strings.TrimSpace(p); p != "" {
			exempt = append(exempt, p)
		}
	}

	return gate.Config{
		Wallet:       c.Wallet,
		Price:        price,
		Currency:     c.Currency,
		Network:      types.NetworkSolana,
		Mint:         c.Mint,
		SessionTTL:   c.SessionTTL(),
		Model:        types.ParsePaymentModel(c.Model),
		CallbackURL:  c.CallbackURL,
		ExemptPaths:  exempt,
		ReplayWindow: c.ReplayWindow,
	}, nil
}

// LedgerConfig is the facade configuration for a verify-only gateway.
func (c *Config) LedgerConfig() *types.Config {
	return &types.Config{
		RPCUrl:        c.SolanaRPCURL,
		Cluster:       types.Cluster(c.Cluster),
		Commitment:    c.Commitment,
		LogLevel:      c.LogLevel,
		EnableMetrics: true,
	}
}

func (c *Config) ToleranceValue() decimal.Decimal {
	return decimal.RequireFromString(c.Tolerance)
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
