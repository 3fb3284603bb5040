package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProtocolTag is the only record version this library understands.
const ProtocolTag = "dns402"

// DefaultSessionTTL applies when a record carries no ttl field.
const DefaultSessionTTL = 3600 * time.Second

// Network represents the ledger a record asks to be paid on
type Network string

const (
	NetworkSolana Network = "solana"
)

func (n Network) String() string {
	return string(n)
}

// IsSolana reports whether payments for this network settle on Solana
func (n Network) IsSolana() bool {
	return n == NetworkSolana
}

// Cluster selects which Solana cluster a ledger client talks to.
type Cluster string

const (
	ClusterMainnet  Cluster = "mainnet-beta"
	ClusterDevnet   Cluster = "devnet"
	ClusterTestnet  Cluster = "testnet"
	ClusterLocalnet Cluster = "localnet"
)

// PaymentModel describes how the owner intends access to be billed.
type PaymentModel string

const (
	ModelPerRequest   PaymentModel = "per-request"
	ModelSession      PaymentModel = "session"
	ModelSubscription PaymentModel = "subscription"
)

// ParsePaymentModel maps a wire value onto a known model. Unknown values
// fall back to per-request.
func ParsePaymentModel(s string) PaymentModel {
	switch PaymentModel(strings.ToLower(strings.TrimSpace(s))) {
	case ModelSession:
		return ModelSession
	case ModelSubscription:
		return ModelSubscription
	default:
		return ModelPerRequest
	}
}

func (m PaymentModel) String() string {
	if m == "" {
		return string(ModelPerRequest)
	}
	return string(m)
}

// PaymentTerms is the decoded content of a _402 TXT record.
type PaymentTerms struct {
	// Version is always ProtocolTag for a decoded record.
	Version string `json:"version"`

	// Price in whole units of Currency (not atomic units).
	Price decimal.Decimal `json:"price"`

	// Currency symbol, upper-cased (e.g. "SOL", "USDC").
	Currency string `json:"currency"`

	// Network the payment settles on, lower-cased.
	Network Network `json:"network"`

	// Wallet is the recipient address.
	Wallet string `json:"wallet"`

	// TTLSeconds is the session lifetime granted per payment. Zero means
	// the field was absent and DefaultSessionTTL applies.
	TTLSeconds int `json:"ttlSeconds,omitempty"`

	Model PaymentModel `json:"model"`

	CallbackURL string `json:"callbackUrl,omitempty"`

	// Mint is the token mint for non-native currencies without a
	// well-known default.
	Mint string `json:"mintAddress,omitempty"`
}

// SessionTTL returns the lifetime of a session bought under these terms.
func (t PaymentTerms) SessionTTL() time.Duration {
	if t.TTLSeconds > 0 {
		return time.Duration(t.TTLSeconds) * time.Second
	}
	return DefaultSessionTTL
}

// Equal reports value equality. Prices are compared numerically.
func (t PaymentTerms) Equal(o PaymentTerms) bool {
	return t.Version == o.Version &&
		t.Price.Equal(o.Price) &&
		t.Currency == o.Currency &&
		t.Network == o.Network &&
		t.Wallet == o.Wallet &&
		t.TTLSeconds == o.TTLSeconds &&
		t.Model.String() == o.Model.String() &&
		t.CallbackURL == o.CallbackURL &&
		t.Mint == o.Mint
}

// ProofOfPayment identifies a finalized transfer made by Payer.
type ProofOfPayment struct {
	Signature string    `json:"signature"`
	Payer     string    `json:"payer"`
	PaidAt    time.Time `json:"paidAt"`
}

// PaidAtMillis returns PaidAt as epoch milliseconds.
func (p ProofOfPayment) PaidAtMillis() int64 {
	return p.PaidAt.UnixMilli()
}

// Session is a time-boxed grant of access. The subject key is the domain on
// the client side and the payer address on the server side.
type Session struct {
	SubjectKey string         `json:"subjectKey"`
	Proof      ProofOfPayment `json:"proof"`
	ExpiresAt  time.Time      `json:"expiresAt"`
}

// NewSession starts a session at now that lasts ttl.
func NewSession(key string, proof ProofOfPayment, now time.Time, ttl time.Duration) Session {
	return Session{
		SubjectKey: key,
		Proof:      proof,
		ExpiresAt:  now.Add(ttl),
	}
}

// Expired reports whether the session is unusable at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ExpiresAtMillis returns ExpiresAt as epoch milliseconds.
func (s Session) ExpiresAtMillis() int64 {
	return s.ExpiresAt.UnixMilli()
}

// VerifyRequest is what a server asks the ledger verifier to confirm.
type VerifyRequest struct {
	Signature string          `json:"signature" validate:"required"`
	Recipient string          `json:"recipient" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency" validate:"required"`
	Network   Network         `json:"network"`

	// Mint overrides the well-known mint for Currency.
	Mint string `json:"mint,omitempty"`

	// Payer, when set, must have signed the transaction.
	Payer string `json:"payer,omitempty"`
}

// AutoPayPolicy bounds what a client pays without asking.
type AutoPayPolicy struct {
	MaxAmount decimal.Decimal `json:"maxAmount"`
	Currency  string          `json:"currency" validate:"required"`
}

// Allows reports whether terms fit inside the policy.
func (p AutoPayPolicy) Allows(t PaymentTerms) bool {
	if !strings.EqualFold(p.Currency, t.Currency) {
		return false
	}
	return !t.Price.GreaterThan(p.MaxAmount)
}
