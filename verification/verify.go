// Package verification decides whether a claimed payment really happened.
package verification

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/dns402/ledger"
	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/types"
	"github.com/vitwit/dns402/utils"
)

// DefaultTimeout bounds a single verification.
const DefaultTimeout = 30 * time.Second

// DefaultTolerance accepts transfers up to 1% short of the asked amount.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Verifier is the contract the gate verifies proofs through. It answers
// true only for a transfer that satisfies the request.
type Verifier interface {
	Verify(ctx context.Context, req types.VerifyRequest) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, req types.VerifyRequest) bool

func (f VerifierFunc) Verify(ctx context.Context, req types.VerifyRequest) bool {
	return f(ctx, req)
}

// Service verifies Solana transfers through a ledger.TransferQuery.
type Service struct {
	query     ledger.TransferQuery
	cluster   types.Cluster
	timeout   time.Duration
	tolerance decimal.Decimal
	logger    logger.Logger
	metrics   metrics.Recorder
}

var _ Verifier = (*Service)(nil)

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTolerance sets the accepted shortfall as a fraction of the amount,
// between 0 and 1.
func WithTolerance(t decimal.Decimal) Option {
	return func(s *Service) {
		if !t.IsNegative() && t.LessThan(decimal.NewFromInt(1)) {
			s.tolerance = t
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNoop(l) }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = metrics.OrNoop(m) }
}

// NewService creates a verification service for cluster.
func NewService(query ledger.TransferQuery, cluster types.Cluster, opts ...Option) *Service {
	s := &Service{
		query:     query,
		cluster:   cluster,
		timeout:   DefaultTimeout,
		tolerance: DefaultTolerance,
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Tolerance() decimal.Decimal { return s.tolerance }

// Verify reports whether req.Signature is a successful transfer of at least
// req.Amount (less tolerance) to req.Recipient. Any failure, including an
// unreachable ledger, is false.
func (s *Service) Verify(ctx context.Context, req types.VerifyRequest) bool {
	start := time.Now()
	reason := s.verify(ctx, req)
	s.metrics.ObserveLatency(metrics.LatencyVerify, time.Since(start), map[string]string{"side": "server"})

	if reason != "" {
		s.metrics.IncCounter(metrics.VerifyFailed, map[string]string{"side": "server"})
		s.logger.Info("payment rejected", map[string]any{
			"signature": req.Signature,
			"recipient": req.Recipient,
			"reason":    reason,
		})
		return false
	}

	s.metrics.IncCounter(metrics.VerifyOK, map[string]string{"side": "server"})
	s.logger.Debug("payment verified", map[string]any{
		"signature": req.Signature,
		"recipient": req.Recipient,
	})
	return true
}

// verify returns "" on success, otherwise why the payment was rejected.
func (s *Service) verify(ctx context.Context, req types.VerifyRequest) string {
	if err := utils.ValidateStruct(req); err != nil {
		return "invalid request: " + err.Error()
	}
	if !req.Network.IsSolana() {
		return "unsupported network " + req.Network.String()
	}
	if s.query == nil {
		return "no ledger configured"
	}

	asset, err := ledger.ResolveAsset(req.Currency, req.Mint, s.cluster)
	if err != nil {
		return err.Error()
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	transfer, err := s.query.FetchTransfer(verifyCtx, req.Signature, req.Recipient, asset)
	if err != nil {
		return "ledger: " + err.Error()
	}

	switch {
	case transfer.Failed:
		return "transaction failed on chain"
	case !transfer.Received.IsPositive():
		return "recipient was not credited"
	case req.Payer != "" && !transfer.SignedBy(req.Payer):
		return "payer did not sign the transaction"
	}

	minimum := req.Amount.Mul(decimal.NewFromInt(1).Sub(s.tolerance))
	if transfer.Received.LessThan(minimum) {
		return "received " + transfer.Received.String() + " below " + minimum.String()
	}
	return ""
}
