// Package settlement pays discovered terms on the ledger.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/dns402/ledger"
	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/types"
)

// DefaultTimeout bounds a single payment including confirmation.
const DefaultTimeout = 90 * time.Second

// Settler is what the client orchestrator pays through.
type Settler interface {
	Send(ctx context.Context, terms types.PaymentTerms) (types.ProofOfPayment, error)
}

// Service sends payments through a ledger.Sender.
type Service struct {
	sender  ledger.Sender
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

var _ Settler = (*Service)(nil)

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNoop(l) }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = metrics.OrNoop(m) }
}

// NewService creates a settlement service
func NewService(sender ledger.Sender, opts ...Option) *Service {
	s := &Service{
		sender:  sender,
		timeout: DefaultTimeout,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send pays terms. Every failure is returned as a LEDGER_ERROR.
func (s *Service) Send(ctx context.Context, terms types.PaymentTerms) (types.ProofOfPayment, error) {
	if !terms.Network.IsSolana() {
		return types.ProofOfPayment{}, types.NewLedgerError(
			fmt.Sprintf("unsupported network: %s", terms.Network), nil)
	}
	if s.sender == nil {
		return types.ProofOfPayment{}, types.NewLedgerError("no ledger sender configured", nil)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	proof, err := s.sender.Send(sendCtx, terms)
	s.metrics.ObserveLatency(metrics.LatencySend, time.Since(start), map[string]string{"side": "client"})

	if err != nil {
		s.metrics.IncCounter(metrics.PaymentFailed, map[string]string{"side": "client"})
		s.logger.Warn("payment failed", map[string]any{
			"wallet":   terms.Wallet,
			"price":    terms.Price.String(),
			"currency": terms.Currency,
			"error":    err,
		})
		return types.ProofOfPayment{}, types.NewLedgerError(
			fmt.Sprintf("paying %s %s to %s", terms.Price, terms.Currency, terms.Wallet), err)
	}

	s.metrics.IncCounter(metrics.PaymentSent, map[string]string{"side": "client"})
	s.logger.Info("payment sent", map[string]any{
		"signature": proof.Signature,
		"wallet":    terms.Wallet,
		"price":     terms.Price.String(),
		"currency":  terms.Currency,
	})
	return proof, nil
}
