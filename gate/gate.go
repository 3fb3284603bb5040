// Package gate is HTTP middleware that admits a request only when it carries
// a verified payment proof or its payer holds a live session.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vitwit/dns402/headers"
	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/session"
	"github.com/vitwit/dns402/types"
	"github.com/vitwit/dns402/verification"
)

const (
	// DefaultReplayWindow is how long a redeemed signature stays unusable.
	DefaultReplayWindow = 24 * time.Hour

	// DefaultHookTimeout bounds one PaymentHook call.
	DefaultHookTimeout = 10 * time.Second

	// DefaultRedeemTimeout bounds one shared verify-and-claim run.
	DefaultRedeemTimeout = 45 * time.Second
)

// Config describes what the gate charges.
type Config struct {
	Wallet   string          `json:"wallet" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency" validate:"required"`
	Network  types.Network   `json:"network,omitempty"`

	// Mint overrides the well-known mint for Currency.
	Mint string `json:"mint,omitempty"`

	// SessionTTL is how long one payment grants access. Zero means
	// types.DefaultSessionTTL.
	SessionTTL time.Duration `json:"sessionTTL,omitempty"`

	Model       types.PaymentModel `json:"model,omitempty"`
	CallbackURL string             `json:"callbackUrl,omitempty"`

	// ExemptPaths are path prefixes served without payment.
	ExemptPaths []string `json:"exemptPaths,omitempty"`

	// ReplayWindow is how long a redeemed signature is remembered.
	ReplayWindow time.Duration `json:"replayWindow,omitempty"`
}

// PaymentHook observes every accepted payment. It runs after the request
// has been admitted; its error is logged and never changes the response.
type PaymentHook func(ctx context.Context, proof types.ProofOfPayment) error

// Gate guards an http.Handler.
type Gate struct {
	cfg      Config
	terms    types.PaymentTerms
	verifier verification.Verifier

	sessions    session.Store
	replays     session.Store
	ownSessions bool
	ownReplays  bool

	hook        PaymentHook
	hookTimeout time.Duration
	hooks       sync.WaitGroup

	redeemTimeout time.Duration

	now     func() time.Time
	logger  logger.Logger
	metrics metrics.Recorder

	group singleflight.Group
}

type Option func(*Gate)

// WithSessionStore keeps payer sessions in s. The caller keeps ownership.
func WithSessionStore(s session.Store) Option {
	return func(g *Gate) {
		g.sessions = s
	}
}

// WithReplayStore records redeemed signatures in s. Share one store between
// gate instances to reject a proof replayed against another instance.
func WithReplayStore(s session.Store) Option {
	return func(g *Gate) {
		g.replays = s
	}
}

func WithPaymentHook(h PaymentHook) Option {
	return func(g *Gate) {
		g.hook = h
	}
}

func WithHookTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.hookTimeout = d
		}
	}
}

// WithRedeemTimeout bounds verifying and claiming one signature. The run is
// detached from the requests waiting on it.
func WithRedeemTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.redeemTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		g.logger = logger.OrNoop(l)
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(g *Gate) {
		g.metrics = metrics.OrNoop(m)
	}
}

// New creates a gate charging per cfg and verifying proofs with verifier.
func New(cfg Config, verifier verification.Verifier, opts ...Option) (*Gate, error) {
	if verifier == nil {
		return nil, types.NewConfigError("verifier is required", nil)
	}
	if strings.TrimSpace(cfg.Wallet) == "" {
		return nil, types.NewConfigError("wallet is required", nil)
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return nil, types.NewConfigError("currency is required", nil)
	}
	if cfg.Price.IsNegative() {
		return nil, types.NewConfigError(fmt.Sprintf("price %s is negative", cfg.Price), nil)
	}
	if cfg.SessionTTL < 0 {
		return nil, types.NewConfigError("session ttl is negative", nil)
	}

	if cfg.Network == "" {
		cfg.Network = types.NetworkSolana
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = types.DefaultSessionTTL
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.Model == "" {
		cfg.Model = types.ModelPerRequest
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	g := &Gate{
		cfg:         cfg,
		verifier:    verifier,
		hookTimeout:   DefaultHookTimeout,
		redeemTimeout: DefaultRedeemTimeout,
		now:           time.Now,
		logger:        logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.sessions == nil {
		g.sessions = session.NewMemoryStore(
			session.WithName("server"),
			session.WithClock(g.now),
			session.WithLogger(g.logger),
			session.WithMetrics(g.metrics),
		)
		g.ownSessions = true
	}
	if g.replays == nil {
		g.replays = session.NewMemoryStore(
			session.WithName("replay"),
			session.WithClock(g.now),
			session.WithLogger(g.logger),
			session.WithMetrics(g.metrics),
		)
		g.ownReplays = true
	}

	g.terms = types.PaymentTerms{
		Version:     types.ProtocolTag,
		Price:       cfg.Price,
		Currency:    cfg.Currency,
		Network:     cfg.Network,
		Wallet:      cfg.Wallet,
		TTLSeconds:  int(cfg.SessionTTL / time.Second),
		Model:       cfg.Model,
		CallbackURL: cfg.CallbackURL,
		Mint:        cfg.Mint,
	}
	return g, nil
}

// Terms returns the terms this gate charges, as they belong in its TXT
// record.
func (g *Gate) Terms() types.PaymentTerms {
	return g.terms
}

// Sessions exposes the payer-keyed session store.
func (g *Gate) Sessions() session.Store {
	return g.sessions
}

// Close waits for running payment hooks and stops the stores the gate
// created.
func (g *Gate) Close() error {
	g.hooks.Wait()

	var errs []error
	if g.ownSessions {
		errs = append(errs, g.sessions.Close())
	}
	if g.ownReplays {
		errs = append(errs, g.replays.Close())
	}
	return errors.Join(errs...)
}

// Handler wraps next.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		signature, payer := headers.ReadProof(r.Header)

		if payer != "" && g.hasSession(ctx, payer) {
			g.metrics.IncCounter(metrics.SessionHit, map[string]string{"side": "server"})
			next.ServeHTTP(w, r)
			return
		}

		if signature == "" {
			g.challenge(w)
			return
		}
		if payer == "" {
			g.reject(w, types.ErrCodeMissingPayer, "proof given without payer address")
			return
		}

		if code := g.redeem(ctx, signature, payer); code != "" {
			g.reject(w, code, rejectionMessage(code))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) exempt(path string) bool {
	for _, prefix := range g.cfg.ExemptPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) hasSession(ctx context.Context, payer string) bool {
	_, err := g.sessions.Get(ctx, payer)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		g.logger.Warn("session lookup failed", map[string]any{"payer": payer, "error": err})
	}
	return err == nil
}

type redemption struct {
	payer string
	code  string
}

// redeem verifies signature for payer and opens a session. It returns ""
// on success or the error code to reject with. Concurrent redemptions of
// one signature share a single verification, which keeps running when the
// request that started it goes away.
func (g *Gate) redeem(ctx context.Context, signature, payer string) string {
	ch := g.group.DoChan(signature, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.redeemTimeout)
		defer cancel()
		return redemption{payer: payer, code: g.verifyAndClaim(runCtx, signature, payer)}, nil
	})

	var res redemption
	select {
	case <-ctx.Done():
		return types.ErrCodeVerificationFailed
	case r := <-ch:
		res = r.Val.(redemption)
	}
	if res.code == "" && res.payer != payer {
		// the same signature presented concurrently under another payer
		g.metrics.IncCounter(metrics.ProofReplayed, map[string]string{"side": "server"})
		return types.ErrCodeProofReplayed
	}
	return res.code
}

func (g *Gate) verifyAndClaim(ctx context.Context, signature, payer string) string {
	if _, err := g.replays.Get(ctx, signature); err == nil {
		g.metrics.IncCounter(metrics.ProofReplayed, map[string]string{"side": "server"})
		g.logger.Info("proof replayed", map[string]any{"signature": signature, "payer": payer})
		return types.ErrCodeProofReplayed
	}

	ok := g.verifier.Verify(ctx, types.VerifyRequest{
		Signature: signature,
		Recipient: g.cfg.Wallet,
		Amount:    g.cfg.Price,
		Currency:  g.cfg.Currency,
		Network:   g.cfg.Network,
		Mint:      g.cfg.Mint,
		Payer:     payer,
	})
	if !ok {
		return types.ErrCodeVerificationFailed
	}

	now := g.now()
	proof := types.ProofOfPayment{Signature: signature, Payer: payer, PaidAt: now}

	claimed, err := g.replays.PutIfAbsent(ctx, signature, types.NewSession(signature, proof, now, g.cfg.ReplayWindow))
	if err != nil {
		g.logger.Error("failed to record redeemed proof", map[string]any{"signature": signature, "error": err})
		return types.ErrCodeVerificationFailed
	}
	if !claimed {
		g.metrics.IncCounter(metrics.ProofReplayed, map[string]string{"side": "server"})
		return types.ErrCodeProofReplayed
	}

	if err := g.sessions.Put(ctx, payer, types.NewSession(payer, proof, now, g.cfg.SessionTTL)); err != nil {
		g.logger.Warn("failed to store session", map[string]any{"payer": payer, "error": err})
	}

	g.logger.Info("payment accepted", map[string]any{
		"signature": signature,
		"payer":     payer,
		"expiresAt": now.Add(g.cfg.SessionTTL).UnixMilli(),
	})
	g.notify(ctx, proof)
	return ""
}

// notify runs the payment hook in the background, detached from the request.
func (g *Gate) notify(ctx context.Context, proof types.ProofOfPayment) {
	if g.hook == nil {
		return
	}

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.hookTimeout)
	g.hooks.Add(1)
	go func() {
		defer g.hooks.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				g.metrics.IncCounter(metrics.HookFailed, map[string]string{"side": "server"})
				g.logger.Error("payment hook panicked", map[string]any{
					"signature": proof.Signature,
					"payer":     proof.Payer,
					"panic":     fmt.Sprint(r),
				})
			}
		}()

		if err := g.hook(hookCtx, proof); err != nil {
			g.metrics.IncCounter(metrics.HookFailed, map[string]string{"side": "server"})
			g.logger.Warn("payment hook failed", map[string]any{
				"signature": proof.Signature,
				"payer":     proof.Payer,
				"error":     err,
			})
		}
	}()
}

func (g *Gate) challenge(w http.ResponseWriter) {
	g.metrics.IncCounter(metrics.ChallengeIssued, map[string]string{"side": "server"})
	if err := headers.WriteChallenge(w, headers.NewChallenge(g.terms)); err != nil {
		g.logger.Debug("failed to write challenge", map[string]any{"error": err})
	}
}

func (g *Gate) reject(w http.ResponseWriter, code, message string) {
	if err := headers.WriteRejection(w, http.StatusForbidden, code, message); err != nil {
		g.logger.Debug("failed to write rejection", map[string]any{"error": err})
	}
}

func rejectionMessage(code string) string {
	switch code {
	case types.ErrCodeProofReplayed:
		return "payment proof has already been redeemed"
	case types.ErrCodeMissingPayer:
		return "proof given without payer address"
	default:
		return "payment could not be verified"
	}
}
