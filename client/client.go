// Package client wraps an HTTP client so that a 402 from a dns402 server is
// answered by discovering the server's terms in DNS, paying on the ledger
// and retrying once with proof.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vitwit/dns402/discovery"
	"github.com/vitwit/dns402/headers"
	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/session"
	"github.com/vitwit/dns402/settlement"
	"github.com/vitwit/dns402/types"
)

// DefaultHTTPTimeout applies to the wrapped http.Client unless one is given.
const DefaultHTTPTimeout = 30 * time.Second

// DefaultAcquireTimeout bounds one shared discover-and-pay run. It covers
// discovery plus settlement.DefaultTimeout.
const DefaultAcquireTimeout = 2 * time.Minute

// maxDrain caps how much of a 402 body is read before it is discarded.
const maxDrain = 64 << 10

// Client performs requests and pays for them when asked to.
type Client struct {
	http       *http.Client
	discoverer discovery.Discoverer
	settler    settlement.Settler
	sessions   session.Store
	ownsStore  bool
	policy     *types.AutoPayPolicy
	now        func() time.Time

	acquireTimeout time.Duration

	logger  logger.Logger
	metrics metrics.Recorder

	group singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithDiscoverer replaces the system DNS resolver.
func WithDiscoverer(d discovery.Discoverer) Option {
	return func(c *Client) {
		c.discoverer = d
	}
}

// WithSessionStore uses s instead of a private in-memory store. The caller
// keeps ownership and Close leaves s open.
func WithSessionStore(s session.Store) Option {
	return func(c *Client) {
		c.sessions = s
	}
}

// WithAutoPay enables paying on 402 for terms the policy allows. Without it
// Do returns a PAYMENT_REQUIRED error carrying the terms.
func WithAutoPay(policy *types.AutoPayPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithAcquireTimeout bounds a shared discover-and-pay run. The run is
// detached from the callers' contexts, so this is what stops it.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.acquireTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrNoop(l)
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = metrics.OrNoop(m)
	}
}

// New creates a client that pays through settler.
func New(settler settlement.Settler, opts ...Option) *Client {
	c := &Client{
		http:           &http.Client{Timeout: DefaultHTTPTimeout},
		settler:        settler,
		now:            time.Now,
		acquireTimeout: DefaultAcquireTimeout,
		logger:         logger.NoopLogger{},
		metrics:        metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.discoverer == nil {
		c.discoverer = discovery.NewSystemResolver(
			discovery.WithLogger(c.logger),
			discovery.WithMetrics(c.metrics),
		)
	}
	if c.sessions == nil {
		c.sessions = session.NewMemoryStore(
			session.WithName("client"),
			session.WithClock(c.now),
			session.WithLogger(c.logger),
			session.WithMetrics(c.metrics),
		)
		c.ownsStore = true
	}
	return c
}

// Sessions exposes the domain-keyed session cache.
func (c *Client) Sessions() session.Store {
	return c.sessions
}

// Close stops the session sweeper of a store the client created.
func (c *Client) Close() error {
	if c.ownsStore {
		return c.sessions.Close()
	}
	return nil
}

// Get issues a GET to url through Do.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req. With a live session for the host the proof is attached and
// the response is returned as is; a 402 or 403 to it drops the session so the
// next call pays again. Otherwise a 402 triggers discovery, payment and
// exactly one retry, whose response is returned as is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	domain := discovery.NormalizeDomain(req.URL.Host)
	f := &flow{c: c, domain: domain}

	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	if sess, ok := c.liveSession(ctx, domain); ok {
		f.to(StateCached)
		c.metrics.IncCounter(metrics.SessionHit, map[string]string{"side": "client"})
		resp, err := c.send(req, &sess.Proof)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusForbidden {
			c.evict(ctx, domain, resp.StatusCode)
		}
		return resp, nil
	}

	resp, err := c.send(req, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		f.to(StateDone)
		return resp, nil
	}
	drain(resp)

	var sess types.Session
	if c.policy == nil {
		f.to(StateDiscovering)
		terms, err := c.discover(ctx, domain)
		if err != nil {
			return nil, err
		}
		return nil, types.NewPaymentRequiredError(terms)
	}

	sess, err = c.acquire(ctx, f)
	if err != nil {
		return nil, err
	}

	f.to(StateRetrying)
	resp, err = c.send(req, &sess.Proof)
	if err != nil {
		return nil, err
	}
	f.to(StateDone)
	return resp, nil
}

// Pay returns the live session for domain, paying for one if there is none.
// A configured auto-pay policy still bounds what is paid.
func (c *Client) Pay(ctx context.Context, domain string) (types.Session, error) {
	host := discovery.NormalizeDomain(domain)
	if host == "" {
		return types.Session{}, types.NewDiscoveryError(domain, "invalid domain")
	}
	if sess, ok := c.liveSession(ctx, host); ok {
		return sess, nil
	}
	return c.acquire(ctx, &flow{c: c, domain: host})
}

// acquire discovers, checks policy, pays and caches. Concurrent callers for
// one domain share a single payment. The shared run is detached from the
// caller that started it, and each caller stops waiting when its own ctx is
// done.
func (c *Client) acquire(ctx context.Context, f *flow) (types.Session, error) {
	ch := c.group.DoChan(f.domain, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.acquireTimeout)
		defer cancel()
		return c.pay(runCtx, f)
	})

	select {
	case <-ctx.Done():
		return types.Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.Session{}, res.Err
		}
		if res.Shared {
			c.logger.Debug("joined in-flight payment", map[string]any{"domain": f.domain})
		}
		return res.Val.(types.Session), nil
	}
}

func (c *Client) pay(ctx context.Context, f *flow) (types.Session, error) {
	if sess, ok := c.liveSession(ctx, f.domain); ok {
		return sess, nil
	}

	f.to(StateDiscovering)
	terms, err := c.discover(ctx, f.domain)
	if err != nil {
		return types.Session{}, err
	}

	if c.policy != nil && !c.policy.Allows(terms) {
		c.metrics.IncCounter(metrics.PolicyRejected, map[string]string{"side": "client"})
		c.logger.Info("payment refused by policy", map[string]any{
			"domain":   f.domain,
			"price":    terms.Price.String(),
			"currency": terms.Currency,
		})
		return types.Session{}, types.NewPolicyError(terms, *c.policy)
	}

	f.to(StatePaying)
	proof, err := c.settler.Send(ctx, terms)
	if err != nil {
		return types.Session{}, err
	}

	sess := types.NewSession(f.domain, proof, c.now(), terms.SessionTTL())
	if err := c.sessions.Put(ctx, f.domain, sess); err != nil {
		c.logger.Warn("failed to cache session", map[string]any{"domain": f.domain, "error": err})
	}
	return sess, nil
}

// evict drops a cached session the server no longer honours.
func (c *Client) evict(ctx context.Context, domain string, status int) {
	if err := c.sessions.Delete(ctx, domain); err != nil {
		c.logger.Warn("failed to drop session", map[string]any{"domain": domain, "error": err})
		return
	}
	c.logger.Debug("session rejected by server", map[string]any{"domain": domain, "status": status})
}

func (c *Client) discover(ctx context.Context, domain string) (types.PaymentTerms, error) {
	res := c.discoverer.Discover(ctx, domain)
	if !res.Ok() {
		return types.PaymentTerms{}, types.NewDiscoveryError(domain, res.Reason)
	}
	return res.Terms, nil
}

func (c *Client) liveSession(ctx context.Context, domain string) (types.Session, bool) {
	sess, err := c.sessions.Get(ctx, domain)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			c.logger.Warn("session lookup failed", map[string]any{"domain": domain, "error": err})
		}
		return types.Session{}, false
	}
	return sess, true
}

func (c *Client) send(req *http.Request, proof *types.ProofOfPayment) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}
	if proof != nil {
		headers.AttachProof(out.Header, *proof)
	}
	return c.http.Do(out)
}

// replayable returns a copy of req whose body can be sent twice.
func replayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	out.Body, _ = out.GetBody()
	out.ContentLength = int64(len(buf))
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()
}
