// Package dns402 wires the pieces of the dns402 protocol together: a client
// that pays servers whose terms are published in DNS, and a gate that makes
// a server charge for access.
package dns402

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/dns402/client"
	"github.com/vitwit/dns402/discovery"
	"github.com/vitwit/dns402/gate"
	"github.com/vitwit/dns402/ledger"
	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/settlement"
	"github.com/vitwit/dns402/types"
	"github.com/vitwit/dns402/utils"
	"github.com/vitwit/dns402/verification"
)

// Version information
const (
	Version     = "1.0.0"
	ProtocolTag = types.ProtocolTag
)

const defaultTimeout = 30 * time.Second

// DNS402 is the main struct that provides all dns402 functionality
type DNS402 struct {
	config *types.Config

	ledger     *ledger.SolanaClient
	verifier   *verification.Service
	settler    *settlement.Service
	discoverer discovery.Discoverer

	logger   logger.Logger
	metrics  metrics.Recorder
	registry *prometheus.Registry
	timeout  time.Duration

	verifyOpts []verification.Option

	mu      sync.Mutex
	closers []func() error
}

// New creates a new DNS402 instance with the given configuration
func New(config *types.Config, opts ...Option) (*DNS402, error) {
	if err := utils.ValidateConfig(config); err != nil {
		return nil, err
	}

	d := &DNS402{
		config:  config,
		timeout: defaultTimeout,
	}
	if config.DefaultTimeout > 0 {
		d.timeout = config.DefaultTimeout
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		if config.LogLevel != "" {
			zl, err := logger.NewZapLogger(config.LogLevel)
			if err != nil {
				return nil, types.NewConfigError("failed to build logger", err)
			}
			d.logger = zl
		} else {
			d.logger = logger.NoopLogger{}
		}
	}
	if d.metrics == nil {
		if config.EnableMetrics {
			d.registry = prometheus.NewRegistry()
			rec, err := metrics.NewPrometheusRecorder(d.registry)
			if err != nil {
				return nil, types.NewConfigError("failed to register metrics", err)
			}
			d.metrics = rec
		} else {
			d.metrics = metrics.NoopRecorder{}
		}
	}

	solOpts := []ledger.SolanaOption{ledger.WithCommitment(rpc.CommitmentType(config.Commitment))}
	if config.PayerKey != "" {
		key, err := solana.PrivateKeyFromBase58(config.PayerKey)
		if err != nil {
			return nil, types.NewConfigError("invalid payer key", err)
		}
		solOpts = append(solOpts, ledger.WithPayer(key))
	}

	sol, err := ledger.NewSolanaClient(config.Cluster, config.RPCUrl, solOpts...)
	if err != nil {
		return nil, types.NewConfigError("failed to create solana client", err)
	}
	d.ledger = sol

	d.verifier = verification.NewService(sol, config.Cluster, append([]verification.Option{
		verification.WithTimeout(d.timeout),
		verification.WithLogger(d.logger),
		verification.WithMetrics(d.metrics),
	}, d.verifyOpts...)...)
	d.settler = settlement.NewService(sol,
		settlement.WithLogger(d.logger),
		settlement.WithMetrics(d.metrics),
	)

	return d, nil
}

// NewWithDefaults creates a verify-only instance on mainnet
func NewWithDefaults() (*DNS402, error) {
	return New(&types.Config{
		Cluster:        types.ClusterMainnet,
		DefaultTimeout: defaultTimeout,
		LogLevel:       "info",
	})
}

// Client returns a paying HTTP client. The configured auto-pay policy
// applies unless opts override it.
func (d *DNS402) Client(opts ...client.Option) *client.Client {
	base := []client.Option{
		client.WithLogger(d.logger),
		client.WithMetrics(d.metrics),
		client.WithAutoPay(d.config.AutoPay),
	}
	if d.discoverer != nil {
		base = append(base, client.WithDiscoverer(d.discoverer))
	}

	c := client.New(d.settler, append(base, opts...)...)
	d.track(c.Close)
	return c
}

// Gate returns middleware charging per cfg, verified against this
// instance's ledger.
func (d *DNS402) Gate(cfg gate.Config, opts ...gate.Option) (*gate.Gate, error) {
	base := []gate.Option{
		gate.WithLogger(d.logger),
		gate.WithMetrics(d.metrics),
	}

	g, err := gate.New(cfg, d.verifier, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	d.track(g.Close)
	return g, nil
}

func (d *DNS402) Verifier() *verification.Service { return d.verifier }

func (d *DNS402) Settler() *settlement.Service { return d.settler }

func (d *DNS402) Ledger() *ledger.SolanaClient { return d.ledger }

func (d *DNS402) Logger() logger.Logger { return d.logger }

// MetricsHandler serves the instance's Prometheus registry, or 404 when
// metrics are disabled or supplied through WithMetrics.
func (d *DNS402) MetricsHandler() http.Handler {
	if d.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})
}

func (d *DNS402) track(closer func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closers = append(d.closers, closer)
}

// Close stops every client and gate created by this instance.
func (d *DNS402) Close() error {
	d.mu.Lock()
	closers := d.closers
	d.closers = nil
	d.mu.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	if zl, ok := d.logger.(*logger.ZapLogger); ok {
		_ = zl.Sync()
	}
	return errors.Join(errs...)
}
