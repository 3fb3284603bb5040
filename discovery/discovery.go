// Package discovery resolves a domain's payment terms from its _402 TXT
// record.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/record"
)

// RecordPrefix is prepended to a domain to find its payment record.
const RecordPrefix = "_402."

// DefaultTimeout bounds one discovery.
const DefaultTimeout = 5 * time.Second

// TXTLookup fetches the TXT records published at name. Each record is
// returned as the list of character-strings the transport split it into.
// A name with no TXT records yields an empty result, not an error.
type TXTLookup interface {
	LookupTXT(ctx context.Context, name string) ([][]string, error)
}

// LookupFunc adapts a function to TXTLookup.
type LookupFunc func(ctx context.Context, name string) ([][]string, error)

func (f LookupFunc) LookupTXT(ctx context.Context, name string) ([][]string, error) {
	return f(ctx, name)
}

// Discoverer is what the client needs from discovery.
type Discoverer interface {
	Discover(ctx context.Context, domain string) record.Result
}

// Resolver turns domains into payment terms.
type Resolver struct {
	lookup  TXTLookup
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

var _ Discoverer = (*Resolver)(nil)

type Option func(*Resolver)

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a Resolver over lookup.
func NewResolver(lookup TXTLookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:  lookup,
		timeout: DefaultTimeout,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewSystemResolver resolves through the nameservers in /etc/resolv.conf.
// When that file is unusable it falls back to the Go resolver, which joins
// the character-strings of each record itself.
func NewSystemResolver(opts ...Option) *Resolver {
	if lookup, err := NewDNSLookup(); err == nil {
		return NewResolver(lookup, opts...)
	}
	return NewResolver(LookupFunc(netLookupTXT), opts...)
}

func netLookupTXT(ctx context.Context, name string) ([][]string, error) {
	txts, err := net.DefaultResolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return nil, err
	}
	records := make([][]string, 0, len(txts))
	for _, t := range txts {
		records = append(records, []string{t})
	}
	return records, nil
}

// Discover returns the first TXT record at _402.<domain> that decodes. Lookup
// failures and undecodable records all end in an Absent result whose Reason
// says why.
func (r *Resolver) Discover(ctx context.Context, domain string) record.Result {
	host := NormalizeDomain(domain)
	if host == "" {
		return record.AbsentResult(fmt.Sprintf("invalid domain %q", domain))
	}
	name := RecordPrefix + host

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	records, err := r.lookup.LookupTXT(ctx, name)
	r.metrics.ObserveLatency(metrics.LatencyDiscover, time.Since(start), map[string]string{"side": "client"})
	if err != nil {
		r.logger.Debug("txt lookup failed", map[string]any{"name": name, "error": err})
		return record.AbsentResult(fmt.Sprintf("lookup %s: %v", name, err))
	}

	for i, chunks := range records {
		res := record.Decode(strings.Join(chunks, ""))
		if res.Ok() {
			r.logger.Debug("payment record discovered", map[string]any{
				"name":     name,
				"price":    res.Terms.Price.String(),
				"currency": res.Terms.Currency,
			})
			return res
		}
		r.logger.Debug("skipping txt record", map[string]any{"name": name, "index": i, "reason": res.Reason})
	}

	if len(records) == 0 {
		return record.AbsentResult("no txt records at " + name)
	}
	return record.AbsentResult(fmt.Sprintf("none of %d txt records at %s is a payment record", len(records), name))
}

// NormalizeDomain reduces a URL or host[:port] to a lower-case host name.
// It returns "" when nothing usable remains.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Host
		} else {
			_, s, _ = strings.Cut(s, "://")
		}
	}

	// drop path, query and fragment
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	// drop userinfo
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	} else {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	}

	s = strings.TrimSuffix(strings.ToLower(s), ".")
	s = strings.TrimPrefix(s, RecordPrefix)
	return s
}
