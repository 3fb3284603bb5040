package dns402

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/dns402/discovery"
	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/verification"
)

type Option func(*DNS402)

func WithLogger(l logger.Logger) Option {
	return func(d *DNS402) {
		d.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(d *DNS402) {
		d.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(d *DNS402) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithResolver replaces system DNS for clients created by the instance.
func WithResolver(r discovery.Discoverer) Option {
	return func(d *DNS402) {
		d.discoverer = r
	}
}

// WithTolerance sets the shortfall the verifier accepts, as a fraction of
// the asked amount.
func WithTolerance(t decimal.Decimal) Option {
	return func(d *DNS402) {
		d.verifyOpts = append(d.verifyOpts, verification.WithTolerance(t))
	}
}
