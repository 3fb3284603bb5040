package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the dns402 collectors on reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dns402",
			Name:      "events_total",
			Help:      "dns402 protocol event counters",
		},
		[]string{"type", "side"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dns402",
			Name:      "latency_seconds",
			Help:      "dns402 operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "side"},
	)

	for _, c := range []prometheus.Collector{counters, histogram} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}, nil
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type": name,
		"side": labels["side"],
	}).Inc()
}

// AddCounter adds value to a counter. Values that are not positive are dropped.
func (p *PrometheusRecorder) AddCounter(name string, value float64, labels map[string]string) {
	if value <= 0 {
		return
	}
	p.counters.With(prometheus.Labels{
		"type": name,
		"side": labels["side"],
	}).Add(value)
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": name,
		"side":      labels["side"],
	}).Observe(d.Seconds())
}
