package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.IncCounter(VerifyOK, map[string]string{"side": "server"})
	rec.IncCounter(VerifyOK, map[string]string{"side": "server"})
	rec.IncCounter(PaymentSent, map[string]string{"side": "client"})
	rec.ObserveLatency(LatencyVerify, 120*time.Millisecond, map[string]string{"side": "server"})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.With(prometheus.Labels{"type": VerifyOK, "side": "server"})))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.counters.With(prometheus.Labels{"type": PaymentSent, "side": "client"})))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.histogram))
}

func TestPrometheusRecorder_AddCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.AddCounter(SessionsSwept, 3, map[string]string{"side": "server"})
	rec.AddCounter(SessionsSwept, 2, map[string]string{"side": "server"})
	rec.AddCounter(SessionsSwept, 0, map[string]string{"side": "server"})

	assert.Equal(t, 5.0, testutil.ToFloat64(rec.counters.With(prometheus.Labels{"type": SessionsSwept, "side": "server"})))
}

func TestPrometheusRecorder_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}
