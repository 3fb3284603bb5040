package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/dns402/gate"
	"github.com/vitwit/dns402/types"
	"github.com/vitwit/dns402/verification"
)

// seqSettler issues a new signature for every payment.
type seqSettler struct {
	mu    sync.Mutex
	calls int
}

func (s *seqSettler) Send(_ context.Context, _ types.PaymentTerms) (types.ProofOfPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return types.ProofOfPayment{Signature: fmt.Sprintf("sig-%d", s.calls), Payer: "P1"}, nil
}

func (s *seqSettler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDo_PaysAgainWhenGateSessionLapsesFirst(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	accept := verification.VerifierFunc(func(context.Context, types.VerifyRequest) bool { return true })

	g, err := gate.New(gate.Config{
		Wallet:     "W1",
		Price:      decimal.RequireFromString("0.01"),
		Currency:   "USDC",
		SessionTTL: time.Minute,
	}, accept, gate.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	srv := httptest.NewServer(g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("paid content"))
	})))
	defer srv.Close()

	// the published record promises a longer session than the gate keeps
	terms := g.Terms()
	terms.TTLSeconds = 1800
	s := &seqSettler{}
	c := New(s,
		WithDiscoverer(&fakeDiscoverer{result: decoded(terms)}),
		WithClock(clock.Now),
		WithAutoPay(&types.AutoPayPolicy{MaxAmount: decimal.RequireFromString("1"), Currency: "USDC"}),
	)
	t.Cleanup(func() { _ = c.Close() })

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)

	clock.Advance(2 * time.Minute)

	resp, err = c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	readBody(t, resp)

	resp, err = c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid content", readBody(t, resp))

	assert.Equal(t, 2, s.Calls())
}
