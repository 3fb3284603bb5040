package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/dns402/gate"
	"github.com/vitwit/dns402/headers"
	"github.com/vitwit/dns402/types"
	"github.com/vitwit/dns402/verification"
)

func newTestRouter(t *testing.T, opts ...gate.Option) http.Handler {
	t.Helper()

	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	})
	accept := verification.VerifierFunc(func(_ context.Context, req types.VerifyRequest) bool {
		return req.Signature == "good"
	})

	g, err := gate.New(gate.Config{
		Wallet:     testWallet,
		Price:      decimal.RequireFromString("0.01"),
		Currency:   "USDC",
		SessionTTL: time.Minute,
	}, accept, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})
	return newRouter(g, upstream, metrics)
}

func TestRouter_HealthzIsFree(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestRouter_ChargesUpstream(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "0.01", rec.Header().Get(headers.HeaderPrice))

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set(headers.HeaderProof, "good")
	req.Header.Set(headers.HeaderPayer, "P1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream:/api/data", rec.Body.String())
}

func TestWebhook_PostsPayment(t *testing.T) {
	got := make(chan paymentEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev paymentEvent
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &ev)
		got <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := webhook(srv.Client(), srv.URL)
	err := hook(context.Background(), types.ProofOfPayment{Signature: "sig-1", Payer: "P1", PaidAt: time.UnixMilli(1700000000000)})
	require.NoError(t, err)

	ev := <-got
	assert.Equal(t, "sig-1", ev.Signature)
	assert.Equal(t, "P1", ev.Payer)
	assert.Equal(t, int64(1700000000000), ev.PaidAt)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := webhook(srv.Client(), srv.URL)(context.Background(), types.ProofOfPayment{Signature: "sig-1"})
	assert.Error(t, err)
}
