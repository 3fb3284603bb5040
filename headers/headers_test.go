package headers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/dns402/types"
)

func testTerms() types.PaymentTerms {
	return types.PaymentTerms{
		Version:    types.ProtocolTag,
		Price:      decimal.RequireFromString("0.01"),
		Currency:   "USDC",
		Network:    types.NetworkSolana,
		Wallet:     "W1",
		TTLSeconds: 60,
	}
}

func TestWriteChallenge_HeadersMatchBody(t *testing.T) {
	cases := []types.PaymentTerms{
		testTerms(),
		{Price: decimal.RequireFromString("1.000000001"), Currency: "SOL", Network: types.NetworkSolana, Wallet: "So1anaWa11et"},
		{Price: decimal.Zero, Currency: "BONK", Network: types.NetworkSolana, Wallet: "W3", TTLSeconds: 86400},
	}

	for _, terms := range cases {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteChallenge(rec, NewChallenge(terms)))

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]any
		dec := json.NewDecoder(rec.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&body))

		bodyPrice, err := decimal.NewFromString(string(body["price"].(json.Number)))
		require.NoError(t, err)
		headerPrice, err := decimal.NewFromString(rec.Header().Get(HeaderPrice))
		require.NoError(t, err)

		assert.True(t, bodyPrice.Equal(headerPrice))
		assert.True(t, bodyPrice.Equal(terms.Price))
		assert.Equal(t, rec.Header().Get(HeaderCurrency), body["currency"])
		assert.Equal(t, rec.Header().Get(HeaderWallet), body["wallet"])
		assert.Equal(t, rec.Header().Get(HeaderNetwork), body["network"])
		assert.Equal(t, rec.Header().Get(HeaderSessionTTL), string(body["sessionTTL"].(json.Number)))
		assert.Equal(t, PaymentRequiredMessage, body["error"])
	}
}

func TestWriteChallenge_SpecScenario(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteChallenge(rec, NewChallenge(testTerms())))

	assert.Equal(t, "0.01", rec.Header().Get("dns402-price"))
	assert.Equal(t, "60", rec.Header().Get("DNS402-Session-TTL"))
	assert.JSONEq(t,
		`{"error":"Payment Required","price":0.01,"currency":"USDC","network":"solana","wallet":"W1","sessionTTL":60}`,
		rec.Body.String())
}

func TestChallenge_DefaultTTL(t *testing.T) {
	terms := testTerms()
	terms.TTLSeconds = 0
	assert.Equal(t, 3600, NewChallenge(terms).SessionTTL)
}

func TestReadChallenge(t *testing.T) {
	h := http.Header{}
	NewChallenge(testTerms()).SetHeaders(h)

	c, ok := ReadChallenge(h)
	require.True(t, ok)
	assert.True(t, c.Price.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, "USDC", c.Currency)
	assert.Equal(t, types.NetworkSolana, c.Network)
	assert.Equal(t, "W1", c.Wallet)
	assert.Equal(t, 60, c.SessionTTL)

	h.Set(HeaderPrice, "lots")
	_, ok = ReadChallenge(h)
	assert.False(t, ok)

	_, ok = ReadChallenge(http.Header{})
	assert.False(t, ok)
}

func TestProofHeaders(t *testing.T) {
	h := http.Header{}
	AttachProof(h, types.ProofOfPayment{Signature: "5igSig", Payer: "P1"})

	assert.Equal(t, "5igSig", h.Get("x-dns402-proof"))
	assert.Equal(t, "P1", h.Get("X-DNS402-Payer"))

	sig, payer := ReadProof(h)
	assert.Equal(t, "5igSig", sig)
	assert.Equal(t, "P1", payer)

	sig, payer = ReadProof(http.Header{})
	assert.Empty(t, sig)
	assert.Empty(t, payer)
}

func TestWriteRejection(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteRejection(rec, http.StatusForbidden, types.ErrCodeVerificationFailed, "payment proof rejected"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t,
		`{"error":"Forbidden","code":"VERIFICATION_FAILED","message":"payment proof rejected"}`,
		rec.Body.String())
}
