// Package headers maps payment terms and proofs onto HTTP.
//
// A 402 challenge is always built from a single Challenge value, so the
// DNS402-* headers and the JSON body can never disagree.
package headers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/dns402/types"
)

// Challenge response headers
const (
	HeaderPrice      = "DNS402-Price"
	HeaderCurrency   = "DNS402-Currency"
	HeaderNetwork    = "DNS402-Network"
	HeaderWallet     = "DNS402-Wallet"
	HeaderSessionTTL = "DNS402-Session-TTL"
)

// Retry request headers
const (
	HeaderProof = "X-DNS402-Proof"
	HeaderPayer = "X-DNS402-Payer"
)

const (
	contentTypeJSON = "application/json"

	// PaymentRequiredMessage is the error string of every challenge body.
	PaymentRequiredMessage = "Payment Required"
)

// Challenge is the content of a 402 response.
type Challenge struct {
	Price      decimal.Decimal
	Currency   string
	Network    types.Network
	Wallet     string
	SessionTTL int // seconds
}

// ChallengeBody is the JSON body of a 402 response.
type ChallengeBody struct {
	Error      string      `json:"error"`
	Price      json.Number `json:"price"`
	Currency   string      `json:"currency"`
	Network    string      `json:"network"`
	Wallet     string      `json:"wallet"`
	SessionTTL int         `json:"sessionTTL"`
}

// NewChallenge builds the challenge advertising terms.
func NewChallenge(terms types.PaymentTerms) Challenge {
	return Challenge{
		Price:      terms.Price,
		Currency:   terms.Currency,
		Network:    terms.Network,
		Wallet:     terms.Wallet,
		SessionTTL: int(terms.SessionTTL().Seconds()),
	}
}

// Body returns the JSON body for c.
func (c Challenge) Body() ChallengeBody {
	return ChallengeBody{
		Error:      PaymentRequiredMessage,
		Price:      json.Number(c.Price.String()),
		Currency:   c.Currency,
		Network:    c.Network.String(),
		Wallet:     c.Wallet,
		SessionTTL: c.SessionTTL,
	}
}

// SetHeaders writes the challenge headers into h.
func (c Challenge) SetHeaders(h http.Header) {
	h.Set(HeaderPrice, c.Price.String())
	h.Set(HeaderCurrency, c.Currency)
	h.Set(HeaderNetwork, c.Network.String())
	h.Set(HeaderWallet, c.Wallet)
	h.Set(HeaderSessionTTL, strconv.Itoa(c.SessionTTL))
}

// WriteChallenge sends a complete 402 response.
func WriteChallenge(w http.ResponseWriter, c Challenge) error {
	c.SetHeaders(w.Header())
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusPaymentRequired)
	return json.NewEncoder(w).Encode(c.Body())
}

// ReadChallenge parses challenge headers. It reports false when the price,
// currency or wallet header is missing or the price is not a number.
func ReadChallenge(h http.Header) (Challenge, bool) {
	rawPrice := strings.TrimSpace(h.Get(HeaderPrice))
	currency := strings.TrimSpace(h.Get(HeaderCurrency))
	wallet := strings.TrimSpace(h.Get(HeaderWallet))
	if rawPrice == "" || currency == "" || wallet == "" {
		return Challenge{}, false
	}

	price, err := decimal.NewFromString(rawPrice)
	if err != nil {
		return Challenge{}, false
	}

	c := Challenge{
		Price:    price,
		Currency: strings.ToUpper(currency),
		Network:  types.Network(strings.ToLower(strings.TrimSpace(h.Get(HeaderNetwork)))),
		Wallet:   wallet,
	}
	if ttl, err := strconv.Atoi(strings.TrimSpace(h.Get(HeaderSessionTTL))); err == nil && ttl > 0 {
		c.SessionTTL = ttl
	}
	return c, true
}

// AttachProof sets the retry headers carrying proof.
func AttachProof(h http.Header, proof types.ProofOfPayment) {
	h.Set(HeaderProof, proof.Signature)
	h.Set(HeaderPayer, proof.Payer)
}

// ReadProof returns the proof signature and payer address of a request.
// Either may be empty.
func ReadProof(h http.Header) (signature, payer string) {
	return strings.TrimSpace(h.Get(HeaderProof)), strings.TrimSpace(h.Get(HeaderPayer))
}

// Rejection is the JSON body of a non-402 refusal.
type Rejection struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteRejection sends a structured error with the given status.
func WriteRejection(w http.ResponseWriter, status int, code, message string) error {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(Rejection{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}
