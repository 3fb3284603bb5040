// Package record encodes and decodes the payment terms published in a
// _402 TXT record.
//
// Wire form:
//
//	v=dns402;p=<price>;c=<currency>;n=solana;w=<wallet>[;t=<ttl>][;m=<model>][;cb=<url>][;mint=<mint>]
//
// Decoding never fails loudly. A record that is malformed, incomplete or of
// another version is reported as Absent so that discovery can move on to the
// next candidate.
package record

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/dns402/types"
)

// Record keys
const (
	KeyVersion  = "v"
	KeyPrice    = "p"
	KeyCurrency = "c"
	KeyNetwork  = "n"
	KeyWallet   = "w"
	KeyTTL      = "t"
	KeyModel    = "m"
	KeyCallback = "cb"
	KeyMint     = "mint"
)

const (
	fieldSep = ";"
	kvSep    = "="
)

// Outcome tags a decode Result.
type Outcome int

const (
	Absent Outcome = iota
	Decoded
)

func (o Outcome) String() string {
	if o == Decoded {
		return "decoded"
	}
	return "absent"
}

// Result is either Decoded with Terms set, or Absent with Reason explaining
// why the text did not count as a record.
type Result struct {
	Outcome Outcome
	Terms   types.PaymentTerms
	Reason  string
}

// Ok reports whether the result carries terms.
func (r Result) Ok() bool {
	return r.Outcome == Decoded
}

// AbsentResult builds an Absent result with the given reason.
func AbsentResult(reason string) Result {
	return Result{Outcome: Absent, Reason: reason}
}

// Decode parses text into payment terms.
func Decode(text string) Result {
	fields := make(map[string]string)
	for _, segment := range strings.Split(text, fieldSep) {
		key, value, ok := strings.Cut(segment, kvSep)
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}

	for _, required := range []string{KeyVersion, KeyPrice, KeyCurrency, KeyNetwork, KeyWallet} {
		if fields[required] == "" {
			return AbsentResult("missing required field " + required)
		}
	}

	if fields[KeyVersion] != types.ProtocolTag {
		return AbsentResult("unsupported version " + fields[KeyVersion])
	}

	price, err := decimal.NewFromString(fields[KeyPrice])
	if err != nil {
		return AbsentResult("price is not a number")
	}
	if price.IsNegative() {
		return AbsentResult("price is negative")
	}

	terms := types.PaymentTerms{
		Version:     types.ProtocolTag,
		Price:       price,
		Currency:    strings.ToUpper(fields[KeyCurrency]),
		Network:     types.Network(strings.ToLower(fields[KeyNetwork])),
		Wallet:      fields[KeyWallet],
		Model:       types.ParsePaymentModel(fields[KeyModel]),
		CallbackURL: fields[KeyCallback],
		Mint:        fields[KeyMint],
	}

	if raw, ok := fields[KeyTTL]; ok {
		// a bad ttl falls back to the default rather than voiding the record
		if ttl, err := strconv.Atoi(raw); err == nil && ttl > 0 {
			terms.TTLSeconds = ttl
		}
	}

	return Result{Outcome: Decoded, Terms: terms}
}

// Encode renders terms in canonical field order. Optional fields are only
// written when set; the model is only written when it is not per-request.
func Encode(terms types.PaymentTerms) string {
	version := terms.Version
	if version == "" {
		version = types.ProtocolTag
	}

	parts := []string{
		KeyVersion + kvSep + version,
		KeyPrice + kvSep + terms.Price.String(),
		KeyCurrency + kvSep + terms.Currency,
		KeyNetwork + kvSep + terms.Network.String(),
		KeyWallet + kvSep + terms.Wallet,
	}
	if terms.TTLSeconds > 0 {
		parts = append(parts, KeyTTL+kvSep+strconv.Itoa(terms.TTLSeconds))
	}
	if terms.Model != "" && terms.Model != types.ModelPerRequest {
		parts = append(parts, KeyModel+kvSep+terms.Model.String())
	}
	if terms.CallbackURL != "" {
		parts = append(parts, KeyCallback+kvSep+terms.CallbackURL)
	}
	if terms.Mint != "" {
		parts = append(parts, KeyMint+kvSep+terms.Mint)
	}
	return strings.Join(parts, fieldSep)
}
