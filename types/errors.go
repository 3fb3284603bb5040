package types

import "fmt"

// Error is the coded error surfaced by the client and the gate.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Terms is set on PAYMENT_REQUIRED and POLICY_VIOLATION so the caller
	// can decide what to do.
	Terms *PaymentTerms `json:"terms,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, types.ErrPolicy).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	ErrCodeDiscovery          = "DISCOVERY_FAILED"
	ErrCodePolicy             = "POLICY_VIOLATION"
	ErrCodePaymentRequired    = "PAYMENT_REQUIRED"
	ErrCodeLedger             = "LEDGER_ERROR"
	ErrCodeVerificationFailed = "VERIFICATION_FAILED"
	ErrCodeProofReplayed      = "PROOF_REPLAYED"
	ErrCodeMissingPayer       = "MISSING_PAYER"
	ErrCodeInvalidConfig      = "INVALID_CONFIG"
)

// Sentinels for errors.Is.
var (
	ErrDiscovery          = &Error{Code: ErrCodeDiscovery}
	ErrPolicy             = &Error{Code: ErrCodePolicy}
	ErrPaymentRequired    = &Error{Code: ErrCodePaymentRequired}
	ErrLedger             = &Error{Code: ErrCodeLedger}
	ErrVerificationFailed = &Error{Code: ErrCodeVerificationFailed}
	ErrInvalidConfig      = &Error{Code: ErrCodeInvalidConfig}
)

func NewDiscoveryError(domain, reason string) *Error {
	return &Error{
		Code:    ErrCodeDiscovery,
		Message: fmt.Sprintf("server demanded payment but %s publishes no usable terms (%s)", domain, reason),
	}
}

func NewPolicyError(terms PaymentTerms, policy AutoPayPolicy) *Error {
	return &Error{
		Code: ErrCodePolicy,
		Message: fmt.Sprintf("price %s %s exceeds auto-pay limit %s %s",
			terms.Price, terms.Currency, policy.MaxAmount, policy.Currency),
		Terms: &terms,
	}
}

func NewPaymentRequiredError(terms PaymentTerms) *Error {
	return &Error{
		Code:    ErrCodePaymentRequired,
		Message: fmt.Sprintf("payment of %s %s to %s required", terms.Price, terms.Currency, terms.Wallet),
		Terms:   &terms,
	}
}

func NewLedgerError(msg string, cause error) *Error {
	return &Error{Code: ErrCodeLedger, Message: msg, cause: cause}
}

func NewConfigError(msg string, cause error) *Error {
	return &Error{Code: ErrCodeInvalidConfig, Message: msg, cause: cause}
}
