// Package ledger talks to Solana: it pays a set of terms and reads back what
// a finalized transaction actually transferred.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/vitwit/dns402/types"
)

var (
	// ErrTransactionNotFound means the ledger has no record of a signature.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrNoPayerKey means a client was asked to pay without a signing key.
	ErrNoPayerKey = errors.New("no payer key configured")
	// ErrUnknownAsset means a currency has no native meaning or mint.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Sender pays terms and returns proof of the finalized transfer.
type Sender interface {
	Send(ctx context.Context, terms types.PaymentTerms) (types.ProofOfPayment, error)
}

// TransferQuery reads the balance changes of a finalized transaction.
type TransferQuery interface {
	FetchTransfer(ctx context.Context, signature, recipient string, asset Asset) (Transfer, error)
}

// Transfer is what a transaction did for one recipient and asset.
type Transfer struct {
	Signature string
	Slot      uint64

	// Failed is set when the transaction landed but errored on chain.
	Failed bool

	// Received is the recipient's balance increase in whole units. It is
	// zero or negative when the recipient gained nothing.
	Received decimal.Decimal

	// Signers are the addresses that signed the transaction.
	Signers []string
}

// SignedBy reports whether addr signed the transaction.
func (t Transfer) SignedBy(addr string) bool {
	for _, s := range t.Signers {
		if s == addr {
			return true
		}
	}
	return false
}
