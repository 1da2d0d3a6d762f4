package ports

import (
	"context"
	"errors"

	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
)

// ErrAccountNotFound is returned by LoadAccount when the deposit account does
// not exist on-chain yet (the payment was never funded). Callers treat it as
// "nothing to sweep", not as a failure.
var ErrAccountNotFound = errors.New("ledger: account not found")

// LedgerClient talks to the Stellar network. Every call crosses a network
// boundary and may be slow or fail; implementations bound each call with a
// timeout.
type LedgerClient interface {
	LoadAccount(ctx context.Context, address string) (*horizon.Account, error)
	FetchBaseFee(ctx context.Context) (int64, error)
	// SubmitTransaction submits a signed transaction and returns its hash.
	SubmitTransaction(ctx context.Context, tx *txnbuild.Transaction) (string, error)
}
