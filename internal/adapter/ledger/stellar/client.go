// Package stellar implements ports.LedgerClient against a Horizon server.
package stellar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"fluxapay-backend/internal/core/ports"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
)

// horizonAPI is the slice of the Horizon client this adapter uses.
type horizonAPI interface {
	AccountDetail(request horizonclient.AccountRequest) (horizon.Account, error)
	FetchBaseFee() (int64, error)
	SubmitTransaction(tx *txnbuild.Transaction) (horizon.Transaction, error)
}

// Client wraps a Horizon client. The underlying SDK calls are not
// context-aware, so each call runs on its own goroutine and the result is
// abandoned when the caller's context expires first.
type Client struct {
	api horizonAPI
}

// NewClient builds a ledger client for the given Horizon URL. timeout bounds
// every HTTP round trip.
func NewClient(horizonURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: timeout},
		},
	}
}

// LoadAccount fetches the on-chain state of an account. A 404 from Horizon
// maps to ports.ErrAccountNotFound: the account was never funded.
func (c *Client) LoadAccount(ctx context.Context, address string) (*horizon.Account, error) {
	type result struct {
		account horizon.Account
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		account, err := c.api.AccountDetail(horizonclient.AccountRequest{AccountID: address})
		ch <- result{account, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if horizonclient.IsNotFoundError(r.err) {
				return nil, ports.ErrAccountNotFound
			}
			return nil, fmt.Errorf("horizon: loading account %s: %w", address, r.err)
		}
		return &r.account, nil
	}
}

// FetchBaseFee returns the network's current base fee in stroops. The SDK
// falls back to the protocol minimum when fee stats are unavailable.
func (c *Client) FetchBaseFee(ctx context.Context) (int64, error) {
	type result struct {
		fee int64
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fee, err := c.api.FetchBaseFee()
		ch <- result{fee, err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return 0, fmt.Errorf("horizon: fetching base fee: %w", r.err)
		}
		return r.fee, nil
	}
}

// SubmitTransaction submits a signed transaction and returns its hash.
func (c *Client) SubmitTransaction(ctx context.Context, tx *txnbuild.Transaction) (string, error) {
	type result struct {
		resp horizon.Transaction
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := c.api.SubmitTransaction(tx)
		ch <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("horizon: submitting transaction: %w", r.err)
		}
		return r.resp.Hash, nil
	}
}
