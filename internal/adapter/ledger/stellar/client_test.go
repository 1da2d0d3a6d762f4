package stellar

import (
	"context"
	"errors"
	"testing"
	"time"

	"fluxapay-backend/internal/core/ports"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/support/render/problem"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHorizon struct {
	account    horizon.Account
	accountErr error
	fee        int64
	feeErr     error
	txResp     horizon.Transaction
	txErr      error
	block      chan struct{} // when set, calls hang until closed
}

func (f *fakeHorizon) AccountDetail(horizonclient.AccountRequest) (horizon.Account, error) {
	if f.block != nil {
		<-f.block
	}
	return f.account, f.accountErr
}

func (f *fakeHorizon) FetchBaseFee() (int64, error) {
	return f.fee, f.feeErr
}

func (f *fakeHorizon) SubmitTransaction(*txnbuild.Transaction) (horizon.Transaction, error) {
	return f.txResp, f.txErr
}

func notFoundError() error {
	return &horizonclient.Error{
		Problem: problem.P{
			Type:   "https://stellar.org/horizon-errors/not_found",
			Status: 404,
		},
	}
}

func TestClient_LoadAccount(t *testing.T) {
	fake := &fakeHorizon{account: horizon.Account{AccountID: "GABC", Sequence: 42}}
	c := &Client{api: fake}

	account, err := c.LoadAccount(context.Background(), "GABC")
	require.NoError(t, err)
	assert.Equal(t, "GABC", account.AccountID)
	assert.Equal(t, int64(42), account.Sequence)
}

func TestClient_LoadAccount_NotFound(t *testing.T) {
	fake := &fakeHorizon{accountErr: notFoundError()}
	c := &Client{api: fake}

	_, err := c.LoadAccount(context.Background(), "GABC")
	assert.ErrorIs(t, err, ports.ErrAccountNotFound)
}

func TestClient_LoadAccount_HorizonError(t *testing.T) {
	fake := &fakeHorizon{accountErr: errors.New("horizon 504")}
	c := &Client{api: fake}

	_, err := c.LoadAccount(context.Background(), "GABC")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrAccountNotFound)
}

func TestClient_LoadAccount_ContextExpiry(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	fake := &fakeHorizon{block: block}
	c := &Client{api: fake}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.LoadAccount(ctx, "GABC")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_FetchBaseFee(t *testing.T) {
	fake := &fakeHorizon{fee: 5000}
	c := &Client{api: fake}

	fee, err := c.FetchBaseFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), fee)
}

func TestClient_SubmitTransaction(t *testing.T) {
	fake := &fakeHorizon{txResp: horizon.Transaction{Hash: "txhash123"}}
	c := &Client{api: fake}

	hash, err := c.SubmitTransaction(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "txhash123", hash)
}

func TestClient_SubmitTransaction_Error(t *testing.T) {
	fake := &fakeHorizon{txErr: errors.New("tx_bad_seq")}
	c := &Client{api: fake}

	_, err := c.SubmitTransaction(context.Background(), nil)
	assert.Error(t, err)
}
