package postgres

import (
	"context"
	"testing"
	"time"

	"fluxapay-backend/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idempotencyCols = []string{"key", "merchant_id", "request_hash", "response_code", "response_body", "content_type", "created_at"}

func TestIdempotencyRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	merchantID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM idempotency_records WHERE key").
		WithArgs("idem-key-1").
		WillReturnRows(pgxmock.NewRows(idempotencyCols).
			AddRow("idem-key-1", &merchantID, "abc123", 201, []byte(`{"id":"p1"}`), "application/json", now))

	rec, err := repo.Get(context.Background(), "idem-key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "abc123", rec.RequestHash)
	assert.Equal(t, 201, rec.ResponseCode)
	assert.Equal(t, []byte(`{"id":"p1"}`), rec.ResponseBody)
	assert.Equal(t, "application/json", rec.ContentType)
	require.NotNil(t, rec.MerchantID)
	assert.Equal(t, merchantID, *rec.MerchantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM idempotency_records WHERE key").
		WithArgs("nonexistent-key").
		WillReturnRows(pgxmock.NewRows(idempotencyCols))

	rec, err := repo.Get(context.Background(), "nonexistent-key")
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	merchantID := uuid.New()
	rec := &domain.IdempotencyRecord{
		Key:          "idem-key-1",
		MerchantID:   &merchantID,
		RequestHash:  "abc123",
		ResponseCode: 201,
		ResponseBody: []byte(`{"id":"p1"}`),
		ContentType:  "application/json",
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectExec("INSERT INTO idempotency_records").
		WithArgs(rec.Key, rec.MerchantID, rec.RequestHash, rec.ResponseCode, rec.ResponseBody, rec.ContentType, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Upsert(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
