package postgres

import (
	"context"
	"errors"
	"fmt"

	"fluxapay-backend/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Get fetches an idempotency record by key. Returns nil, nil on a miss.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT key, merchant_id, request_hash, response_code, response_body, content_type, created_at
		FROM idempotency_records WHERE key = $1`

	rec := &domain.IdempotencyRecord{}
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.MerchantID, &rec.RequestHash, &rec.ResponseCode, &rec.ResponseBody, &rec.ContentType, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

// Upsert stores the record. The conflict branch only rewrites the response
// when the stored request hash matches the incoming one: a benign duplicate
// converges to one record, a diverging request never clobbers the original.
func (r *IdempotencyRepo) Upsert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_records (key, merchant_id, request_hash, response_code, response_body, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE
		SET response_code = EXCLUDED.response_code, response_body = EXCLUDED.response_body, content_type = EXCLUDED.content_type
		WHERE idempotency_records.request_hash = EXCLUDED.request_hash`

	_, err := r.pool.Exec(ctx, query,
		rec.Key, rec.MerchantID, rec.RequestHash, rec.ResponseCode, rec.ResponseBody, rec.ContentType, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert idempotency record: %w", err)
	}
	return nil
}
