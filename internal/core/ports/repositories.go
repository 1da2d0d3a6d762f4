package ports

import (
	"context"
	"time"

	"fluxapay-backend/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRepository defines persistence operations for payments.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	List(ctx context.Context, params PaymentListParams) ([]domain.Payment, int64, error)

	// NextAddressIndex allocates the next derivation index. Indexes are never
	// reused, even for abandoned payments.
	NextAddressIndex(ctx context.Context) (uint32, error)

	// FindSweepEligible returns payments with status confirmed/paid,
	// swept=false and expires_at after now, up to limit rows.
	FindSweepEligible(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error)

	// MarkSwept sets swept=true, swept_at and sweep_tx_hash, conditioned on
	// the payment still being swept=false. Returns false when another run won
	// the race; the caller must then treat the payment as already settled.
	MarkSwept(ctx context.Context, id uuid.UUID, txHash string, sweptAt time.Time) (bool, error)

	// MarkExpired transitions overdue non-terminal payments to expired and
	// returns the number of rows changed.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// PaymentListParams holds filter + pagination for listing payments.
type PaymentListParams struct {
	MerchantID uuid.UUID
	Status     *domain.PaymentStatus
	Currency   *string
	From       *time.Time
	To         *time.Time
	AmountMin  *decimal.Decimal
	AmountMax  *decimal.Decimal
	Search     *string // matches id, order id or customer email
	SortBy     string  // created_at, amount, status
	Order      string  // asc, desc
	Page       int
	PageSize   int
}

// IdempotencyRepository defines persistence for idempotency records.
type IdempotencyRepository interface {
	// Get returns nil, nil when the key has never been seen.
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)

	// Upsert stores the record. When the key already exists the response
	// fields are only replaced if the stored request hash matches, so a
	// benign duplicate converges to one record and a diverging one never
	// overwrites the original.
	Upsert(ctx context.Context, record *domain.IdempotencyRecord) error
}

// MerchantRepository defines read operations for merchants.
type MerchantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
}
