package ports

import (
	"context"
	"time"

	"fluxapay-backend/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
)

// KeyDeriver re-creates a payment's signing keypair from the process master
// seed. Derivation is a pure function of (master seed, version, index): the
// private key is never persisted anywhere.
type KeyDeriver interface {
	Derive(version int, index uint32) (*keypair.Full, error)
	DeriveAddress(version int, index uint32) (string, error)
}

// CreatePaymentRequest carries validated input for payment creation.
type CreatePaymentRequest struct {
	MerchantID    uuid.UUID
	OrderID       *string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
}

// PaymentService manages the payment resource.
type PaymentService interface {
	Create(ctx context.Context, req CreatePaymentRequest) (*domain.Payment, error)
	GetByID(ctx context.Context, merchantID, id uuid.UUID) (*domain.Payment, error)
	List(ctx context.Context, params PaymentListParams) ([]domain.Payment, int64, error)
	ExportCSV(ctx context.Context, params PaymentListParams) ([]byte, error)
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Eligible int `json:"eligible"`
	Swept    int `json:"swept"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// SweepService consolidates confirmed deposit balances into the treasury.
type SweepService interface {
	// RunOnce executes a full sweep pass. It returns
	// apperror.ErrSweepAlreadyRunning when another run holds the run lock.
	RunOnce(ctx context.Context) (*SweepReport, error)
}

// Locker is a distributed lock with a TTL safety net. Acquire returns false
// without error when the lock is already held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// IdempotencyCache is the fast lookup layer in front of the idempotency
// repository. Get returns nil, nil on a miss.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// TokenClaims holds validated JWT claims.
type TokenClaims struct {
	MerchantID uuid.UUID
}

// TokenService validates (and, for operator tooling, mints) bearer tokens.
// Token issuance to end users happens in a separate auth service.
type TokenService interface {
	Generate(merchantID uuid.UUID) (string, time.Time, error)
	Validate(token string) (*TokenClaims, error)
}

// SignatureService signs and verifies webhook payloads.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// EncryptionService protects merchant webhook secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// WebhookNotifier delivers payment lifecycle events to merchants.
// Delivery is best-effort; failures are logged, never propagated.
type WebhookNotifier interface {
	NotifySwept(ctx context.Context, payment *domain.Payment) error
}
