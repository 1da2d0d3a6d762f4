package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fluxapay-backend/internal/core/domain"
	"fluxapay-backend/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, merchant_id, order_id, amount, currency, customer_email, status,
	address_index, derivation_version, deposit_address,
	swept, swept_at, sweep_tx_hash, expires_at, created_at`

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a new payment.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.MerchantID, p.OrderID, p.Amount, p.Currency, p.CustomerEmail, p.Status,
		p.AddressIndex, p.DerivationVersion, p.DepositAddress,
		p.Swept, p.SweptAt, p.SweepTxHash, p.ExpiresAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment by UUID.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanPayment(r.pool.QueryRow(ctx, query, id))
}

// NextAddressIndex allocates the next derivation index from a sequence. The
// sequence only moves forward, so an index is never handed out twice even if
// the payment it was allocated for is abandoned.
func (r *PaymentRepo) NextAddressIndex(ctx context.Context) (uint32, error) {
	var index int64
	err := r.pool.QueryRow(ctx, `SELECT nextval('payment_address_index_seq')`).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("next address index: %w", err)
	}
	if index < 0 || index >= 1<<31 {
		return 0, fmt.Errorf("address index %d out of hardened derivation range", index)
	}
	return uint32(index), nil
}

// FindSweepEligible returns payments a sweep run may pick up: confirmed or
// paid, not yet swept, and not past their collection deadline. Oldest first,
// so a payment is never starved by newer arrivals.
func (r *PaymentRepo) FindSweepEligible(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status IN ('confirmed', 'paid') AND swept = false AND expires_at > $1
		ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find sweep-eligible payments: %w", err)
	}
	defer rows.Close()

	return r.collectPayments(rows)
}

// MarkSwept records the sweep outcome, conditioned on the payment still being
// unswept. The swept = false guard is the compare-and-set that gives the
// whole engine its at-most-once property.
func (r *PaymentRepo) MarkSwept(ctx context.Context, id uuid.UUID, txHash string, sweptAt time.Time) (bool, error) {
	query := `UPDATE payments
		SET swept = true, swept_at = $1, sweep_tx_hash = $2, status = 'swept'
		WHERE id = $3 AND swept = false`

	tag, err := r.pool.Exec(ctx, query, sweptAt, txHash, id)
	if err != nil {
		return false, fmt.Errorf("mark payment swept: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpired transitions overdue non-terminal payments to expired.
func (r *PaymentRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE payments SET status = 'expired'
		WHERE expires_at <= $1 AND swept = false AND status NOT IN ('swept', 'expired')`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("mark payments expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List fetches payments with filtering and pagination.
func (r *PaymentRepo) List(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("merchant_id = $%d", argIdx))
	args = append(args, params.MerchantID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Currency != nil {
		conditions = append(conditions, fmt.Sprintf("currency = $%d", argIdx))
		args = append(args, *params.Currency)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}
	if params.AmountMin != nil {
		conditions = append(conditions, fmt.Sprintf("amount >= $%d", argIdx))
		args = append(args, *params.AmountMin)
		argIdx++
	}
	if params.AmountMax != nil {
		conditions = append(conditions, fmt.Sprintf("amount <= $%d", argIdx))
		args = append(args, *params.AmountMax)
		argIdx++
	}
	if params.Search != nil && *params.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(id::text ILIKE $%d OR order_id ILIKE $%d OR customer_email ILIKE $%d)", argIdx, argIdx, argIdx))
		args = append(args, "%"+*params.Search+"%")
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM payments %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	// Sort column and direction are validated by the service layer; never
	// interpolate caller input here.
	sortBy := params.SortBy
	switch sortBy {
	case "amount", "status":
	default:
		sortBy = "created_at"
	}
	order := "DESC"
	if params.Order == "asc" {
		order = "ASC"
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT `+paymentColumns+` FROM payments %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		where, sortBy, order, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments, err := r.collectPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *PaymentRepo) collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	var payments []domain.Payment
	for rows.Next() {
		p := domain.Payment{}
		err := rows.Scan(
			&p.ID, &p.MerchantID, &p.OrderID, &p.Amount, &p.Currency, &p.CustomerEmail, &p.Status,
			&p.AddressIndex, &p.DerivationVersion, &p.DepositAddress,
			&p.Swept, &p.SweptAt, &p.SweepTxHash, &p.ExpiresAt, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

// scanPayment is a helper to scan a single row into a Payment.
func (r *PaymentRepo) scanPayment(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.OrderID, &p.Amount, &p.Currency, &p.CustomerEmail, &p.Status,
		&p.AddressIndex, &p.DerivationVersion, &p.DepositAddress,
		&p.Swept, &p.SweptAt, &p.SweepTxHash, &p.ExpiresAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}
