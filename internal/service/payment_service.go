package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"fluxapay-backend/internal/core/domain"
	"fluxapay-backend/internal/core/ports"
	"fluxapay-backend/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// supportedCurrencies limits payment creation to assets the sweep engine can
// actually settle.
var supportedCurrencies = map[string]bool{
	"USDC": true,
	"XLM":  true,
}

// PaymentServiceImpl implements ports.PaymentService.
type PaymentServiceImpl struct {
	paymentRepo ports.PaymentRepository
	deriver     ports.KeyDeriver
	expiry      time.Duration
	log         zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl. expiry is the window a
// customer has to fund the deposit address before the payment lapses.
func NewPaymentService(
	paymentRepo ports.PaymentRepository,
	deriver ports.KeyDeriver,
	expiry time.Duration,
	log zerolog.Logger,
) *PaymentServiceImpl {
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &PaymentServiceImpl{
		paymentRepo: paymentRepo,
		deriver:     deriver,
		expiry:      expiry,
		log:         log,
	}
}

// Create allocates a fresh derivation index, derives the deposit address and
// persists the pending payment. Indexes come from a database sequence, so an
// abandoned creation burns an index rather than ever reusing one.
func (s *PaymentServiceImpl) Create(ctx context.Context, req ports.CreatePaymentRequest) (*domain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !supportedCurrencies[currency] {
		return nil, apperror.Validation(fmt.Sprintf("unsupported currency %q", req.Currency))
	}

	index, err := s.paymentRepo.NextAddressIndex(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("allocating address index: %w", err))
	}

	address, err := s.deriver.DeriveAddress(domain.DerivationVersionSEP5, index)
	if err != nil {
		return nil, apperror.ErrDerivationFailure(err)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:                uuid.New(),
		MerchantID:        req.MerchantID,
		OrderID:           req.OrderID,
		Amount:            req.Amount,
		Currency:          currency,
		CustomerEmail:     req.CustomerEmail,
		Status:            domain.PaymentStatusPending,
		AddressIndex:      index,
		DerivationVersion: domain.DerivationVersionSEP5,
		DepositAddress:    address,
		ExpiresAt:         now.Add(s.expiry),
		CreatedAt:         now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("creating payment: %w", err))
	}

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("merchant_id", payment.MerchantID.String()).
		Uint32("address_index", index).
		Str("deposit_address", address).
		Str("amount", payment.Amount.String()).
		Str("currency", currency).
		Msg("payment created")

	return payment, nil
}

// GetByID fetches a payment, scoped to the requesting merchant. A payment
// belonging to another merchant reads as not found, never as forbidden.
func (s *PaymentServiceImpl) GetByID(ctx context.Context, merchantID, id uuid.UUID) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetching payment: %w", err))
	}
	if payment == nil || payment.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("Payment")
	}
	return payment, nil
}

// List returns a filtered, paginated page of the merchant's payments plus the
// total row count for the filter.
func (s *PaymentServiceImpl) List(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	normalizeListParams(&params)
	payments, total, err := s.paymentRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("listing payments: %w", err))
	}
	return payments, total, nil
}

// csvExportMax caps export size; larger extracts belong in a reporting job.
const csvExportMax = 10000

// ExportCSV renders the filtered payments as a CSV document.
func (s *PaymentServiceImpl) ExportCSV(ctx context.Context, params ports.PaymentListParams) ([]byte, error) {
	normalizeListParams(&params)
	params.Page = 1
	params.PageSize = csvExportMax

	payments, _, err := s.paymentRepo.List(ctx, params)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("exporting payments: %w", err))
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "order_id", "amount", "currency", "status", "deposit_address", "swept", "sweep_tx_hash", "expires_at", "created_at"}
	if err := w.Write(header); err != nil {
		return nil, apperror.InternalError(err)
	}
	for i := range payments {
		p := &payments[i]
		orderID := ""
		if p.OrderID != nil {
			orderID = *p.OrderID
		}
		txHash := ""
		if p.SweepTxHash != nil {
			txHash = *p.SweepTxHash
		}
		row := []string{
			p.ID.String(),
			orderID,
			p.Amount.String(),
			p.Currency,
			string(p.Status),
			p.DepositAddress,
			fmt.Sprintf("%t", p.Swept),
			txHash,
			p.ExpiresAt.UTC().Format(time.RFC3339),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, apperror.InternalError(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperror.InternalError(err)
	}
	return buf.Bytes(), nil
}

func normalizeListParams(params *ports.PaymentListParams) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	switch params.SortBy {
	case "created_at", "amount", "status":
	default:
		params.SortBy = "created_at"
	}
	if params.Order != "asc" {
		params.Order = "desc"
	}
}
