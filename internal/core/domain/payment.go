package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the collection lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusSwept     PaymentStatus = "swept"
	PaymentStatusExpired   PaymentStatus = "expired"
)

// DerivationVersionSEP5 is the current key derivation scheme: SEP-0005
// ed25519 derivation at path m/44'/148'/{address_index}'. New versions must
// be added, never substituted, or historical deposit addresses become
// unrecoverable.
const DerivationVersionSEP5 = 1

// Payment identifies one collection attempt. Funds arrive on a dedicated
// deposit address derived from (master seed, address_index) and are later
// consolidated into the treasury account.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	MerchantID    uuid.UUID       `json:"merchant_id"`
	OrderID       *string         `json:"order_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	Status        PaymentStatus   `json:"status"`

	// Collection: the derivation identifier and its scheme version. The
	// signing key is never stored; it is re-derived on demand.
	AddressIndex      uint32 `json:"address_index"`
	DerivationVersion int    `json:"derivation_version"`
	DepositAddress    string `json:"deposit_address"`

	// Sweep outcome. Swept is monotonic: it transitions false->true exactly
	// once, and SweptAt/SweepTxHash are set only by that transition.
	Swept       bool       `json:"swept"`
	SweptAt     *time.Time `json:"swept_at,omitempty"`
	SweepTxHash *string    `json:"sweep_tx_hash,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SweepEligible reports whether the payment may be picked up by a sweep run
// at the given instant.
func (p *Payment) SweepEligible(now time.Time) bool {
	return (p.Status == PaymentStatusConfirmed || p.Status == PaymentStatusPaid) &&
		!p.Swept &&
		now.Before(p.ExpiresAt)
}

// IsTerminal returns true if the payment can no longer change state.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusSwept || p.Status == PaymentStatusExpired
}
