package domain

import (
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive    MerchantStatus = "ACTIVE"
	MerchantStatusSuspended MerchantStatus = "SUSPENDED"
)

// Merchant represents a registered merchant. Account provisioning lives in a
// separate service; this backend only reads merchants to scope payments and
// deliver webhooks.
type Merchant struct {
	ID               uuid.UUID      `json:"id"`
	Name             string         `json:"name"`
	WebhookURL       *string        `json:"webhook_url,omitempty"`
	WebhookSecretEnc string         `json:"-"` // AES-GCM encrypted at rest, never exposed
	Status           MerchantStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}
