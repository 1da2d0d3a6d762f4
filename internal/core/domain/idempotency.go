package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord memorizes the outcome of one client-identified mutating
// request. Once stored, the response fields are immutable: a retry with the
// same key and fingerprint replays them verbatim.
type IdempotencyRecord struct {
	Key          string     `json:"key"`                   // client-supplied, unique
	MerchantID   *uuid.UUID `json:"merchant_id,omitempty"` // nil for unauthenticated requests
	RequestHash  string     `json:"request_hash"`          // sha256 hex of the raw request body
	ResponseCode int        `json:"response_code"`
	ResponseBody []byte     `json:"response_body"`
	ContentType  string     `json:"content_type"` // replayed as-is; empty means application/json
	CreatedAt    time.Time  `json:"created_at"`
}

// Fingerprint computes the stable request-body hash used to detect a key
// being reused with different parameters.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// OwnedBy reports whether the record may be replayed by the given caller.
// Records without an owner (unauthenticated first execution) are replayable
// by anyone presenting the key.
func (r *IdempotencyRecord) OwnedBy(merchantID *uuid.UUID) bool {
	if r.MerchantID == nil {
		return true
	}
	return merchantID != nil && *r.MerchantID == *merchantID
}

// Matches reports whether the given body fingerprint is the one the key was
// first used with.
func (r *IdempotencyRecord) Matches(fingerprint string) bool {
	return r.RequestHash == fingerprint
}
