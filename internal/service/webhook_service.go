package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fluxapay-backend/internal/core/domain"
	"fluxapay-backend/internal/core/ports"

	"github.com/rs/zerolog"
)

// webhookRetryIntervals spaces out redelivery attempts. Delivery runs inside
// the sweep's per-payment window, so the whole schedule stays short.
var webhookRetryIntervals = []time.Duration{
	time.Second,
	5 * time.Second,
}

// EventPaymentSwept signals that a payment's funds reached the treasury.
const EventPaymentSwept = "PAYMENT_SWEPT"

// WebhookPayload is the JSON structure sent to merchant webhook_url.
type WebhookPayload struct {
	EventType string             `json:"event_type"`
	Data      WebhookPayloadData `json:"data"`
	Signature string             `json:"signature"`
}

// WebhookPayloadData holds the payment details in the webhook.
type WebhookPayloadData struct {
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id,omitempty"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	SweepTxHash string `json:"sweep_tx_hash"`
	Timestamp   int64  `json:"timestamp"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// webhookService implements ports.WebhookNotifier.
type webhookService struct {
	merchantRepo ports.MerchantRepository
	encSvc       ports.EncryptionService
	sigSvc       ports.SignatureService
	httpClient   HTTPClient
	log          zerolog.Logger
}

// NewWebhookService creates a new webhook notifier.
func NewWebhookService(
	merchantRepo ports.MerchantRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	log zerolog.Logger,
) ports.WebhookNotifier {
	return &webhookService{
		merchantRepo: merchantRepo,
		encSvc:       encSvc,
		sigSvc:       sigSvc,
		httpClient:   httpClient,
		log:          log,
	}
}

// NotifySwept delivers a PAYMENT_SWEPT event to the payment's merchant. The
// payload is signed with the merchant's webhook secret so the receiver can
// authenticate it. A merchant without a configured URL is not an error.
func (s *webhookService) NotifySwept(ctx context.Context, payment *domain.Payment) error {
	merchant, err := s.merchantRepo.GetByID(ctx, payment.MerchantID)
	if err != nil {
		return fmt.Errorf("webhook: fetching merchant: %w", err)
	}
	if merchant == nil || merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		s.log.Debug().Str("merchant_id", payment.MerchantID.String()).Msg("webhook: no webhook URL configured, skipping")
		return nil
	}

	secretKey, err := s.encSvc.Decrypt(merchant.WebhookSecretEnc)
	if err != nil {
		return fmt.Errorf("webhook: decrypting merchant secret: %w", err)
	}

	orderID := ""
	if payment.OrderID != nil {
		orderID = *payment.OrderID
	}
	txHash := ""
	if payment.SweepTxHash != nil {
		txHash = *payment.SweepTxHash
	}

	data := WebhookPayloadData{
		PaymentID:   payment.ID.String(),
		OrderID:     orderID,
		Status:      string(payment.Status),
		Amount:      payment.Amount.String(),
		Currency:    payment.Currency,
		SweepTxHash: txHash,
		Timestamp:   time.Now().Unix(),
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("webhook: marshaling payload data: %w", err)
	}

	payload := WebhookPayload{
		EventType: EventPaymentSwept,
		Data:      data,
		Signature: s.sigSvc.Sign(secretKey, string(dataBytes)),
	}

	return s.deliverWithRetries(ctx, *merchant.WebhookURL, payload, payment.ID.String())
}

// deliverWithRetries posts the payload, retrying on transport errors and
// non-2xx responses until the schedule or the context runs out.
func (s *webhookService) deliverWithRetries(ctx context.Context, url string, payload WebhookPayload, paymentID string) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshaling payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(webhookRetryIntervals); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(webhookRetryIntervals[attempt-1]):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
		if err != nil {
			return fmt.Errorf("webhook: creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("payment_id", paymentID).Int("attempt", attempt+1).Msg("webhook: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.log.Info().Str("payment_id", paymentID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("webhook: delivered successfully")
			return nil
		}

		lastErr = fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
		s.log.Warn().Str("payment_id", paymentID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("webhook: non-2xx response, retrying")
	}

	return fmt.Errorf("webhook: all delivery attempts exhausted: %w", lastErr)
}
