package dto

// CreatePaymentRequest is the request body for payment creation. Amount is a
// decimal string; float JSON numbers are rejected to avoid precision loss.
type CreatePaymentRequest struct {
	OrderID       *string `json:"order_id,omitempty" binding:"omitempty,max=100"`
	Amount        string  `json:"amount" binding:"required"`
	Currency      string  `json:"currency" binding:"required,min=3,max=12"`
	CustomerEmail string  `json:"customer_email,omitempty" binding:"omitempty,email"`
}

// PaymentResponse is the API view of a payment. Derivation internals stay
// private; the deposit address is the only collection detail a client needs.
type PaymentResponse struct {
	ID             string  `json:"id"`
	OrderID        *string `json:"order_id,omitempty"`
	Amount         string  `json:"amount"`
	Currency       string  `json:"currency"`
	CustomerEmail  string  `json:"customer_email,omitempty"`
	Status         string  `json:"status"`
	DepositAddress string  `json:"deposit_address"`
	Swept          bool    `json:"swept"`
	SweepTxHash    *string `json:"sweep_tx_hash,omitempty"`
	ExpiresAt      string  `json:"expires_at"`
	CreatedAt      string  `json:"created_at"`
}

// PaymentListResponse wraps a paginated payment list.
type PaymentListResponse struct {
	Payments []PaymentResponse `json:"payments"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// SweepReportResponse summarizes a manually triggered sweep run.
type SweepReportResponse struct {
	Eligible int `json:"eligible"`
	Swept    int `json:"swept"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
