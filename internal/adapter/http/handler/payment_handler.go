package handler

import (
	"strconv"
	"time"

	"fluxapay-backend/internal/adapter/http/dto"
	"fluxapay-backend/internal/adapter/http/middleware"
	"fluxapay-backend/internal/core/domain"
	"fluxapay-backend/internal/core/ports"
	"fluxapay-backend/pkg/apperror"
	"fluxapay-backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentHandler handles payment-related endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// Create handles POST /api/v1/payments.
func (h *PaymentHandler) Create(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	payment, err := h.paymentSvc.Create(c.Request.Context(), ports.CreatePaymentRequest{
		MerchantID:    merchantID,
		OrderID:       req.OrderID,
		Amount:        amount,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toPaymentResponse(payment))
}

// Get handles GET /api/v1/payments/:id.
func (h *PaymentHandler) Get(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	payment, err := h.paymentSvc.GetByID(c.Request.Context(), merchantID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toPaymentResponse(payment))
}

// List handles GET /api/v1/payments.
func (h *PaymentHandler) List(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	params, err := listParams(c, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	payments, total, err := h.paymentSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.PaymentListResponse{
		Payments: make([]dto.PaymentResponse, 0, len(payments)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for i := range payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(&payments[i]))
	}
	response.OK(c, resp)
}

// ExportCSV handles GET /api/v1/payments/export.
func (h *PaymentHandler) ExportCSV(c *gin.Context) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	params, err := listParams(c, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	data, err := h.paymentSvc.ExportCSV(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="payments.csv"`)
	c.Data(200, "text/csv", data)
}

// listParams parses the shared filter query parameters.
func listParams(c *gin.Context, merchantID uuid.UUID) (ports.PaymentListParams, error) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	params := ports.PaymentListParams{
		MerchantID: merchantID,
		SortBy:     c.DefaultQuery("sort_by", "created_at"),
		Order:      c.DefaultQuery("order", "desc"),
		Page:       page,
		PageSize:   pageSize,
	}

	if s := c.Query("status"); s != "" {
		status := domain.PaymentStatus(s)
		params.Status = &status
	}
	if cur := c.Query("currency"); cur != "" {
		params.Currency = &cur
	}
	if s := c.Query("search"); s != "" {
		params.Search = &s
	}
	if s := c.Query("from"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return params, apperror.Validation("invalid 'from' timestamp, want RFC3339")
		}
		params.From = &ts
	}
	if s := c.Query("to"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return params, apperror.Validation("invalid 'to' timestamp, want RFC3339")
		}
		params.To = &ts
	}
	if s := c.Query("amount_min"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return params, apperror.Validation("invalid amount_min")
		}
		params.AmountMin = &d
	}
	if s := c.Query("amount_max"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return params, apperror.Validation("invalid amount_max")
		}
		params.AmountMax = &d
	}
	return params, nil
}

// toPaymentResponse converts domain.Payment to its API view.
func toPaymentResponse(p *domain.Payment) dto.PaymentResponse {
	return dto.PaymentResponse{
		ID:             p.ID.String(),
		OrderID:        p.OrderID,
		Amount:         p.Amount.String(),
		Currency:       p.Currency,
		CustomerEmail:  p.CustomerEmail,
		Status:         string(p.Status),
		DepositAddress: p.DepositAddress,
		Swept:          p.Swept,
		SweepTxHash:    p.SweepTxHash,
		ExpiresAt:      p.ExpiresAt.UTC().Format(time.RFC3339),
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339),
	}
}
