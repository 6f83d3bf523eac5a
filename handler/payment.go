// Package handler exposes the orchestrator over HTTP: the authenticated
// /api surface for merchants and the public form/callback surface for
// cardholders returning from the bank.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/metinweb/ors-payment-service/infra/middle"
	"github.com/metinweb/ors-payment-service/infra/response"
	"github.com/metinweb/ors-payment-service/payment"
)

const requestTimeout = 30 * time.Second

// CompanyHeader selects the merchant scope of an API call.
const CompanyHeader = "X-Company"

// PaymentHandler serves the authenticated payment API.
type PaymentHandler struct {
	service  *payment.Service
	validate *validator.Validate
}

// NewPaymentHandler creates a payment handler.
func NewPaymentHandler(service *payment.Service, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{service: service, validate: validate}
}

func companyOf(r *http.Request) string {
	if c := r.Header.Get(CompanyHeader); c != "" {
		return c
	}
	return "default"
}

type binRequest struct {
	BIN      string  `json:"bin" validate:"required,min=6,max=19"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// QueryBin handles POST /api/payment/bin.
func (h *PaymentHandler) QueryBin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req binRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	if req.Currency == "" {
		req.Currency = "try"
	}

	result, err := h.service.QueryBin(ctx, companyOf(r), req.BIN, req.Amount, req.Currency)
	if err != nil {
		response.FromError(w, "BIN query failed", err)
		return
	}
	response.Success(w, http.StatusOK, "BIN resolved", result)
}

// CreatePayment handles POST /api/payment/pay.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req payment.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	req.Company = companyOf(r)
	if req.Customer.IP == "" {
		req.Customer.IP = middle.GetClientIP(r)
	}

	result, err := h.service.CreatePayment(ctx, &req)
	if err != nil {
		response.FromError(w, "Payment could not be started", err)
		return
	}
	response.Success(w, http.StatusCreated, "Payment started", result)
}

// PreAuthorize handles POST /api/payment/preauth: a non-3-D authorization
// hold, captured later via POST /{id}/capture.
func (h *PaymentHandler) PreAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req payment.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	req.Company = companyOf(r)
	if req.Customer.IP == "" {
		req.Customer.IP = middle.GetClientIP(r)
	}

	result, err := h.service.PreAuthorize(ctx, &req)
	if err != nil {
		response.FromError(w, "Pre-authorization failed", err)
		return
	}
	response.Success(w, http.StatusCreated, "Pre-authorization completed", result)
}

// Capture handles POST /api/payment/{id}/capture.
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := h.service.Capture(ctx, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, "Capture failed", err)
		return
	}
	response.Success(w, http.StatusOK, "Capture completed", view)
}

// GetTransaction handles GET /api/payment/{id}.
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetTransactionStatus(chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, "Transaction not found", err)
		return
	}
	response.Success(w, http.StatusOK, "Transaction", view)
}

type refundRequest struct {
	Amount float64 `json:"amount"`
}

// Refund handles POST /api/payment/{id}/refund. A zero or missing amount
// refunds the full payment.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req refundRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	view, err := h.service.RefundPayment(ctx, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		response.FromError(w, "Refund failed", err)
		return
	}
	response.Success(w, http.StatusOK, "Refund completed", view)
}

// Cancel handles POST /api/payment/{id}/cancel.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := h.service.CancelPayment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, "Cancel failed", err)
		return
	}
	response.Success(w, http.StatusOK, "Cancel completed", view)
}

// RemoteStatus handles GET /api/payment/{id}/remote: the acquirer-side view
// of the transaction.
func (h *PaymentHandler) RemoteStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	remote, err := h.service.InquireStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, "Status inquiry failed", err)
		return
	}
	response.Success(w, http.StatusOK, "Remote status", remote)
}

// History handles GET /api/payment/{id}/history: the acquirer-side operation
// history of the order.
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rows, err := h.service.InquireHistory(ctx, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, "History inquiry failed", err)
		return
	}
	response.Success(w, http.StatusOK, "Order history", rows)
}
