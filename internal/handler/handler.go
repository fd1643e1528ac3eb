// Package handler exposes the checkout API over HTTP: order lifecycle
// endpoints, operator actions, and the payment and signature webhooks.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/contract"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/payment"
	"github.com/xenking/course-checkout/pkg/httpmiddleware"
)

// Handler routes API requests to the order service, the contract
// orchestrator and the payment dispatcher.
type Handler struct {
	orders     *order.Service
	contracts  *contract.Orchestrator
	dispatcher *payment.Dispatcher
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	orders *order.Service,
	contracts *contract.Orchestrator,
	dispatcher *payment.Dispatcher,
) *Handler {
	return &Handler{
		orders:     orders,
		contracts:  contracts,
		dispatcher: dispatcher,
	}
}

// Register mounts all API routes on mux. Operator-only endpoints are wrapped
// with authorize; webhooks authenticate through body signatures instead.
func (h *Handler) Register(mux *http.ServeMux, authorize httpmiddleware.Middleware) {
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/submit", h.SubmitOrder)
	mux.HandleFunc("POST /api/orders/{id}/abort", h.AbortOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("GET /api/orders/{id}/signature-link", h.SignatureLink)

	mux.Handle("POST /api/orders/{id}/validate", authorize(http.HandlerFunc(h.ValidateOrder)))

	mux.HandleFunc("POST /webhooks/payment", h.PaymentNotification)
	mux.HandleFunc("POST /webhooks/signature", h.SignatureNotification)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Warn("Encoding response failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, r, status, errorResponse{Code: status, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		// Every field of the request payloads is optional, so an absent
		// body is the zero-value request.
		if errors.Is(err, io.EOF) {
			return true
		}
		respondError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
