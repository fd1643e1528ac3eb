package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/contract"
	"github.com/xenking/course-checkout/internal/domain/offering"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/payment"
	"github.com/xenking/course-checkout/internal/domain/schedule"
)

// installmentView is one schedule entry in API responses.
type installmentView struct {
	ID            string    `json:"id"`
	Amount        string    `json:"amount"`
	DueDate       time.Time `json:"due_date"`
	State         string    `json:"state"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

// orderView is the API representation of an order.
type orderView struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	OfferingID     string            `json:"offering_id"`
	OfferingRuleID string            `json:"offering_rule_id,omitempty"`
	State          string            `json:"state"`
	Total          string            `json:"total"`
	Discount       string            `json:"discount"`
	Schedule       []installmentView `json:"schedule"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toOrderView(o *order.Order) orderView {
	plan := make([]installmentView, len(o.Schedule))
	for i, inst := range o.Schedule {
		plan[i] = installmentView{
			ID:            inst.ID,
			Amount:        inst.Amount.StringFixed(2),
			DueDate:       inst.DueDate,
			State:         string(inst.State),
			TransactionID: inst.TransactionID,
		}
	}
	return orderView{
		ID:             o.ID,
		OwnerID:        o.OwnerID,
		OfferingID:     o.OfferingID,
		OfferingRuleID: o.OfferingRuleID,
		State:          string(o.State),
		Total:          o.Total.StringFixed(2),
		Discount:       o.Discount.StringFixed(2),
		Schedule:       plan,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type createOrderRequest struct {
	OwnerID    string `json:"owner_id"`
	OfferingID string `json:"offering_id"`
}

// CreateOrder opens a draft order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OwnerID == "" || req.OfferingID == "" {
		respondError(w, r, http.StatusBadRequest, "owner_id and offering_id are required")
		return
	}

	o, err := h.orders.Create(r.Context(), req.OwnerID, req.OfferingID)
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, toOrderView(o))
}

// GetOrder returns an order by ID.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toOrderView(o))
}

type submitOrderRequest struct {
	Billing *payment.BillingAddress `json:"billing,omitempty"`
}

type submitOrderResponse struct {
	Order   orderView    `json:"order"`
	Payment *paymentView `json:"payment,omitempty"`
}

type paymentView struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubmitOrder freezes the order's plan and opens the first payment.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.orders.Submit(r.Context(), r.PathValue("id"), req.Billing)
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	resp := submitOrderResponse{Order: toOrderView(result.Order)}
	if result.Payment != nil {
		resp.Payment = &paymentView{ID: result.Payment.ID, Payload: result.Payment.Payload}
	}
	respondJSON(w, r, http.StatusOK, resp)
}

type abortOrderRequest struct {
	PaymentID string `json:"payment_id,omitempty"`
}

// AbortOrder abandons a submission attempt before any payment settles.
func (h *Handler) AbortOrder(w http.ResponseWriter, r *http.Request) {
	var req abortOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.orders.Abort(r.Context(), r.PathValue("id"), req.PaymentID); err != nil {
		h.respondOrderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelOrder withdraws the order and releases its seat.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Cancel(r.Context(), r.PathValue("id")); err != nil {
		h.respondOrderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateOrder confirms payment proven through an external channel.
// Operator only.
func (h *Handler) ValidateOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Validate(r.Context(), r.PathValue("id")); err != nil {
		h.respondOrderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignatureLink returns a signing invitation for the order's contract.
func (h *Handler) SignatureLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.contracts.InvitationLink(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"link": link})
}

// respondOrderError maps domain errors onto HTTP statuses.
func (h *Handler) respondOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, offering.ErrNotFound),
		errors.Is(err, contract.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())

	case errors.Is(err, order.ErrDuplicateOrder):
		respondError(w, r, http.StatusConflict, err.Error())

	case errors.Is(err, order.ErrBillingAddressRequired):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())

	default:
		var (
			guardErr   *order.GuardError
			amountErr  *order.AmountMismatchError
			instErr    *order.InstallmentNotFoundError
			noTierErr  *schedule.NoTierError
			createErr  *payment.CreatePaymentError
			unknownErr *payment.UnknownOrderError
		)
		switch {
		case errors.As(err, &guardErr):
			respondError(w, r, http.StatusConflict, guardErr.Error())
		case errors.As(err, &instErr), errors.As(err, &unknownErr):
			respondError(w, r, http.StatusNotFound, err.Error())
		case errors.As(err, &amountErr), errors.As(err, &noTierErr), errors.As(err, &createErr):
			respondError(w, r, http.StatusUnprocessableEntity, err.Error())
		default:
			zctx.From(r.Context()).Error("Request failed", zap.Error(err))
			respondError(w, r, http.StatusInternalServerError, "internal error")
		}
	}
}
